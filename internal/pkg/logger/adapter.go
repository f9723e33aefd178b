package logger

import (
	"portfolio_sync/internal/app/port"

	"go.uber.org/zap"
)

// zapAdapter implements port.Logger on top of a sugared zap logger.
type zapAdapter struct {
	s *zap.SugaredLogger
}

// NewAdapter wraps l as a port.Logger. Arguments are alternating key/value pairs.
func NewAdapter(l *zap.Logger) port.Logger {
	return &zapAdapter{s: l.Sugar()}
}

// NewNop returns a port.Logger that discards everything.
func NewNop() port.Logger {
	return NewAdapter(zap.NewNop())
}

func (a *zapAdapter) Info(msg string, args ...any) {
	a.s.Infow(msg, args...)
}

func (a *zapAdapter) Debug(msg string, args ...any) {
	a.s.Debugw(msg, args...)
}

func (a *zapAdapter) Warn(msg string, args ...any) {
	a.s.Warnw(msg, args...)
}

func (a *zapAdapter) Error(msg string, args ...any) {
	a.s.Errorw(msg, args...)
}
