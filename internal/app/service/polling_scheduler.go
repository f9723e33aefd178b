package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"portfolio_sync/internal/app/port"
	"portfolio_sync/internal/domain/entity"
	"portfolio_sync/internal/infrastructure/configloader"
	"portfolio_sync/internal/pkg/metrics"
	"portfolio_sync/internal/pkg/solana"

	"github.com/google/uuid"
)

type pollingSession struct {
	info   port.SessionInfo
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// PollingScheduler implements port.Scheduler.
//
// Each session runs a balance poller and a price poller on independent timers. A poller waits
// its interval after a fetch completes before starting the next one, so fetches of one resource
// never overlap.
type PollingScheduler struct {
	portfolio port.PortfolioService
	quotes    port.QuoteCache
	cfg       configloader.PollingConfig
	logger    port.Logger
	metrics   port.Metrics

	mu       sync.Mutex
	sessions map[string]*pollingSession
	byKey    map[string]string
}

// NewPollingScheduler creates a new instance of PollingScheduler.
func NewPollingScheduler(
	portfolio port.PortfolioService,
	quotes port.QuoteCache,
	cfg configloader.PollingConfig,
	l port.Logger,
	m port.Metrics,
) port.Scheduler {
	if m == nil {
		m = metrics.Nop{}
	}
	return &PollingScheduler{
		portfolio: portfolio,
		quotes:    quotes,
		cfg:       cfg,
		logger:    l,
		metrics:   m,
		sessions:  make(map[string]*pollingSession),
		byKey:     make(map[string]string),
	}
}

// StartSession implements port.Scheduler. Starting a session that already runs for
// (owner, currency) returns the existing id.
func (s *PollingScheduler) StartSession(owner, currency string) (string, error) {
	if !solana.IsValidAddress(owner) {
		return "", fmt.Errorf("%w: owner %q", entity.ErrInvalidAddress, owner)
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	key := snapshotKey(owner, currency)

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[key]; ok {
		return id, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &pollingSession{
		info:   port.SessionInfo{ID: uuid.NewString(), Owner: owner, Currency: currency},
		cancel: cancel,
	}
	s.sessions[sess.info.ID] = sess
	s.byKey[key] = sess.info.ID

	sess.wg.Add(2)
	go s.poll(ctx, &sess.wg, "balance", 0, s.cfg.BalanceRefreshInterval, func(ctx context.Context) error {
		_, err := s.portfolio.Snapshot(ctx, owner, currency)
		return err
	})
	go s.poll(ctx, &sess.wg, "price", s.cfg.PriceRefreshInterval, s.cfg.PriceRefreshInterval, func(ctx context.Context) error {
		return s.refreshPrices(ctx, owner, currency)
	})

	s.logger.Info("Polling session started", "session", sess.info.ID, "owner", owner, "currency", currency)
	return sess.info.ID, nil
}

// StopSession implements port.Scheduler. It returns once both pollers have exited.
func (s *PollingScheduler) StopSession(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
		delete(s.byKey, snapshotKey(sess.info.Owner, sess.info.Currency))
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	sess.cancel()
	sess.wg.Wait()
	s.logger.Info("Polling session stopped", "session", id, "owner", sess.info.Owner)
	return true
}

// Sessions implements port.Scheduler.
func (s *PollingScheduler) Sessions() []port.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]port.SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}

// StopAll implements port.Scheduler.
func (s *PollingScheduler) StopAll() {
	for _, info := range s.Sessions() {
		s.StopSession(info.ID)
	}
}

// refreshPrices revalidates the quotes of the owner's last snapshot and revalues it.
func (s *PollingScheduler) refreshPrices(ctx context.Context, owner, currency string) error {
	snap, ok := s.portfolio.Current(owner, currency)
	if !ok {
		return nil
	}
	keys := make([]entity.QuoteKey, 0, len(snap.Holdings))
	for _, h := range snap.Holdings {
		keys = append(keys, entity.QuoteKey{AssetID: h.AssetID, Currency: snap.Currency})
	}
	if err := s.quotes.Refresh(ctx, keys); err != nil {
		s.logger.Warn("Quote refresh incomplete", "owner", owner, "currency", currency, "error", err)
	}
	_, err := s.portfolio.Revalue(ctx, owner, currency)
	return err
}

func (s *PollingScheduler) poll(
	ctx context.Context,
	wg *sync.WaitGroup,
	resource string,
	initialDelay, interval time.Duration,
	fetch func(context.Context) error,
) {
	defer wg.Done()

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := time.Now()
		fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		err := fetch(fctx)
		cancel()
		s.metrics.PollDuration(resource, time.Since(start))
		if err != nil && ctx.Err() == nil {
			s.logger.Warn("Scheduled refresh failed", "resource", resource, "error", err)
		}

		timer.Reset(interval)
	}
}
