package provider

import (
	"sort"
	"sync"

	"portfolio_sync/internal/app/port"
	"portfolio_sync/internal/domain/entity"
	"portfolio_sync/internal/infrastructure/tokenloader"
)

type tokenProviderImpl struct {
	registryFile string
	logger       port.Logger

	once   sync.Once
	err    error
	byMint map[string]entity.TokenInfo
}

// NewTokenProvider creates a TokenProvider backed by the registry file.
// The file is read on first use and cached.
func NewTokenProvider(registryFile string, logger port.Logger) port.TokenProvider {
	return &tokenProviderImpl{registryFile: registryFile, logger: logger}
}

func (p *tokenProviderImpl) load() {
	p.once.Do(func() {
		p.logger.Debug("Loading token registry", "path", p.registryFile)
		tokens, err := tokenloader.LoadTokens(p.registryFile, p.logger.Warn)
		if err != nil {
			p.logger.Error("Failed to load token registry", "path", p.registryFile, "error", err)
			p.err = err
			p.byMint = map[string]entity.TokenInfo{}
			return
		}
		p.byMint = make(map[string]entity.TokenInfo, len(tokens))
		for _, t := range tokens {
			p.byMint[t.Mint] = t
		}
		p.logger.Info("Token registry loaded", "count", len(tokens))
	})
}

// GetToken returns the registry entry of mint.
func (p *tokenProviderImpl) GetToken(mint string) (entity.TokenInfo, bool) {
	p.load()
	t, ok := p.byMint[mint]
	return t, ok
}

// GetTokens returns all registry entries ordered by mint.
func (p *tokenProviderImpl) GetTokens() []entity.TokenInfo {
	p.load()
	out := make([]entity.TokenInfo, 0, len(p.byMint))
	for _, t := range p.byMint {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mint < out[j].Mint })
	return out
}
