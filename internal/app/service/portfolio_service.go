package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"portfolio_sync/internal/app/port"
	"portfolio_sync/internal/domain/entity"
	"portfolio_sync/internal/pkg/metrics"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// PortfolioServiceImpl implements port.PortfolioService.
// It owns the latest account set per owner and the latest snapshot per (owner, currency).
type PortfolioServiceImpl struct {
	discoverer          port.AccountDiscoverer
	quotes              port.QuoteCache
	logger              port.Logger
	metrics             port.Metrics
	defaultCurrency     string
	maxConcurrentQuotes int

	mu        sync.RWMutex
	accounts  map[string][]entity.Account
	snapshots map[string]entity.PortfolioSnapshot
}

// NewPortfolioService creates a new instance of PortfolioServiceImpl.
func NewPortfolioService(
	d port.AccountDiscoverer,
	q port.QuoteCache,
	l port.Logger,
	m port.Metrics,
	defaultCurrency string,
	maxConcurrentQuotes int,
) port.PortfolioService {
	if maxConcurrentQuotes <= 0 {
		maxConcurrentQuotes = 1
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &PortfolioServiceImpl{
		discoverer:          d,
		quotes:              q,
		logger:              l,
		metrics:             m,
		defaultCurrency:     strings.ToLower(defaultCurrency),
		maxConcurrentQuotes: maxConcurrentQuotes,
		accounts:            make(map[string][]entity.Account),
		snapshots:           make(map[string]entity.PortfolioSnapshot),
	}
}

func snapshotKey(owner, currency string) string {
	return owner + "|" + currency
}

func (s *PortfolioServiceImpl) currency(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return s.defaultCurrency
	}
	return c
}

// Snapshot implements port.PortfolioService.
func (s *PortfolioServiceImpl) Snapshot(ctx context.Context, owner, currency string) (entity.PortfolioSnapshot, error) {
	currency = s.currency(currency)

	accounts, err := s.discoverer.Discover(ctx, owner)
	if err != nil {
		return entity.PortfolioSnapshot{}, err
	}

	s.mu.Lock()
	s.accounts[owner] = accounts
	s.mu.Unlock()

	return s.value(ctx, owner, currency, accounts), nil
}

// Current implements port.PortfolioService.
func (s *PortfolioServiceImpl) Current(owner, currency string) (entity.PortfolioSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[snapshotKey(owner, s.currency(currency))]
	return snap, ok
}

// Revalue implements port.PortfolioService. Without held accounts it falls back to a full Snapshot.
func (s *PortfolioServiceImpl) Revalue(ctx context.Context, owner, currency string) (entity.PortfolioSnapshot, error) {
	currency = s.currency(currency)

	s.mu.RLock()
	accounts, ok := s.accounts[owner]
	s.mu.RUnlock()
	if !ok {
		return s.Snapshot(ctx, owner, currency)
	}
	return s.value(ctx, owner, currency, accounts), nil
}

// TrackedAccounts implements port.PortfolioService.
func (s *PortfolioServiceImpl) TrackedAccounts(ctx context.Context, owner string) ([]entity.Account, error) {
	s.mu.RLock()
	accounts, ok := s.accounts[owner]
	s.mu.RUnlock()
	if ok {
		return append([]entity.Account(nil), accounts...), nil
	}

	accounts, err := s.discoverer.Discover(ctx, owner)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.accounts[owner] = accounts
	s.mu.Unlock()
	return append([]entity.Account(nil), accounts...), nil
}

// value prices accounts and stores the resulting snapshot. Quote failures leave the holding unpriced.
func (s *PortfolioServiceImpl) value(ctx context.Context, owner, currency string, accounts []entity.Account) entity.PortfolioSnapshot {
	holdings := mergeHoldings(accounts)

	var g errgroup.Group
	g.SetLimit(s.maxConcurrentQuotes)
	for i := range holdings {
		i := i
		g.Go(func() error {
			h := &holdings[i]
			q, err := s.quotes.Get(ctx, h.AssetID, currency)
			if err != nil {
				if errors.Is(err, entity.ErrNotFound) {
					s.logger.Debug("No quote for holding", "owner", owner, "asset", h.AssetID, "currency", currency)
				} else {
					s.logger.Warn("Quote unavailable for holding", "owner", owner, "asset", h.AssetID, "currency", currency, "error", err)
				}
				return nil
			}
			h.Quote = &q
			h.Value = h.Balance.Mul(q.Price)
			return nil
		})
	}
	_ = g.Wait()

	snap := entity.PortfolioSnapshot{
		Owner:      owner,
		Currency:   currency,
		TotalValue: totalValue(holdings),
		Holdings:   holdings,
	}

	unpriced := snap.Unpriced()
	s.metrics.UnpricedHoldings(owner, len(unpriced))
	if len(unpriced) > 0 {
		s.logger.Info("Snapshot has unpriced holdings", "owner", owner, "currency", currency, "assets", unpriced)
	}

	s.mu.Lock()
	s.snapshots[snapshotKey(owner, currency)] = snap
	s.mu.Unlock()
	return snap
}

// mergeHoldings builds one holding per asset, native first and then by asset id.
func mergeHoldings(accounts []entity.Account) []entity.Holding {
	byAsset := make(map[string]int, len(accounts))
	holdings := make([]entity.Holding, 0, len(accounts))
	for _, acc := range accounts {
		if i, ok := byAsset[acc.AssetID]; ok {
			holdings[i].Balance = holdings[i].Balance.Add(acc.Balance)
			continue
		}
		byAsset[acc.AssetID] = len(holdings)
		holdings = append(holdings, entity.Holding{
			AssetID: acc.AssetID,
			Account: acc.Address,
			Balance: acc.Balance,
			Value:   decimal.Zero,
		})
	}
	sort.SliceStable(holdings, func(i, j int) bool {
		ni, nj := holdings[i].AssetID == entity.NativeAssetID, holdings[j].AssetID == entity.NativeAssetID
		if ni != nj {
			return ni
		}
		return holdings[i].AssetID < holdings[j].AssetID
	})
	return holdings
}

func totalValue(holdings []entity.Holding) decimal.Decimal {
	total := decimal.Zero
	for _, h := range holdings {
		if h.Priced() {
			total = total.Add(h.Value)
		}
	}
	return total
}
