package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"portfolio_sync/internal/app/port"
	"portfolio_sync/internal/domain/entity"
	"portfolio_sync/internal/infrastructure/configloader"
	"portfolio_sync/internal/pkg/metrics"
	"portfolio_sync/internal/pkg/solana"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// historyBook is the history loaded so far for one owner.
type historyBook struct {
	records []entity.TransactionRecord
	seen    map[string]struct{}
	cursor  string
	done    bool
}

// HistoryServiceImpl implements port.HistoryService.
type HistoryServiceImpl struct {
	ledger        port.LedgerClient
	portfolio     port.PortfolioService
	quotes        port.QuoteCache
	logger        port.Logger
	metrics       port.Metrics
	pageSize      int
	maxConcurrent int
	loadTimeout   time.Duration
	currency      string

	loads singleflight.Group
	mu    sync.Mutex
	books map[string]*historyBook
}

// NewHistoryService creates a new instance of HistoryServiceImpl.
// Record values are expressed in currency.
func NewHistoryService(
	ledger port.LedgerClient,
	portfolio port.PortfolioService,
	quotes port.QuoteCache,
	l port.Logger,
	m port.Metrics,
	cfg configloader.HistoryConfig,
	currency string,
) port.HistoryService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 15
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = 1
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 30 * time.Second
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &HistoryServiceImpl{
		ledger:        ledger,
		portfolio:     portfolio,
		quotes:        quotes,
		logger:        l,
		metrics:       m,
		pageSize:      cfg.PageSize,
		maxConcurrent: cfg.MaxConcurrentFetches,
		loadTimeout:   cfg.LoadTimeout,
		currency:      strings.ToLower(currency),
		books:         make(map[string]*historyBook),
	}
}

// NextPage implements port.HistoryService.
func (s *HistoryServiceImpl) NextPage(ctx context.Context, owner, cursor string) (entity.HistoryPage, error) {
	if !solana.IsValidAddress(owner) {
		return entity.HistoryPage{}, fmt.Errorf("%w: owner %q", entity.ErrInvalidAddress, owner)
	}

	listed, err := s.ledger.GetSignaturesForAddress(ctx, owner, cursor, s.pageSize)
	if err != nil {
		return entity.HistoryPage{}, fmt.Errorf("%w: signatures of %s before %q: %w", entity.ErrTransport, owner, cursor, err)
	}

	page := entity.HistoryPage{
		Records: []entity.TransactionRecord{},
		Done:    len(listed) < s.pageSize,
	}
	if len(listed) > 0 {
		page.NextCursor = listed[len(listed)-1].Signature
	}

	sigs := make([]entity.SignatureInfo, 0, len(listed))
	seen := make(map[string]struct{}, len(listed))
	for _, sig := range listed {
		if sig.Signature == cursor {
			continue
		}
		if _, dup := seen[sig.Signature]; dup {
			continue
		}
		seen[sig.Signature] = struct{}{}
		sigs = append(sigs, sig)
	}
	if len(sigs) == 0 {
		return page, nil
	}

	tracked, err := s.portfolio.TrackedAccounts(ctx, owner)
	if err != nil {
		return entity.HistoryPage{}, err
	}

	records := make([]entity.TransactionRecord, len(sigs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)
	for i, sig := range sigs {
		i, sig := i, sig
		g.Go(func() error {
			tx, err := s.ledger.GetParsedTransaction(gctx, sig.Signature)
			if err != nil {
				if errors.Is(err, entity.ErrMalformedRecord) {
					s.metrics.MalformedRecord("transaction")
					s.logger.Warn("Malformed transaction", "owner", owner, "signature", sig.Signature, "error", err)
					records[i] = MalformedTransaction(sig.Signature, sig.BlockTime, !sig.Failed, err)
					return nil
				}
				return fmt.Errorf("%w: transaction %s: %w", entity.ErrTransport, sig.Signature, err)
			}
			if tx.Signature == "" {
				tx.Signature = sig.Signature
			}
			if tx.BlockTime == nil {
				tx.BlockTime = sig.BlockTime
			}
			records[i] = Reconcile(tx, trackedFor(owner, tracked, tx))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("History page failed", "owner", owner, "cursor", cursor, "error", err)
		return entity.HistoryPage{}, err
	}

	s.valueRecords(ctx, records)
	page.Records = records
	return page, nil
}

// valueRecords attaches delta × current quote to each record whose asset can be priced.
func (s *HistoryServiceImpl) valueRecords(ctx context.Context, records []entity.TransactionRecord) {
	if s.quotes == nil || s.currency == "" {
		return
	}
	for i := range records {
		rec := &records[i]
		if rec.Malformed || rec.Delta.IsZero() {
			continue
		}
		q, err := s.quotes.Get(ctx, rec.AssetID, s.currency)
		if err != nil {
			s.logger.Debug("Record left unvalued", "signature", rec.Signature, "asset", rec.AssetID, "error", err)
			continue
		}
		v := rec.Delta.Mul(q.Price)
		rec.Value = &v
		rec.Currency = s.currency
	}
}

// trackedFor widens the tracked set with owner token accounts that tx touches but discovery did not
// report, such as accounts opened or closed since. Only canonical associated accounts are added.
func trackedFor(owner string, tracked []entity.Account, tx *entity.ParsedTransaction) []entity.Account {
	known := make(map[string]struct{}, len(tracked))
	for _, acc := range tracked {
		known[acc.Address] = struct{}{}
	}

	out := tracked
	widened := false
	for _, balances := range [][]entity.TokenBalance{tx.PreTokenBalances, tx.PostTokenBalances} {
		for _, b := range balances {
			if b.Owner != owner || b.Mint == "" || b.AccountIndex < 0 || b.AccountIndex >= len(tx.AccountKeys) {
				continue
			}
			address := tx.AccountKeys[b.AccountIndex]
			if _, ok := known[address]; ok {
				continue
			}
			ata, err := solana.FindAssociatedTokenAddress(owner, b.Mint, b.ProgramID)
			if err != nil || ata != address {
				continue
			}
			if !widened {
				out = append([]entity.Account(nil), tracked...)
				widened = true
			}
			known[address] = struct{}{}
			out = append(out, entity.Account{
				Address:   address,
				Owner:     owner,
				AssetID:   b.Mint,
				Decimals:  b.Decimals,
				ProgramID: b.ProgramID,
			})
		}
	}
	return out
}

func (s *HistoryServiceImpl) book(owner string) *historyBook {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[owner]
	if !ok {
		b = &historyBook{seen: make(map[string]struct{})}
		s.books[owner] = b
	}
	return b
}

// LoadMore implements port.HistoryService. Concurrent calls for the same owner share one load.
func (s *HistoryServiceImpl) LoadMore(ctx context.Context, owner string) (entity.HistoryPage, error) {
	ch := s.loads.DoChan(owner, func() (any, error) {
		// shared by every caller joining this load, so no single caller's cancellation applies
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		b := s.book(owner)

		s.mu.Lock()
		cursor, done := b.cursor, b.done
		s.mu.Unlock()
		if done {
			return entity.HistoryPage{Records: []entity.TransactionRecord{}, NextCursor: cursor, Done: true}, nil
		}

		page, err := s.NextPage(lctx, owner, cursor)
		if err != nil {
			return entity.HistoryPage{}, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		fresh := make([]entity.TransactionRecord, 0, len(page.Records))
		for _, rec := range page.Records {
			if _, dup := b.seen[rec.Signature]; dup {
				continue
			}
			b.seen[rec.Signature] = struct{}{}
			fresh = append(fresh, rec)
		}
		b.records = append(b.records, fresh...)
		if page.NextCursor != "" {
			b.cursor = page.NextCursor
		}
		b.done = page.Done
		page.Records = fresh
		return page, nil
	})
	select {
	case <-ctx.Done():
		return entity.HistoryPage{}, fmt.Errorf("%w: waiting for history of %s: %w", entity.ErrUnavailable, owner, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return entity.HistoryPage{}, r.Err
		}
		return r.Val.(entity.HistoryPage), nil
	}
}

// Loaded implements port.HistoryService.
func (s *HistoryServiceImpl) Loaded(owner string) ([]entity.TransactionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[owner]
	if !ok {
		return []entity.TransactionRecord{}, false
	}
	return append([]entity.TransactionRecord{}, b.records...), b.done
}
