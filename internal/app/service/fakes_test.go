package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"portfolio_sync/internal/app/port"
	"portfolio_sync/internal/domain/entity"
	"portfolio_sync/internal/pkg/metrics"

	"github.com/shopspring/decimal"
)

var (
	_ port.QuoteCache        = (*quoteCacheImpl)(nil)
	_ port.PortfolioService  = (*PortfolioServiceImpl)(nil)
	_ port.HistoryService    = (*HistoryServiceImpl)(nil)
	_ port.Scheduler         = (*PollingScheduler)(nil)
	_ port.AccountDiscoverer = (*accountDiscovererImpl)(nil)
)

const (
	testOwner = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	usdcMint  = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	bonkMint  = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

	// associated USDC account of testOwner under the classic token program
	usdcATA = "FGETo8T8wMcN2wCjav8VK6eh3dLk63evNDPxzLSJra8B"
)

// recordingMetrics counts the skipped-account metrics and discards the rest.
type recordingMetrics struct {
	metrics.Nop
	mu           sync.Mutex
	nonCanonical map[bool]int
}

func (m *recordingMetrics) NonCanonicalAccount(mintCovered bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nonCanonical == nil {
		m.nonCanonical = make(map[bool]int)
	}
	m.nonCanonical[mintCovered]++
}

func (m *recordingMetrics) nonCanonicalCount(mintCovered bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonCanonical[mintCovered]
}

// fakeLedger is an in-memory port.LedgerClient.
type fakeLedger struct {
	mu            sync.Mutex
	balance       uint64
	balanceErr    error
	tokenAccounts map[string][]entity.TokenAccount
	accountsErr   error
	signatures    []entity.SignatureInfo
	sigErr        error
	sigGate       chan struct{}
	txs           map[string]*entity.ParsedTransaction
	txErrs        map[string]error

	balanceCalls atomic.Int32
	accountCalls atomic.Int32
	sigCalls     atomic.Int32
	txCalls      atomic.Int32
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		tokenAccounts: make(map[string][]entity.TokenAccount),
		txs:           make(map[string]*entity.ParsedTransaction),
		txErrs:        make(map[string]error),
	}
}

func (f *fakeLedger) GetBalance(_ context.Context, _ string) (uint64, error) {
	f.balanceCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.balanceErr
}

func (f *fakeLedger) GetTokenAccountsByOwner(_ context.Context, _ string, programID string) ([]entity.TokenAccount, error) {
	f.accountCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountsErr != nil {
		return nil, f.accountsErr
	}
	return append([]entity.TokenAccount(nil), f.tokenAccounts[programID]...), nil
}

func (f *fakeLedger) GetSignaturesForAddress(ctx context.Context, _ string, before string, limit int) ([]entity.SignatureInfo, error) {
	f.sigCalls.Add(1)
	if f.sigGate != nil {
		select {
		case <-f.sigGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sigErr != nil {
		return nil, f.sigErr
	}
	start := 0
	if before != "" {
		start = len(f.signatures)
		for i, s := range f.signatures {
			if s.Signature == before {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.signatures) {
		end = len(f.signatures)
	}
	return append([]entity.SignatureInfo(nil), f.signatures[start:end]...), nil
}

func (f *fakeLedger) GetParsedTransaction(_ context.Context, signature string) (*entity.ParsedTransaction, error) {
	f.txCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.txErrs[signature]; ok {
		return nil, err
	}
	tx, ok := f.txs[signature]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", entity.ErrMalformedRecord, entity.ErrNotFound, signature)
	}
	cp := *tx
	return &cp, nil
}

// fakePrices is an in-memory port.PriceClient.
type fakePrices struct {
	mu        sync.Mutex
	prices    map[string]decimal.Decimal
	err       error
	delay     time.Duration
	maxBatch  int
	requested [][]string

	calls atomic.Int32
}

func newFakePrices(prices map[string]string) *fakePrices {
	f := &fakePrices{prices: make(map[string]decimal.Decimal), maxBatch: 30}
	for id, p := range prices {
		f.prices[id] = decimal.RequireFromString(p)
	}
	return f
}

func (f *fakePrices) setPrice(id, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[id] = decimal.RequireFromString(price)
}

func (f *fakePrices) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakePrices) FetchPrices(ctx context.Context, _ string, ids []string) (map[string]entity.PriceObservation, error) {
	f.calls.Add(1)
	f.mu.Lock()
	delay := f.delay
	f.requested = append(f.requested, append([]string(nil), ids...))
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]entity.PriceObservation)
	for _, id := range ids {
		if p, ok := f.prices[id]; ok {
			out[id] = entity.PriceObservation{AssetID: id, Price: p, Meta: entity.DisplayMeta{Symbol: id}}
		}
	}
	return out, nil
}

func (f *fakePrices) MaxBatchSize() int {
	return f.maxBatch
}

func (f *fakePrices) requests() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.requested...)
}

// testClock is a settable clock.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// staticQuotes is a port.QuoteCache over a fixed price table.
type staticQuotes struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	errs   map[string]error
	calls  atomic.Int32
}

func newStaticQuotes(prices map[string]string) *staticQuotes {
	q := &staticQuotes{prices: make(map[string]decimal.Decimal), errs: make(map[string]error)}
	for id, p := range prices {
		q.prices[id] = decimal.RequireFromString(p)
	}
	return q
}

func (q *staticQuotes) Get(_ context.Context, assetID, currency string) (entity.Quote, error) {
	q.calls.Add(1)
	q.mu.Lock()
	defer q.mu.Unlock()
	if err, ok := q.errs[assetID]; ok {
		return entity.Quote{}, err
	}
	p, ok := q.prices[assetID]
	if !ok {
		return entity.Quote{}, entity.ErrNotFound
	}
	return entity.Quote{AssetID: assetID, Currency: currency, Price: p}, nil
}

func (q *staticQuotes) Peek(assetID, currency string) (entity.Quote, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.prices[assetID]
	return entity.Quote{AssetID: assetID, Currency: currency, Price: p}, ok
}

func (q *staticQuotes) Refresh(context.Context, []entity.QuoteKey) error {
	return nil
}

func (q *staticQuotes) Keys() []entity.QuoteKey {
	return nil
}
