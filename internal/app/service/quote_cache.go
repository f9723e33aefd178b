package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"portfolio_sync/internal/app/port"
	"portfolio_sync/internal/domain/entity"
	"portfolio_sync/internal/infrastructure/configloader"
	"portfolio_sync/internal/pkg/metrics"
	"portfolio_sync/internal/pkg/utils"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// quoteEntry is what the store holds per key. Missing marks an id the source does not know.
type quoteEntry struct {
	key     entity.QuoteKey
	quote   entity.Quote
	missing bool
}

type batchResult struct {
	quote entity.Quote
	err   error
}

// quoteBatch collects ids of one currency requested within the batch window.
type quoteBatch struct {
	waiters   map[string][]chan batchResult
	scheduled bool
}

// quoteCacheImpl implements port.QuoteCache.
//
// Entries live in the store for the stale retention period; freshness is judged from FetchedAt
// against the TTL. Fetches for one key are collapsed through singleflight, and fetches of one
// currency issued within the batch window share a single upstream call.
type quoteCacheImpl struct {
	client  port.PriceClient
	cfg     configloader.QuoteCacheConfig
	logger  port.Logger
	metrics port.Metrics
	now     func() time.Time

	store *cache.Cache
	group singleflight.Group

	attemptMu   sync.Mutex
	lastAttempt map[entity.QuoteKey]time.Time

	batchMu sync.Mutex
	batches map[string]*quoteBatch
}

// QuoteCacheOption configures the quote cache.
type QuoteCacheOption func(*quoteCacheImpl)

// WithQuoteClock overrides the clock used for freshness checks.
func WithQuoteClock(now func() time.Time) QuoteCacheOption {
	return func(c *quoteCacheImpl) {
		c.now = now
	}
}

// WithQuoteMetrics sets the metrics sink.
func WithQuoteMetrics(m port.Metrics) QuoteCacheOption {
	return func(c *quoteCacheImpl) {
		c.metrics = m
	}
}

// NewQuoteCache creates a new instance of the quote cache.
func NewQuoteCache(client port.PriceClient, cfg configloader.QuoteCacheConfig, l port.Logger, opts ...QuoteCacheOption) port.QuoteCache {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 1
	}
	if cfg.StaleRetention < cfg.CacheTTL {
		cfg.StaleRetention = cfg.CacheTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}

	c := &quoteCacheImpl{
		client:      client,
		cfg:         cfg,
		logger:      l,
		metrics:     metrics.Nop{},
		now:         time.Now,
		store:       cache.New(cfg.StaleRetention, cfg.StaleRetention),
		lastAttempt: make(map[entity.QuoteKey]time.Time),
		batches:     make(map[string]*quoteBatch),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func normalizeKey(assetID, currency string) entity.QuoteKey {
	return entity.QuoteKey{AssetID: assetID, Currency: strings.ToLower(strings.TrimSpace(currency))}
}

// Get implements port.QuoteCache.
func (c *quoteCacheImpl) Get(ctx context.Context, assetID, currency string) (entity.Quote, error) {
	key := normalizeKey(assetID, currency)

	if e, ok := c.lookup(key); ok {
		if e.missing {
			c.metrics.QuoteLookup("fresh")
			return entity.Quote{}, fmt.Errorf("%w: no quote for %s", entity.ErrNotFound, key)
		}
		if e.quote.IsFresh(c.now(), c.cfg.CacheTTL) {
			c.metrics.QuoteLookup("fresh")
			return e.quote, nil
		}
		c.metrics.QuoteLookup("stale")
		c.revalidate(key)
		q := e.quote
		q.Stale = true
		return q, nil
	}

	c.metrics.QuoteLookup("miss")
	return c.await(ctx, key, false)
}

// Peek implements port.QuoteCache.
func (c *quoteCacheImpl) Peek(assetID, currency string) (entity.Quote, bool) {
	e, ok := c.lookup(normalizeKey(assetID, currency))
	if !ok || e.missing {
		return entity.Quote{}, false
	}
	q := e.quote
	q.Stale = !q.IsFresh(c.now(), c.cfg.CacheTTL)
	return q, true
}

// Refresh implements port.QuoteCache. Keys with an in-flight fetch join it instead of issuing another.
func (c *quoteCacheImpl) Refresh(ctx context.Context, keys []entity.QuoteKey) error {
	type outcome struct {
		key entity.QuoteKey
		err error
	}
	results := make(chan outcome, len(keys))
	for _, k := range keys {
		key := normalizeKey(k.AssetID, k.Currency)
		go func() {
			_, err := c.await(ctx, key, true)
			results <- outcome{key: key, err: err}
		}()
	}

	var errs []error
	for range keys {
		r := <-results
		if r.err != nil && !errors.Is(r.err, entity.ErrNotFound) {
			errs = append(errs, r.err)
		}
	}
	return errors.Join(errs...)
}

// Keys implements port.QuoteCache.
func (c *quoteCacheImpl) Keys() []entity.QuoteKey {
	items := c.store.Items()
	keys := make([]entity.QuoteKey, 0, len(items))
	for _, it := range items {
		if e, ok := it.Object.(quoteEntry); ok && !e.missing {
			keys = append(keys, e.key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func (c *quoteCacheImpl) lookup(key entity.QuoteKey) (quoteEntry, bool) {
	v, ok := c.store.Get(key.String())
	if !ok {
		return quoteEntry{}, false
	}
	e, ok := v.(quoteEntry)
	return e, ok
}

// revalidate starts a background fetch for key unless one ran within the dedup window.
// singleflight keeps it to one in-flight fetch per key.
func (c *quoteCacheImpl) revalidate(key entity.QuoteKey) {
	c.attemptMu.Lock()
	if last, ok := c.lastAttempt[key]; ok && c.now().Sub(last) < c.cfg.DedupWindow {
		c.attemptMu.Unlock()
		return
	}
	c.lastAttempt[key] = c.now()
	c.attemptMu.Unlock()

	c.logger.Debug("Revalidating stale quote", "key", key.String())
	c.group.DoChan(key.String(), func() (any, error) {
		return c.fetch(key, true)
	})
}

// await joins or starts the fetch for key and waits for its outcome or ctx.
func (c *quoteCacheImpl) await(ctx context.Context, key entity.QuoteKey, force bool) (entity.Quote, error) {
	ch := c.group.DoChan(key.String(), func() (any, error) {
		return c.fetch(key, force)
	})
	select {
	case <-ctx.Done():
		return entity.Quote{}, fmt.Errorf("%w: waiting for quote %s: %w", entity.ErrUnavailable, key, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return entity.Quote{}, r.Err
		}
		return r.Val.(entity.Quote), nil
	}
}

// fetch runs inside singleflight. Unless forced, a value stored by a fetch that completed just
// before this one started is reused.
func (c *quoteCacheImpl) fetch(key entity.QuoteKey, force bool) (entity.Quote, error) {
	if !force {
		if e, ok := c.lookup(key); ok && !e.missing && e.quote.IsFresh(c.now(), c.cfg.CacheTTL) {
			return e.quote, nil
		}
	}

	c.attemptMu.Lock()
	c.lastAttempt[key] = c.now()
	c.attemptMu.Unlock()

	r := <-c.enqueue(key)
	return r.quote, r.err
}

func (c *quoteCacheImpl) enqueue(key entity.QuoteKey) <-chan batchResult {
	ch := make(chan batchResult, 1)

	c.batchMu.Lock()
	defer c.batchMu.Unlock()

	b, ok := c.batches[key.Currency]
	if !ok {
		b = &quoteBatch{waiters: make(map[string][]chan batchResult)}
		c.batches[key.Currency] = b
	}
	b.waiters[key.AssetID] = append(b.waiters[key.AssetID], ch)
	if !b.scheduled {
		b.scheduled = true
		currency := key.Currency
		time.AfterFunc(c.cfg.BatchWindow, func() { c.flush(currency) })
	}
	return ch
}

func (c *quoteCacheImpl) flush(currency string) {
	c.batchMu.Lock()
	b := c.batches[currency]
	waiters := b.waiters
	b.waiters = make(map[string][]chan batchResult)
	b.scheduled = false
	c.batchMu.Unlock()

	ids := make([]string, 0, len(waiters))
	for id := range waiters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, chunk := range utils.BatchStrings(ids, c.client.MaxBatchSize()) {
		observations, err := c.fetchWithRetry(currency, chunk)
		for _, id := range chunk {
			res := c.settle(entity.QuoteKey{AssetID: id, Currency: currency}, observations, err)
			for _, w := range waiters[id] {
				w <- res
			}
		}
	}
}

// settle stores the outcome for one key and returns what its waiters receive.
// On upstream failure the previous entry is left untouched. An id left out of an answer only
// becomes a negative entry when no earlier quote exists; otherwise that quote is kept and served stale.
func (c *quoteCacheImpl) settle(key entity.QuoteKey, observations map[string]entity.PriceObservation, err error) batchResult {
	if err != nil {
		return batchResult{err: fmt.Errorf("%w: %s: %w", entity.ErrUnavailable, key, err)}
	}
	obs, ok := observations[key.AssetID]
	if !ok {
		if prev, found := c.lookup(key); found && !prev.missing {
			c.logger.Warn("Price source omitted a known asset, keeping last quote", "key", key.String())
			q := prev.quote
			q.Stale = !q.IsFresh(c.now(), c.cfg.CacheTTL)
			return batchResult{quote: q}
		}
		c.store.Set(key.String(), quoteEntry{key: key, missing: true}, c.cfg.CacheTTL)
		return batchResult{err: fmt.Errorf("%w: no quote for %s", entity.ErrNotFound, key)}
	}

	q := entity.Quote{
		AssetID:   key.AssetID,
		Currency:  key.Currency,
		Price:     obs.Price,
		FetchedAt: c.now(),
		Meta:      obs.Meta,
	}
	c.store.Set(key.String(), quoteEntry{key: key, quote: q}, cache.DefaultExpiration)
	return batchResult{quote: q}
}

func (c *quoteCacheImpl) fetchWithRetry(currency string, ids []string) (map[string]entity.PriceObservation, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryCount; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
		observations, err := c.client.FetchPrices(ctx, currency, ids)
		cancel()
		c.metrics.UpstreamFetch("price", err == nil)
		if err == nil {
			return observations, nil
		}

		lastErr = err
		c.logger.Warn("Price fetch failed", "currency", currency, "ids", len(ids), "attempt", attempt, "error", err)
		if attempt < c.cfg.RetryCount {
			time.Sleep(c.cfg.RetryDelay)
		}
	}
	c.logger.Error("Price fetch retries exhausted", "currency", currency, "ids", ids, "error", lastErr)
	return nil, lastErr
}
