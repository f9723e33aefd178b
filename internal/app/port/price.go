package port

import (
	"context"

	"portfolio_sync/internal/domain/entity"
)

// PriceClient is the price collaborator.
type PriceClient interface {
	// FetchPrices returns observations for the given asset ids in currency.
	// Ids the source does not know are absent from the result.
	FetchPrices(ctx context.Context, currency string, assetIDs []string) (map[string]entity.PriceObservation, error)

	// MaxBatchSize is the largest number of ids accepted by one FetchPrices call.
	MaxBatchSize() int
}

// QuoteCache serves quotes with stale-while-revalidate semantics.
type QuoteCache interface {
	// Get returns the quote for (assetID, currency). Stale quotes are returned with Stale set.
	// Fails with entity.ErrUnavailable when no value could be produced and entity.ErrNotFound
	// when the source does not know the asset.
	Get(ctx context.Context, assetID, currency string) (entity.Quote, error)

	// Peek returns the cached quote without triggering any fetch.
	Peek(assetID, currency string) (entity.Quote, bool)

	// Refresh forces a revalidation of the given keys and waits for it.
	Refresh(ctx context.Context, keys []entity.QuoteKey) error

	// Keys lists the keys currently held.
	Keys() []entity.QuoteKey
}
