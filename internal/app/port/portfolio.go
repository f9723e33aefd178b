package port

import (
	"context"

	"portfolio_sync/internal/domain/entity"
)

// AccountDiscoverer enumerates the canonical accounts of an owner.
type AccountDiscoverer interface {
	// Discover returns the native account followed by canonical token accounts.
	// Fails with entity.ErrTransport when the ledger cannot be queried.
	Discover(ctx context.Context, owner string) ([]entity.Account, error)
}

// PortfolioService aggregates balances and quotes into snapshots.
type PortfolioService interface {
	// Snapshot discovers accounts and prices them in currency.
	Snapshot(ctx context.Context, owner, currency string) (entity.PortfolioSnapshot, error)

	// Current returns the last snapshot built for (owner, currency).
	Current(owner, currency string) (entity.PortfolioSnapshot, bool)

	// Revalue recomputes the last snapshot of (owner, currency) from the held accounts and current quotes.
	Revalue(ctx context.Context, owner, currency string) (entity.PortfolioSnapshot, error)

	// TrackedAccounts returns the accounts of the last discovery pass for owner, discovering if none.
	TrackedAccounts(ctx context.Context, owner string) ([]entity.Account, error)
}

// HistoryService paginates and reconciles transaction history.
type HistoryService interface {
	// NextPage returns the page of records strictly older than cursor. An empty cursor starts at the newest.
	NextPage(ctx context.Context, owner, cursor string) (entity.HistoryPage, error)

	// LoadMore appends the next page to the loaded history of owner.
	// On failure the previously loaded pages are kept and the call may be retried.
	LoadMore(ctx context.Context, owner string) (entity.HistoryPage, error)

	// Loaded returns every record loaded so far for owner, and whether history is exhausted.
	Loaded(owner string) ([]entity.TransactionRecord, bool)
}

// Scheduler drives periodic refresh per session.
type Scheduler interface {
	StartSession(owner, currency string) (string, error)
	StopSession(id string) bool
	Sessions() []SessionInfo
	StopAll()
}

// SessionInfo describes a running polling session.
type SessionInfo struct {
	ID       string `json:"id"`
	Owner    string `json:"owner"`
	Currency string `json:"currency"`
}
