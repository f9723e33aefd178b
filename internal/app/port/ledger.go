package port

import (
	"context"

	"portfolio_sync/internal/domain/entity"
)

// LedgerClient is the read-only ledger collaborator. Implementations retry transient failures
// internally; returned errors wrap entity.ErrTransport or entity.ErrMalformedRecord.
type LedgerClient interface {
	// GetBalance returns the native balance of address in base units.
	GetBalance(ctx context.Context, address string) (uint64, error)

	// GetTokenAccountsByOwner returns the token accounts of programID whose owner field equals owner.
	// Accounts that fail to decode are returned with Err set.
	GetTokenAccountsByOwner(ctx context.Context, owner, programID string) ([]entity.TokenAccount, error)

	// GetSignaturesForAddress lists signatures newest first, strictly older than before when set.
	GetSignaturesForAddress(ctx context.Context, address, before string, limit int) ([]entity.SignatureInfo, error)

	// GetParsedTransaction fetches and decodes one transaction.
	GetParsedTransaction(ctx context.Context, signature string) (*entity.ParsedTransaction, error)
}

// NetworkDefinitionProvider provides known network definitions.
type NetworkDefinitionProvider interface {
	GetAllNetworkDefinitions() []entity.NetworkDefinition

	// GetNetworkDefinitionByName returns the definition whose identifier or name matches.
	GetNetworkDefinitionByName(nameOrIdentifier string) (entity.NetworkDefinition, bool)
}
