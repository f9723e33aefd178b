package port

import "portfolio_sync/internal/domain/entity"

// TokenProvider resolves token registry entries.
type TokenProvider interface {
	GetToken(mint string) (entity.TokenInfo, bool)
	GetTokens() []entity.TokenInfo
}

// WalletProvider lists the owners to track from startup.
type WalletProvider interface {
	GetWallets() ([]entity.Wallet, error)
}
