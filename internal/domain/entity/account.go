package entity

import "github.com/shopspring/decimal"

// NativeAssetID is the asset id of the ledger's native currency.
const NativeAssetID = "native"

// NativeDecimals is the number of decimal places of the native currency (lamports per unit).
const NativeDecimals = 9

// Account is one asset-holding account of an owner.
// The native balance is carried by a synthetic account whose address is the owner address.
type Account struct {
	Address   string          `json:"address"`
	Owner     string          `json:"owner"`
	AssetID   string          `json:"assetId"`
	Balance   decimal.Decimal `json:"balance"`
	Decimals  uint8           `json:"decimals"`
	ProgramID string          `json:"programId,omitempty"`
}

// IsNative reports whether the account holds the native asset.
func (a Account) IsNative() bool {
	return a.AssetID == NativeAssetID
}

// TokenAccount is a raw token account returned by a ledger filter query.
// Err is set when the account payload could not be decoded; the remaining fields are then partial.
type TokenAccount struct {
	Address   string
	Mint      string
	Owner     string
	Amount    decimal.Decimal
	Decimals  uint8
	ProgramID string
	Err       error
}
