package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies the net effect of a transaction on a wallet.
type TransactionType int

const (
	TransactionUnknown TransactionType = iota
	TransactionReceived
	TransactionTransferred
)

func (t TransactionType) String() string {
	switch t {
	case TransactionReceived:
		return "received"
	case TransactionTransferred:
		return "transferred"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t TransactionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// SignatureInfo is one entry of a signature listing, newest first.
type SignatureInfo struct {
	Signature string
	Slot      uint64
	BlockTime *time.Time
	Failed    bool
}

// TokenBalance is a token balance entry of a parsed transaction.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	ProgramID    string
	Amount       decimal.Decimal
	Decimals     uint8
}

// Instruction is the part of a parsed instruction the reconciler looks at.
type Instruction struct {
	ProgramID string
	Program   string
	Type      string
	Mint      string
}

// ParsedTransaction is a decoded ledger transaction.
// PreBalances and PostBalances are nil when the ledger omitted them.
type ParsedTransaction struct {
	Signature         string
	BlockTime         *time.Time
	Failed            bool
	AccountKeys       []string
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	Instructions      []Instruction
}

// AccountDelta is the balance change of one tracked account in one transaction.
type AccountDelta struct {
	Account     string          `json:"account"`
	AssetID     string          `json:"assetId"`
	PreBalance  decimal.Decimal `json:"preBalance"`
	PostBalance decimal.Decimal `json:"postBalance"`
}

// Change returns PostBalance - PreBalance.
func (d AccountDelta) Change() decimal.Decimal {
	return d.PostBalance.Sub(d.PreBalance)
}

// TransactionRecord is a reconciled transaction. It is never mutated after construction,
// apart from valuation which is attached before it is handed out.
type TransactionRecord struct {
	Signature     string           `json:"signature"`
	BlockTime     *time.Time       `json:"blockTime"`
	Succeeded     bool             `json:"succeeded"`
	Type          TransactionType  `json:"type"`
	AssetID       string           `json:"assetId"`
	Delta         decimal.Decimal  `json:"delta"`
	PostBalance   *decimal.Decimal `json:"postBalance"`
	Value         *decimal.Decimal `json:"value,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	AccountDeltas []AccountDelta   `json:"accountDeltas"`
	Malformed     bool             `json:"malformed,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

// HistoryPage is one page of reconciled records, newest first.
// NextCursor is the signature to pass as the next cursor; Done is set when history is exhausted.
type HistoryPage struct {
	Records    []TransactionRecord `json:"records"`
	NextCursor string              `json:"nextCursor,omitempty"`
	Done       bool                `json:"done"`
}
