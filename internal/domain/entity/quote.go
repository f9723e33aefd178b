package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// DisplayMeta is presentation data carried with a quote. The engine never interprets it.
type DisplayMeta struct {
	Symbol string `json:"symbol,omitempty"`
	Name   string `json:"name,omitempty"`
	Icon   string `json:"icon,omitempty"`
}

// Quote is a price of one asset in one currency.
type Quote struct {
	AssetID   string          `json:"assetId"`
	Currency  string          `json:"currency"`
	Price     decimal.Decimal `json:"price"`
	FetchedAt time.Time       `json:"fetchedAt"`
	Meta      DisplayMeta     `json:"displayMeta"`
	// Stale is set when the quote is served past its freshness window.
	Stale bool `json:"stale"`
}

// IsFresh reports whether the quote is still within ttl at now.
func (q Quote) IsFresh(now time.Time, ttl time.Duration) bool {
	return !q.FetchedAt.Add(ttl).Before(now)
}

// QuoteKey identifies a quote cache entry.
type QuoteKey struct {
	AssetID  string
	Currency string
}

// String implements fmt.Stringer.
func (k QuoteKey) String() string {
	return k.Currency + ":" + k.AssetID
}

// PriceObservation is one price reported by the price source.
type PriceObservation struct {
	AssetID    string
	Price      decimal.Decimal
	ObservedAt time.Time
	Meta       DisplayMeta
}
