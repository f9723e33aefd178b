package entity

import "github.com/shopspring/decimal"

// Holding is one asset position of a portfolio. Quote is nil when no price could be resolved.
type Holding struct {
	AssetID string          `json:"assetId"`
	Account string          `json:"account"`
	Balance decimal.Decimal `json:"balance"`
	Quote   *Quote          `json:"quote"`
	Value   decimal.Decimal `json:"value"`
}

// Priced reports whether the holding contributes to the total value.
func (h Holding) Priced() bool {
	return h.Quote != nil
}

// PortfolioSnapshot is the aggregated view of one owner's holdings in one currency.
// Holdings are ordered native first, then by asset id.
type PortfolioSnapshot struct {
	Owner      string          `json:"owner"`
	Currency   string          `json:"currency"`
	TotalValue decimal.Decimal `json:"totalValue"`
	Holdings   []Holding       `json:"holdings"`
}

// Unpriced returns the asset ids of holdings without a quote.
func (s PortfolioSnapshot) Unpriced() []string {
	var ids []string
	for _, h := range s.Holdings {
		if !h.Priced() {
			ids = append(ids, h.AssetID)
		}
	}
	return ids
}
