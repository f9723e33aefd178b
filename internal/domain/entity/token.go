package entity

// TokenInfo is a token registry entry.
type TokenInfo struct {
	Mint        string `json:"mint"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	LogoURI     string `json:"logoURI,omitempty"`
	CoingeckoID string `json:"coingeckoId,omitempty"`
}

// Meta returns the display metadata of the token.
func (t TokenInfo) Meta() DisplayMeta {
	return DisplayMeta{Symbol: t.Symbol, Name: t.Name, Icon: t.LogoURI}
}
