package entity

// Wallet is an owner address listed in the watch file.
type Wallet struct {
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
}
