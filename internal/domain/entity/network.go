package entity

// NetworkDefinition describes one ledger cluster the engine can be pointed at.
type NetworkDefinition struct {
	Name         string `json:"name" yaml:"name"`
	Identifier   string `json:"identifier" yaml:"identifier"` // e.g. "mainnet-beta", "devnet"
	NativeSymbol string `json:"nativeSymbol" yaml:"nativeSymbol"`
	NativeName   string `json:"nativeName" yaml:"nativeName"`
	NativeIcon   string `json:"nativeIcon,omitempty" yaml:"nativeIcon,omitempty"`
	Decimals     int32  `json:"decimals" yaml:"decimals"`
	// PriceCoinID is the price source id of the native asset.
	PriceCoinID string `json:"priceCoinId" yaml:"priceCoinId"`
	// PricePlatform is the price source platform used for contract-address lookups.
	PricePlatform    string   `json:"pricePlatform" yaml:"pricePlatform"`
	PrimaryRPCURL    string   `json:"primaryRpcUrl" yaml:"primaryRpcUrl"`
	FallbackRPCURLs  []string `json:"fallbackRpcUrls" yaml:"fallbackRpcUrls"`
	BlockExplorerURL string   `json:"blockExplorerUrl,omitempty" yaml:"blockExplorerUrl,omitempty"`
}

// NativeMeta returns the display metadata of the native asset.
func (n NetworkDefinition) NativeMeta() DisplayMeta {
	return DisplayMeta{Symbol: n.NativeSymbol, Name: n.NativeName, Icon: n.NativeIcon}
}
