package networkdefinition

import (
	"fmt"
	"strings"

	"portfolio_sync/internal/app/port"
	"portfolio_sync/internal/domain/entity"
)

// NetworkDefinitionProvider provides the known ledger clusters and the active one.
type NetworkDefinitionProvider struct {
	logger         port.Logger
	allNetworkDefs map[string]entity.NetworkDefinition
	active         entity.NetworkDefinition
}

// Predefined network definitions
var ( //nolint:gochecknoglobals // Global for definitions
	MainnetBeta = entity.NetworkDefinition{
		Name:             "Solana Mainnet Beta",
		Identifier:       "mainnet-beta",
		NativeSymbol:     "SOL",
		NativeName:       "Solana",
		NativeIcon:       "https://assets.coingecko.com/coins/images/4128/large/solana.png",
		Decimals:         entity.NativeDecimals,
		PriceCoinID:      "solana",
		PricePlatform:    "solana",
		PrimaryRPCURL:    "https://api.mainnet-beta.solana.com",
		FallbackRPCURLs:  []string{"https://solana-rpc.publicnode.com"},
		BlockExplorerURL: "https://explorer.solana.com",
	}
	Devnet = entity.NetworkDefinition{
		Name:             "Solana Devnet",
		Identifier:       "devnet",
		NativeSymbol:     "SOL",
		NativeName:       "Solana",
		NativeIcon:       "https://assets.coingecko.com/coins/images/4128/large/solana.png",
		Decimals:         entity.NativeDecimals,
		PriceCoinID:      "solana",
		PricePlatform:    "solana",
		PrimaryRPCURL:    "https://api.devnet.solana.com",
		BlockExplorerURL: "https://explorer.solana.com/?cluster=devnet",
	}
	Testnet = entity.NetworkDefinition{
		Name:             "Solana Testnet",
		Identifier:       "testnet",
		NativeSymbol:     "SOL",
		NativeName:       "Solana",
		NativeIcon:       "https://assets.coingecko.com/coins/images/4128/large/solana.png",
		Decimals:         entity.NativeDecimals,
		PriceCoinID:      "solana",
		PricePlatform:    "solana",
		PrimaryRPCURL:    "https://api.testnet.solana.com",
		BlockExplorerURL: "https://explorer.solana.com/?cluster=testnet",
	}
)

var allKnownDefinitions = map[string]entity.NetworkDefinition{ //nolint:gochecknoglobals
	MainnetBeta.Identifier: MainnetBeta,
	Devnet.Identifier:      Devnet,
	Testnet.Identifier:     Testnet,
}

// NewNetworkDefinitionProvider selects the cluster named by identifier.
// rpcOverride, when set, replaces the cluster's primary endpoint.
func NewNetworkDefinitionProvider(log port.Logger, identifier, rpcOverride string) (*NetworkDefinitionProvider, error) {
	p := &NetworkDefinitionProvider{
		logger:         log,
		allNetworkDefs: allKnownDefinitions,
	}

	def, ok := p.lookup(identifier)
	if !ok {
		return nil, fmt.Errorf("unknown network %q", identifier)
	}
	if rpcOverride != "" {
		def.PrimaryRPCURL = rpcOverride
	}
	p.active = def

	p.logger.Info("Network selected", "network", def.Identifier, "rpc", def.PrimaryRPCURL)
	return p, nil
}

// Active returns the selected network definition.
func (p *NetworkDefinitionProvider) Active() entity.NetworkDefinition {
	return p.active
}

// GetAllNetworkDefinitions returns every known definition, the active one first.
func (p *NetworkDefinitionProvider) GetAllNetworkDefinitions() []entity.NetworkDefinition {
	if p == nil {
		return []entity.NetworkDefinition{}
	}
	defs := []entity.NetworkDefinition{p.active}
	for _, id := range []string{MainnetBeta.Identifier, Devnet.Identifier, Testnet.Identifier} {
		if id != p.active.Identifier {
			defs = append(defs, p.allNetworkDefs[id])
		}
	}
	return defs
}

// GetNetworkDefinitionByName returns a definition by identifier or display name.
func (p *NetworkDefinitionProvider) GetNetworkDefinitionByName(nameOrIdentifier string) (entity.NetworkDefinition, bool) {
	if p == nil {
		return entity.NetworkDefinition{}, false
	}
	if strings.EqualFold(nameOrIdentifier, p.active.Identifier) || strings.EqualFold(nameOrIdentifier, p.active.Name) {
		return p.active, true
	}
	return p.lookup(nameOrIdentifier)
}

func (p *NetworkDefinitionProvider) lookup(nameOrIdentifier string) (entity.NetworkDefinition, bool) {
	key := strings.ToLower(strings.TrimSpace(nameOrIdentifier))
	if def, ok := p.allNetworkDefs[key]; ok {
		return def, true
	}
	for _, def := range p.allNetworkDefs {
		if strings.EqualFold(def.Name, nameOrIdentifier) {
			return def, true
		}
	}
	return entity.NetworkDefinition{}, false
}
