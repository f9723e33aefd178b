package tokenloader

import (
	"fmt"
	"os"

	"portfolio_sync/internal/domain/entity"
	"portfolio_sync/internal/pkg/solana"
	"portfolio_sync/internal/pkg/utils"
)

// LoadTokens reads the token registry at filePath. A missing file yields an empty registry.
// Entries with an invalid mint are skipped and reported through warn.
func LoadTokens(filePath string, warn func(msg string, args ...any)) ([]entity.TokenInfo, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		if warn != nil {
			warn("Token registry file not found, no display metadata will be available", "path", filePath)
		}
		return []entity.TokenInfo{}, nil
	}

	tokens, err := utils.LoadJSONFile[[]entity.TokenInfo](filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load token registry: %w", err)
	}

	valid := make([]entity.TokenInfo, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for i, t := range tokens {
		if !solana.IsValidAddress(t.Mint) {
			if warn != nil {
				warn("Token has invalid mint in registry, skipping token", "path", filePath, "index", i, "mint", t.Mint, "symbol", t.Symbol)
			}
			continue
		}
		if _, dup := seen[t.Mint]; dup {
			if warn != nil {
				warn("Duplicate token in registry, keeping first entry", "path", filePath, "mint", t.Mint)
			}
			continue
		}
		seen[t.Mint] = struct{}{}
		valid = append(valid, t)
	}
	return valid, nil
}
