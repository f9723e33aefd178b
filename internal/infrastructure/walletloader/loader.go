package walletloader

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"portfolio_sync/internal/domain/entity"
	"portfolio_sync/internal/pkg/solana"
)

// LoadWallets reads owner addresses from filePath, one per line. Blank lines and lines starting
// with '#' are ignored; an optional label may follow the address after whitespace.
// A missing file yields no wallets.
func LoadWallets(filePath string, warn func(msg string, args ...any)) ([]entity.Wallet, error) {
	file, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return []entity.Wallet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open wallet file %s: %w", filePath, err)
	}
	defer file.Close()

	var wallets []entity.Wallet
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		address := fields[0]
		if !solana.IsValidAddress(address) {
			if warn != nil {
				warn("Skipping invalid wallet address format", "file", filePath, "line_number", lineNum, "address", address)
			}
			continue
		}
		if _, dup := seen[address]; dup {
			continue
		}
		seen[address] = struct{}{}
		wallets = append(wallets, entity.Wallet{Address: address, Label: strings.Join(fields[1:], " ")})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning wallet file %s: %w", filePath, err)
	}
	return wallets, nil
}
