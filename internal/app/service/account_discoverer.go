package service

import (
	"context"
	"fmt"
	"sort"

	"portfolio_sync/internal/app/port"
	"portfolio_sync/internal/domain/entity"
	"portfolio_sync/internal/pkg/metrics"
	"portfolio_sync/internal/pkg/solana"
	"portfolio_sync/internal/pkg/utils"

	"golang.org/x/sync/errgroup"
)

// accountDiscovererImpl implements port.AccountDiscoverer.
type accountDiscovererImpl struct {
	ledger   port.LedgerClient
	programs []string
	logger   port.Logger
	metrics  port.Metrics
}

// NewAccountDiscoverer creates a new instance of accountDiscovererImpl.
// programs lists the token programs whose accounts are queried; empty means the classic token program.
func NewAccountDiscoverer(ledger port.LedgerClient, programs []string, l port.Logger, m port.Metrics) port.AccountDiscoverer {
	if len(programs) == 0 {
		programs = []string{solana.TokenProgramID}
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &accountDiscovererImpl{
		ledger:   ledger,
		programs: utils.UniqueStrings(programs),
		logger:   l,
		metrics:  m,
	}
}

// Discover implements port.AccountDiscoverer.
func (d *accountDiscovererImpl) Discover(ctx context.Context, owner string) ([]entity.Account, error) {
	if !solana.IsValidAddress(owner) {
		return nil, fmt.Errorf("%w: owner %q", entity.ErrInvalidAddress, owner)
	}

	var lamports uint64
	raw := make([][]entity.TokenAccount, len(d.programs))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bal, err := d.ledger.GetBalance(gctx, owner)
		if err != nil {
			return fmt.Errorf("%w: native balance of %s: %w", entity.ErrTransport, owner, err)
		}
		lamports = bal
		return nil
	})
	for i, program := range d.programs {
		i, program := i, program
		g.Go(func() error {
			accounts, err := d.ledger.GetTokenAccountsByOwner(gctx, owner, program)
			if err != nil {
				return fmt.Errorf("%w: token accounts of %s under %s: %w", entity.ErrTransport, owner, program, err)
			}
			raw[i] = accounts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Error("Account discovery failed", "owner", owner, "error", err)
		return nil, err
	}

	accounts := []entity.Account{{
		Address:  owner,
		Owner:    owner,
		AssetID:  entity.NativeAssetID,
		Balance:  utils.FromBaseUnits(lamports, entity.NativeDecimals),
		Decimals: entity.NativeDecimals,
	}}

	byAsset := make(map[string]entity.Account)
	var stray []entity.TokenAccount
	for i, program := range d.programs {
		for _, ta := range raw[i] {
			acc, ok, nonCanonical := d.canonical(owner, program, ta)
			if nonCanonical {
				stray = append(stray, ta)
			}
			if !ok {
				continue
			}
			if _, dup := byAsset[acc.AssetID]; dup {
				continue
			}
			byAsset[acc.AssetID] = acc
		}
	}

	// a non-associated account is dropped; when its mint has no associated account the balance is hidden
	for _, ta := range stray {
		_, covered := byAsset[ta.Mint]
		d.metrics.NonCanonicalAccount(covered)
		if covered {
			d.logger.Debug("Ignoring non-canonical token account", "owner", owner, "account", ta.Address, "mint", ta.Mint)
			continue
		}
		d.logger.Warn("Token balance held outside the associated account is not tracked",
			"owner", owner, "account", ta.Address, "mint", ta.Mint, "amount", ta.Amount.String())
	}

	tokens := make([]entity.Account, 0, len(byAsset))
	for _, acc := range byAsset {
		tokens = append(tokens, acc)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].AssetID < tokens[j].AssetID })
	accounts = append(accounts, tokens...)

	d.logger.Debug("Accounts discovered", "owner", owner, "tokenAccounts", len(tokens))
	return accounts, nil
}

// canonical converts a raw token account, keeping it only when it is the owner's associated account
// for its mint. The last result reports a well-formed owner account at a non-associated address.
func (d *accountDiscovererImpl) canonical(owner, program string, ta entity.TokenAccount) (entity.Account, bool, bool) {
	if ta.Err != nil {
		d.metrics.MalformedRecord("account")
		d.logger.Warn("Skipping malformed token account", "owner", owner, "account", ta.Address, "error", ta.Err)
		return entity.Account{}, false, false
	}
	if ta.Owner != owner {
		return entity.Account{}, false, false
	}
	if ta.ProgramID != "" {
		program = ta.ProgramID
	}

	ata, err := solana.FindAssociatedTokenAddress(owner, ta.Mint, program)
	if err != nil {
		d.metrics.MalformedRecord("account")
		d.logger.Warn("Cannot derive associated account", "owner", owner, "mint", ta.Mint, "error", err)
		return entity.Account{}, false, false
	}
	if ata != ta.Address {
		return entity.Account{}, false, true
	}

	return entity.Account{
		Address:   ta.Address,
		Owner:     owner,
		AssetID:   ta.Mint,
		Balance:   ta.Amount,
		Decimals:  ta.Decimals,
		ProgramID: program,
	}, true, false
}
