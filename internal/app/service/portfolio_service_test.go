package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"portfolio_sync/internal/app/port"
	"portfolio_sync/internal/domain/entity"
	"portfolio_sync/internal/pkg/logger"
	"portfolio_sync/internal/pkg/solana"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func mustATA(t *testing.T, owner, mint string) string {
	t.Helper()
	ata, err := solana.FindAssociatedTokenAddress(owner, mint, solana.TokenProgramID)
	require.NoError(t, err)
	return ata
}

func seededLedger(t *testing.T) *fakeLedger {
	t.Helper()
	l := newFakeLedger()
	l.balance = 2_500_000_000
	l.tokenAccounts[solana.TokenProgramID] = []entity.TokenAccount{
		{
			Address: usdcATA, Mint: usdcMint, Owner: testOwner,
			Amount: decimal.RequireFromString("12.5"), Decimals: 6, ProgramID: solana.TokenProgramID,
		},
		{
			Address: mustATA(t, testOwner, bonkMint), Mint: bonkMint, Owner: testOwner,
			Amount: decimal.RequireFromString("1000000"), Decimals: 5, ProgramID: solana.TokenProgramID,
		},
		// an auxiliary account for the same mint; only the associated one counts
		{
			Address: "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T", Mint: usdcMint, Owner: testOwner,
			Amount: decimal.RequireFromString("99"), Decimals: 6, ProgramID: solana.TokenProgramID,
		},
		{Address: "BrokenAccount", Err: fmt.Errorf("%w: not parsed", entity.ErrMalformedRecord)},
	}
	return l
}

func TestAccountDiscoverer_Discover(t *testing.T) {
	ledger := seededLedger(t)
	d := NewAccountDiscoverer(ledger, nil, logger.NewNop(), nil)

	accounts, err := d.Discover(context.Background(), testOwner)
	require.NoError(t, err)
	require.Len(t, accounts, 3)

	native := accounts[0]
	assert.True(t, native.IsNative())
	assert.Equal(t, testOwner, native.Address)
	assert.True(t, native.Balance.Equal(decimal.RequireFromString("2.5")))

	assert.Equal(t, bonkMint, accounts[1].AssetID)
	assert.Equal(t, usdcMint, accounts[2].AssetID)
	assert.Equal(t, usdcATA, accounts[2].Address)
	assert.True(t, accounts[2].Balance.Equal(decimal.RequireFromString("12.5")))
}

func TestAccountDiscoverer_ReportsBalanceOutsideAssociatedAccount(t *testing.T) {
	jupMint := "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN"
	ledger := seededLedger(t)
	ledger.tokenAccounts[solana.TokenProgramID] = append(ledger.tokenAccounts[solana.TokenProgramID], entity.TokenAccount{
		Address: "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", Mint: jupMint, Owner: testOwner,
		Amount: decimal.NewFromInt(40), Decimals: 6, ProgramID: solana.TokenProgramID,
	})
	m := &recordingMetrics{}
	core, logs := observer.New(zap.WarnLevel)
	d := NewAccountDiscoverer(ledger, nil, logger.NewAdapter(zap.New(core)), m)

	accounts, err := d.Discover(context.Background(), testOwner)
	require.NoError(t, err)
	for _, acc := range accounts {
		assert.NotEqual(t, jupMint, acc.AssetID)
	}

	// the auxiliary USDC account is covered by the associated one; the JUP balance is not
	assert.Equal(t, 1, m.nonCanonicalCount(true))
	assert.Equal(t, 1, m.nonCanonicalCount(false))
	hidden := logs.FilterMessage("Token balance held outside the associated account is not tracked").All()
	require.Len(t, hidden, 1)
	assert.Equal(t, jupMint, hidden[0].ContextMap()["mint"])
}

func TestAccountDiscoverer_NativeAlwaysPresent(t *testing.T) {
	ledger := newFakeLedger()
	d := NewAccountDiscoverer(ledger, []string{solana.TokenProgramID}, logger.NewNop(), nil)

	accounts, err := d.Discover(context.Background(), testOwner)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.True(t, accounts[0].IsNative())
	assert.True(t, accounts[0].Balance.IsZero())
}

func TestAccountDiscoverer_TransportFailure(t *testing.T) {
	ledger := seededLedger(t)
	ledger.accountsErr = errors.New("connection reset")
	d := NewAccountDiscoverer(ledger, nil, logger.NewNop(), nil)

	_, err := d.Discover(context.Background(), testOwner)
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrTransport)
}

func TestAccountDiscoverer_InvalidOwner(t *testing.T) {
	d := NewAccountDiscoverer(newFakeLedger(), nil, logger.NewNop(), nil)

	_, err := d.Discover(context.Background(), "not-an-address")
	assert.ErrorIs(t, err, entity.ErrInvalidAddress)
}

func newTestPortfolio(t *testing.T, ledger *fakeLedger, quotes *staticQuotes) port.PortfolioService {
	t.Helper()
	d := NewAccountDiscoverer(ledger, nil, logger.NewNop(), nil)
	return NewPortfolioService(d, quotes, logger.NewNop(), nil, "usd", 4)
}

func TestPortfolioService_Snapshot(t *testing.T) {
	quotes := newStaticQuotes(map[string]string{entity.NativeAssetID: "150", usdcMint: "1"})
	svc := newTestPortfolio(t, seededLedger(t), quotes)

	snap, err := svc.Snapshot(context.Background(), testOwner, "USD")
	require.NoError(t, err)
	assert.Equal(t, "usd", snap.Currency)
	require.Len(t, snap.Holdings, 3)

	// 2.5 * 150 + 12.5 * 1; the unpriced holding is listed but adds nothing
	assert.True(t, snap.TotalValue.Equal(decimal.RequireFromString("387.5")), snap.TotalValue.String())
	assert.Equal(t, entity.NativeAssetID, snap.Holdings[0].AssetID)
	assert.Equal(t, []string{bonkMint}, snap.Unpriced())

	bonk := snap.Holdings[1]
	assert.Nil(t, bonk.Quote)
	assert.True(t, bonk.Value.IsZero())
	assert.True(t, bonk.Balance.Equal(decimal.NewFromInt(1000000)))

	sum := decimal.Zero
	for _, h := range snap.Holdings {
		if h.Priced() {
			sum = sum.Add(h.Balance.Mul(h.Quote.Price))
		}
	}
	assert.True(t, sum.Equal(snap.TotalValue))

	current, ok := svc.Current(testOwner, "usd")
	require.True(t, ok)
	assert.Equal(t, snap, current)
}

func TestPortfolioService_SnapshotIsIdempotent(t *testing.T) {
	quotes := newStaticQuotes(map[string]string{entity.NativeAssetID: "150", usdcMint: "1", bonkMint: "0.00002"})
	svc := newTestPortfolio(t, seededLedger(t), quotes)

	first, err := svc.Snapshot(context.Background(), testOwner, "usd")
	require.NoError(t, err)
	second, err := svc.Snapshot(context.Background(), testOwner, "usd")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.True(t, first.TotalValue.Equal(decimal.RequireFromString("407.5")))
}

func TestPortfolioService_QuoteFailureDegradesHolding(t *testing.T) {
	quotes := newStaticQuotes(map[string]string{entity.NativeAssetID: "150", usdcMint: "1"})
	quotes.errs[entity.NativeAssetID] = entity.ErrUnavailable
	svc := newTestPortfolio(t, seededLedger(t), quotes)

	snap, err := svc.Snapshot(context.Background(), testOwner, "usd")
	require.NoError(t, err)
	assert.True(t, snap.TotalValue.Equal(decimal.RequireFromString("12.5")))
	assert.ElementsMatch(t, []string{entity.NativeAssetID, bonkMint}, snap.Unpriced())
}

func TestPortfolioService_DiscoveryFailureFailsSnapshot(t *testing.T) {
	ledger := seededLedger(t)
	ledger.balanceErr = errors.New("timeout")
	svc := newTestPortfolio(t, ledger, newStaticQuotes(nil))

	_, err := svc.Snapshot(context.Background(), testOwner, "usd")
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrTransport)

	_, ok := svc.Current(testOwner, "usd")
	assert.False(t, ok)
}

func TestPortfolioService_RevalueUsesHeldAccounts(t *testing.T) {
	ledger := seededLedger(t)
	quotes := newStaticQuotes(map[string]string{entity.NativeAssetID: "150"})
	svc := newTestPortfolio(t, ledger, quotes)

	_, err := svc.Snapshot(context.Background(), testOwner, "usd")
	require.NoError(t, err)
	require.Equal(t, int32(1), ledger.balanceCalls.Load())

	quotes.mu.Lock()
	quotes.prices[entity.NativeAssetID] = decimal.NewFromInt(200)
	quotes.mu.Unlock()

	snap, err := svc.Revalue(context.Background(), testOwner, "")
	require.NoError(t, err)
	assert.True(t, snap.TotalValue.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, int32(1), ledger.balanceCalls.Load())

	tracked, err := svc.TrackedAccounts(context.Background(), testOwner)
	require.NoError(t, err)
	assert.Len(t, tracked, 3)
	assert.Equal(t, int32(1), ledger.balanceCalls.Load())
}

func TestMergeHoldings_OrderInsensitive(t *testing.T) {
	a := []entity.Account{
		{Address: "x", AssetID: usdcMint, Balance: decimal.NewFromInt(1)},
		{Address: testOwner, AssetID: entity.NativeAssetID, Balance: decimal.NewFromInt(2)},
		{Address: "y", AssetID: bonkMint, Balance: decimal.NewFromInt(3)},
	}
	b := []entity.Account{a[2], a[0], a[1]}

	assert.Equal(t, mergeHoldings(a), mergeHoldings(b))
	assert.Equal(t, entity.NativeAssetID, mergeHoldings(a)[0].AssetID)
}
