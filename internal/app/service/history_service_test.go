package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"portfolio_sync/internal/app/port"
	"portfolio_sync/internal/domain/entity"
	"portfolio_sync/internal/infrastructure/configloader"
	"portfolio_sync/internal/pkg/logger"
	"portfolio_sync/internal/pkg/solana"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// historyLedger returns a ledger with n native transfers, newest first; each sends 0.1 from the owner.
func historyLedger(n int) *fakeLedger {
	l := newFakeLedger()
	l.balance = 1_000_000_000
	for i := n; i >= 1; i-- {
		sig := fmt.Sprintf("sig%02d", i)
		bt := time.Unix(int64(1700000000+i), 0).UTC()
		l.signatures = append(l.signatures, entity.SignatureInfo{Signature: sig, Slot: uint64(i), BlockTime: &bt})
		l.txs[sig] = &entity.ParsedTransaction{
			Signature:    sig,
			AccountKeys:  []string{testOwner, otherKey},
			PreBalances:  []uint64{2_000_000_000, 0},
			PostBalances: []uint64{1_900_000_000, 100_000_000},
		}
	}
	return l
}

func newTestHistory(ledger *fakeLedger, quotes *staticQuotes, pageSize int) port.HistoryService {
	d := NewAccountDiscoverer(ledger, nil, logger.NewNop(), nil)
	p := NewPortfolioService(d, quotes, logger.NewNop(), nil, "usd", 4)
	cfg := configloader.HistoryConfig{PageSize: pageSize, MaxConcurrentFetches: 3, LoadTimeout: 5 * time.Second}
	return NewHistoryService(ledger, p, quotes, logger.NewNop(), nil, cfg, "usd")
}

func TestHistoryService_PaginationIsOrderedAndUnique(t *testing.T) {
	ledger := historyLedger(10)
	svc := newTestHistory(ledger, newStaticQuotes(nil), 4)

	var all []entity.TransactionRecord
	cursor := ""
	pages := 0
	for {
		page, err := svc.NextPage(context.Background(), testOwner, cursor)
		require.NoError(t, err)
		pages++
		all = append(all, page.Records...)
		if page.Done {
			break
		}
		require.NotEmpty(t, page.NextCursor)
		cursor = page.NextCursor
		require.Less(t, pages, 10)
	}

	assert.Equal(t, 3, pages)
	require.Len(t, all, 10)
	seen := make(map[string]bool)
	for i, rec := range all {
		assert.False(t, seen[rec.Signature], rec.Signature)
		seen[rec.Signature] = true
		if i > 0 {
			assert.True(t, rec.BlockTime.Before(*all[i-1].BlockTime))
		}
		assert.Equal(t, entity.TransactionTransferred, rec.Type)
		assert.True(t, rec.Delta.Equal(decimal.RequireFromString("-0.1")))
	}
}

func TestHistoryService_MalformedRecordIsContained(t *testing.T) {
	ledger := historyLedger(10)
	ledger.txs["sig05"] = &entity.ParsedTransaction{Signature: "sig05"}
	svc := newTestHistory(ledger, newStaticQuotes(nil), 10)

	page, err := svc.NextPage(context.Background(), testOwner, "")
	require.NoError(t, err)
	require.Len(t, page.Records, 10)

	malformed := 0
	for _, rec := range page.Records {
		if rec.Signature == "sig05" {
			malformed++
			assert.True(t, rec.Malformed)
			assert.Equal(t, entity.TransactionUnknown, rec.Type)
			assert.True(t, rec.Delta.IsZero())
			continue
		}
		assert.False(t, rec.Malformed)
		assert.Equal(t, entity.TransactionTransferred, rec.Type)
	}
	assert.Equal(t, 1, malformed)
}

func TestHistoryService_UndecodableTransactionIsContained(t *testing.T) {
	ledger := historyLedger(3)
	delete(ledger.txs, "sig02")
	svc := newTestHistory(ledger, newStaticQuotes(nil), 15)

	page, err := svc.NextPage(context.Background(), testOwner, "")
	require.NoError(t, err)
	require.Len(t, page.Records, 3)
	assert.True(t, page.Records[1].Malformed)
	assert.NotNil(t, page.Records[1].BlockTime)
	assert.True(t, page.Done)
}

func TestHistoryService_TransportFailureFailsPage(t *testing.T) {
	ledger := historyLedger(3)
	ledger.txErrs["sig02"] = fmt.Errorf("%w: timeout", entity.ErrTransport)
	svc := newTestHistory(ledger, newStaticQuotes(nil), 15)

	_, err := svc.NextPage(context.Background(), testOwner, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrTransport)
}

func TestHistoryService_LoadMoreKeepsLoadedPagesOnFailure(t *testing.T) {
	ledger := historyLedger(6)
	svc := newTestHistory(ledger, newStaticQuotes(nil), 3)

	page, err := svc.LoadMore(context.Background(), testOwner)
	require.NoError(t, err)
	require.Len(t, page.Records, 3)

	ledger.mu.Lock()
	ledger.txErrs["sig02"] = fmt.Errorf("%w: timeout", entity.ErrTransport)
	ledger.mu.Unlock()

	_, err = svc.LoadMore(context.Background(), testOwner)
	require.Error(t, err)

	loaded, done := svc.Loaded(testOwner)
	assert.Len(t, loaded, 3)
	assert.False(t, done)

	ledger.mu.Lock()
	delete(ledger.txErrs, "sig02")
	ledger.mu.Unlock()

	page, err = svc.LoadMore(context.Background(), testOwner)
	require.NoError(t, err)
	assert.Equal(t, "sig03", page.Records[0].Signature)

	page, err = svc.LoadMore(context.Background(), testOwner)
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.True(t, page.Done)

	loaded, done = svc.Loaded(testOwner)
	assert.True(t, done)
	require.Len(t, loaded, 6)
	assert.Equal(t, "sig06", loaded[0].Signature)
	assert.Equal(t, "sig01", loaded[5].Signature)

	calls := ledger.sigCalls.Load()
	_, err = svc.LoadMore(context.Background(), testOwner)
	require.NoError(t, err)
	assert.Equal(t, calls, ledger.sigCalls.Load())
}

func TestHistoryService_LoadMoreSurvivesFirstCallerCancel(t *testing.T) {
	ledger := historyLedger(10)
	ledger.sigGate = make(chan struct{})
	svc := newTestHistory(ledger, newStaticQuotes(nil), 5)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.LoadMore(ctx, testOwner)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return ledger.sigCalls.Load() == 1 }, time.Second, 2*time.Millisecond)

	second := make(chan entity.HistoryPage, 1)
	go func() {
		page, err := svc.LoadMore(context.Background(), testOwner)
		assert.NoError(t, err)
		second <- page
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	err := <-firstErr
	assert.ErrorIs(t, err, entity.ErrUnavailable)
	assert.ErrorIs(t, err, context.Canceled)

	close(ledger.sigGate)
	select {
	case page := <-second:
		assert.Len(t, page.Records, 5)
	case <-time.After(2 * time.Second):
		t.Fatal("joined load did not complete")
	}
	assert.Equal(t, int32(1), ledger.sigCalls.Load())

	records, done := svc.Loaded(testOwner)
	assert.Len(t, records, 5)
	assert.False(t, done)
}

func TestHistoryService_TracksAccountsOpenedByTransaction(t *testing.T) {
	ledger := newFakeLedger()
	ata, err := solana.FindAssociatedTokenAddress(testOwner, usdcMint, solana.TokenProgramID)
	require.NoError(t, err)

	ledger.signatures = []entity.SignatureInfo{{Signature: "sigT"}}
	ledger.txs["sigT"] = &entity.ParsedTransaction{
		Signature:   "sigT",
		AccountKeys: []string{otherKey, ata},
		PostTokenBalances: []entity.TokenBalance{
			{AccountIndex: 1, Mint: usdcMint, Owner: testOwner, ProgramID: solana.TokenProgramID, Amount: decimal.NewFromInt(50), Decimals: 6},
		},
	}
	svc := newTestHistory(ledger, newStaticQuotes(nil), 15)

	page, err := svc.NextPage(context.Background(), testOwner, "")
	require.NoError(t, err)
	require.Len(t, page.Records, 1)

	rec := page.Records[0]
	assert.Equal(t, entity.TransactionReceived, rec.Type)
	assert.Equal(t, usdcMint, rec.AssetID)
	assert.True(t, rec.Delta.Equal(decimal.NewFromInt(50)))
}

func TestHistoryService_ValuesRecords(t *testing.T) {
	ledger := historyLedger(1)
	svc := newTestHistory(ledger, newStaticQuotes(map[string]string{entity.NativeAssetID: "100"}), 15)

	page, err := svc.NextPage(context.Background(), testOwner, "")
	require.NoError(t, err)
	require.Len(t, page.Records, 1)

	rec := page.Records[0]
	require.NotNil(t, rec.Value)
	assert.True(t, rec.Value.Equal(decimal.NewFromInt(-10)))
	assert.Equal(t, "usd", rec.Currency)
}

func TestHistoryService_InvalidOwner(t *testing.T) {
	svc := newTestHistory(newFakeLedger(), newStaticQuotes(nil), 15)

	_, err := svc.NextPage(context.Background(), "???", "")
	assert.ErrorIs(t, err, entity.ErrInvalidAddress)
}
