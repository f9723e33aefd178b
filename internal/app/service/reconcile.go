package service

import (
	"fmt"
	"time"

	"portfolio_sync/internal/domain/entity"
	"portfolio_sync/internal/pkg/utils"

	"github.com/shopspring/decimal"
)

// Reconcile derives the record of tx against the tracked accounts. It is a pure function.
//
// Native deltas are read from the lamport balance arrays for native accounts, token deltas
// from the token balance entries matching a tracked account's index and mint; a missing side
// counts as zero. The record is attributed to the mint of the first instruction that names one,
// else to the native asset. Delta is the net change of that asset over every tracked account; when
// no tracked account holds it, attribution moves to the first asset that did change.
func Reconcile(tx *entity.ParsedTransaction, tracked []entity.Account) entity.TransactionRecord {
	if tx == nil {
		return MalformedTransaction("", nil, true, fmt.Errorf("%w: empty transaction", entity.ErrMalformedRecord))
	}
	if len(tx.AccountKeys) == 0 {
		return MalformedTransaction(tx.Signature, tx.BlockTime, !tx.Failed, fmt.Errorf("%w: missing accountKeys", entity.ErrMalformedRecord))
	}

	index := make(map[string]int, len(tx.AccountKeys))
	for i, key := range tx.AccountKeys {
		if _, ok := index[key]; !ok {
			index[key] = i
		}
	}

	var deltas []entity.AccountDelta
	for _, acc := range tracked {
		idx, ok := index[acc.Address]
		if !ok {
			continue
		}
		if acc.IsNative() {
			if idx >= len(tx.PreBalances) || idx >= len(tx.PostBalances) {
				continue
			}
			deltas = append(deltas, entity.AccountDelta{
				Account:     acc.Address,
				AssetID:     entity.NativeAssetID,
				PreBalance:  utils.FromBaseUnits(tx.PreBalances[idx], entity.NativeDecimals),
				PostBalance: utils.FromBaseUnits(tx.PostBalances[idx], entity.NativeDecimals),
			})
			continue
		}

		pre, preOK := tokenAmount(tx.PreTokenBalances, idx, acc.AssetID)
		post, postOK := tokenAmount(tx.PostTokenBalances, idx, acc.AssetID)
		if !preOK && !postOK {
			continue
		}
		deltas = append(deltas, entity.AccountDelta{
			Account:     acc.Address,
			AssetID:     acc.AssetID,
			PreBalance:  pre,
			PostBalance: post,
		})
	}

	rec := entity.TransactionRecord{
		Signature:     tx.Signature,
		BlockTime:     tx.BlockTime,
		Succeeded:     !tx.Failed,
		Type:          entity.TransactionUnknown,
		AssetID:       displayAsset(tx.Instructions),
		Delta:         decimal.Zero,
		AccountDeltas: deltas,
	}
	if len(deltas) == 0 {
		return rec
	}

	if !hasAsset(deltas, rec.AssetID) {
		rec.AssetID = deltas[0].AssetID
	}
	post := decimal.Zero
	for _, d := range deltas {
		if d.AssetID != rec.AssetID {
			continue
		}
		rec.Delta = rec.Delta.Add(d.Change())
		post = post.Add(d.PostBalance)
	}
	rec.PostBalance = &post

	switch rec.Delta.Sign() {
	case 1:
		rec.Type = entity.TransactionReceived
	case -1:
		rec.Type = entity.TransactionTransferred
	}
	return rec
}

// MalformedTransaction is the record standing in for a transaction that could not be decoded.
func MalformedTransaction(signature string, blockTime *time.Time, succeeded bool, err error) entity.TransactionRecord {
	return entity.TransactionRecord{
		Signature:     signature,
		BlockTime:     blockTime,
		Succeeded:     succeeded,
		Type:          entity.TransactionUnknown,
		AssetID:       entity.NativeAssetID,
		Delta:         decimal.Zero,
		AccountDeltas: []entity.AccountDelta{},
		Malformed:     true,
		Reason:        err.Error(),
	}
}

func tokenAmount(balances []entity.TokenBalance, idx int, mint string) (decimal.Decimal, bool) {
	for _, b := range balances {
		if b.AccountIndex != idx {
			continue
		}
		if b.Mint != "" && b.Mint != mint {
			continue
		}
		return b.Amount, true
	}
	return decimal.Zero, false
}

func displayAsset(instructions []entity.Instruction) string {
	for _, ix := range instructions {
		if ix.Mint != "" {
			return ix.Mint
		}
	}
	return entity.NativeAssetID
}

func hasAsset(deltas []entity.AccountDelta, assetID string) bool {
	for _, d := range deltas {
		if d.AssetID == assetID {
			return true
		}
	}
	return false
}
