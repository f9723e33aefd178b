package client

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"portfolio_sync/internal/domain/entity"
	"portfolio_sync/internal/pkg/utils"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

type rawTokenAmount struct {
	Amount         string   `json:"amount"`
	Decimals       uint8    `json:"decimals"`
	UIAmount       *float64 `json:"uiAmount"`
	UIAmountString string   `json:"uiAmountString"`
}

// value prefers the exact base unit amount and falls back to the ui string.
func (t rawTokenAmount) value() (decimal.Decimal, error) {
	if t.Amount != "" {
		return utils.ParseBaseUnits(t.Amount, t.Decimals)
	}
	if t.UIAmountString != "" {
		d, err := decimal.NewFromString(t.UIAmountString)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid ui amount %q: %w", t.UIAmountString, err)
		}
		return d, nil
	}
	if t.UIAmount != nil {
		return decimal.NewFromFloat(*t.UIAmount), nil
	}
	return decimal.Zero, errors.New("token amount has no value")
}

type rawTokenBalance struct {
	AccountIndex  *int           `json:"accountIndex"`
	Mint          string         `json:"mint"`
	Owner         string         `json:"owner"`
	ProgramID     string         `json:"programId"`
	UITokenAmount rawTokenAmount `json:"uiTokenAmount"`
}

// rawAccountKey accepts both the parsed object form and the plain string form.
type rawAccountKey struct {
	Pubkey string `json:"pubkey"`
}

func (k *rawAccountKey) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &k.Pubkey)
	}
	var obj struct {
		Pubkey string `json:"pubkey"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	k.Pubkey = obj.Pubkey
	return nil
}

type rawInstruction struct {
	ProgramID string              `json:"programId"`
	Program   string              `json:"program"`
	Parsed    jsoniter.RawMessage `json:"parsed"`
}

type rawTransaction struct {
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err               jsoniter.RawMessage `json:"err"`
		PreBalances       []uint64            `json:"preBalances"`
		PostBalances      []uint64            `json:"postBalances"`
		PreTokenBalances  []rawTokenBalance   `json:"preTokenBalances"`
		PostTokenBalances []rawTokenBalance   `json:"postTokenBalances"`
		InnerInstructions []struct {
			Instructions []rawInstruction `json:"instructions"`
		} `json:"innerInstructions"`
	} `json:"meta"`
	Transaction *struct {
		Signatures []string `json:"signatures"`
		Message    *struct {
			AccountKeys  []rawAccountKey  `json:"accountKeys"`
			Instructions []rawInstruction `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

// DecodeTransaction decodes a jsonParsed getTransaction result. Any shape problem yields an error
// wrapping entity.ErrMalformedRecord; a null result additionally wraps entity.ErrNotFound.
func DecodeTransaction(signature string, raw []byte) (*entity.ParsedTransaction, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: %w: transaction %s", entity.ErrMalformedRecord, entity.ErrNotFound, signature)
	}

	var rt rawTransaction
	if err := json.Unmarshal(raw, &rt); err != nil {
		return nil, fmt.Errorf("%w: transaction %s: %w", entity.ErrMalformedRecord, signature, err)
	}
	if rt.Transaction == nil || rt.Transaction.Message == nil || len(rt.Transaction.Message.AccountKeys) == 0 {
		return nil, fmt.Errorf("%w: transaction %s: missing accountKeys", entity.ErrMalformedRecord, signature)
	}

	tx := &entity.ParsedTransaction{
		Signature:   signature,
		BlockTime:   unixTime(rt.BlockTime),
		AccountKeys: make([]string, 0, len(rt.Transaction.Message.AccountKeys)),
	}
	for i, k := range rt.Transaction.Message.AccountKeys {
		if k.Pubkey == "" {
			return nil, fmt.Errorf("%w: transaction %s: empty account key at %d", entity.ErrMalformedRecord, signature, i)
		}
		tx.AccountKeys = append(tx.AccountKeys, k.Pubkey)
	}

	tx.Instructions = appendInstructions(nil, rt.Transaction.Message.Instructions)

	if rt.Meta != nil {
		tx.Failed = isErrSet(rt.Meta.Err)
		tx.PreBalances = rt.Meta.PreBalances
		tx.PostBalances = rt.Meta.PostBalances

		var err error
		if tx.PreTokenBalances, err = decodeTokenBalances(rt.Meta.PreTokenBalances); err != nil {
			return nil, fmt.Errorf("%w: transaction %s: preTokenBalances: %w", entity.ErrMalformedRecord, signature, err)
		}
		if tx.PostTokenBalances, err = decodeTokenBalances(rt.Meta.PostTokenBalances); err != nil {
			return nil, fmt.Errorf("%w: transaction %s: postTokenBalances: %w", entity.ErrMalformedRecord, signature, err)
		}
		for _, inner := range rt.Meta.InnerInstructions {
			tx.Instructions = appendInstructions(tx.Instructions, inner.Instructions)
		}
	}

	return tx, nil
}

func decodeTokenBalances(raw []rawTokenBalance) ([]entity.TokenBalance, error) {
	if raw == nil {
		return nil, nil
	}
	out := make([]entity.TokenBalance, 0, len(raw))
	for _, tb := range raw {
		if tb.AccountIndex == nil || *tb.AccountIndex < 0 {
			return nil, errors.New("token balance without accountIndex")
		}
		amount, err := tb.UITokenAmount.value()
		if err != nil {
			return nil, fmt.Errorf("account index %d: %w", *tb.AccountIndex, err)
		}
		out = append(out, entity.TokenBalance{
			AccountIndex: *tb.AccountIndex,
			Mint:         tb.Mint,
			Owner:        tb.Owner,
			ProgramID:    tb.ProgramID,
			Amount:       amount,
			Decimals:     tb.UITokenAmount.Decimals,
		})
	}
	return out, nil
}

func appendInstructions(dst []entity.Instruction, raw []rawInstruction) []entity.Instruction {
	for _, ri := range raw {
		ins := entity.Instruction{ProgramID: ri.ProgramID, Program: ri.Program}
		// parsed is an object for known programs and a plain string for e.g. memo.
		var parsed struct {
			Type string         `json:"type"`
			Info map[string]any `json:"info"`
		}
		if len(ri.Parsed) > 0 && ri.Parsed[0] == '{' && json.Unmarshal(ri.Parsed, &parsed) == nil {
			ins.Type = parsed.Type
			if mint, ok := parsed.Info["mint"].(string); ok {
				ins.Mint = mint
			}
		}
		dst = append(dst, ins)
	}
	return dst
}

func unixTime(sec *int64) *time.Time {
	if sec == nil {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}

func isErrSet(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}
