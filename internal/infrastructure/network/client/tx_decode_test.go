package client

import (
	"testing"

	"portfolio_sync/internal/domain/entity"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const parsedTransferFixture = `{
  "blockTime": 1700000100,
  "slot": 99,
  "meta": {
    "err": null,
    "fee": 5000,
    "preBalances": [1000000000, 500, 1],
    "postBalances": [900000000, 600, 1],
    "preTokenBalances": [],
    "postTokenBalances": [
      {"accountIndex": 1, "mint": "MintOne", "owner": "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
       "programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
       "uiTokenAmount": {"amount": "50000000", "decimals": 6, "uiAmount": 50, "uiAmountString": "50"}}
    ],
    "innerInstructions": [
      {"index": 0, "instructions": [
        {"programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", "program": "spl-token",
         "parsed": {"type": "transferChecked", "info": {"mint": "InnerMint", "amount": "1"}}}
      ]}
    ]
  },
  "transaction": {
    "signatures": ["sig1"],
    "message": {
      "accountKeys": [
        {"pubkey": "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", "signer": true, "writable": true},
        {"pubkey": "Dest1111", "signer": false, "writable": true},
        {"pubkey": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", "signer": false, "writable": false}
      ],
      "instructions": [
        {"programId": "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr", "program": "spl-memo", "parsed": "hello"},
        {"programId": "11111111111111111111111111111111", "program": "system",
         "parsed": {"type": "transfer", "info": {"lamports": 100000000}}}
      ]
    }
  }
}`

func TestDecodeTransaction(t *testing.T) {
	tx, err := DecodeTransaction("sig1", []byte(parsedTransferFixture))
	require.NoError(t, err)

	assert.False(t, tx.Failed)
	require.NotNil(t, tx.BlockTime)
	assert.Equal(t, int64(1700000100), tx.BlockTime.Unix())
	assert.Equal(t, []uint64{1000000000, 500, 1}, tx.PreBalances)
	assert.Equal(t, []uint64{900000000, 600, 1}, tx.PostBalances)
	assert.Empty(t, tx.PreTokenBalances)
	require.Len(t, tx.PostTokenBalances, 1)
	assert.Equal(t, 1, tx.PostTokenBalances[0].AccountIndex)
	assert.True(t, tx.PostTokenBalances[0].Amount.Equal(decimal.NewFromInt(50)))

	require.Len(t, tx.Instructions, 3)
	assert.Equal(t, "", tx.Instructions[0].Mint)
	assert.Equal(t, "transfer", tx.Instructions[1].Type)
	assert.Equal(t, "InnerMint", tx.Instructions[2].Mint)
}

func TestDecodeTransaction_StringAccountKeysAndFailure(t *testing.T) {
	raw := `{"blockTime": null, "meta": {"err": {"InstructionError": [0, "Custom"]}, "preBalances": [10], "postBalances": [5]},
	  "transaction": {"message": {"accountKeys": ["Owner1"], "instructions": []}}}`

	tx, err := DecodeTransaction("sig2", []byte(raw))
	require.NoError(t, err)
	assert.True(t, tx.Failed)
	assert.Nil(t, tx.BlockTime)
	assert.Equal(t, []string{"Owner1"}, tx.AccountKeys)
}

func TestDecodeTransaction_Malformed(t *testing.T) {
	cases := map[string]string{
		"missing accountKeys": `{"meta": {"preBalances": [1], "postBalances": [1]}, "transaction": {"message": {}}}`,
		"missing message":     `{"meta": {}, "transaction": {}}`,
		"bad token amount": `{"meta": {"postTokenBalances": [{"accountIndex": 0, "uiTokenAmount": {"amount": "x", "decimals": 6}}]},
		  "transaction": {"message": {"accountKeys": ["A"]}}}`,
		"missing account index": `{"meta": {"postTokenBalances": [{"uiTokenAmount": {"amount": "1", "decimals": 0}}]},
		  "transaction": {"message": {"accountKeys": ["A"]}}}`,
		"not json": `{{`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeTransaction("sig", []byte(raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, entity.ErrMalformedRecord)
		})
	}
}

func TestDecodeTransaction_MissingMeta(t *testing.T) {
	tx, err := DecodeTransaction("sig", []byte(`{"transaction": {"message": {"accountKeys": ["A"]}}}`))
	require.NoError(t, err)
	assert.Nil(t, tx.PreBalances)
	assert.Nil(t, tx.PostBalances)
}
