package client

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"portfolio_sync/internal/domain/entity"
	"portfolio_sync/internal/infrastructure/configloader"
	"portfolio_sync/internal/pkg/solana"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// tokenAccountSize is the data length of a classic token account.
const tokenAccountSize = 165

// tokenAccountOwnerOffset is the offset of the owner field inside token account data.
const tokenAccountOwnerOffset = 32

// SolanaClient implements port.LedgerClient over Solana JSON-RPC.
type SolanaClient struct {
	client     *fasthttp.Client
	endpoints  []string
	timeout    time.Duration
	retryCount int
	retryDelay time.Duration
	commitment string
	limiter    *rate.Limiter
	logger     *zap.Logger
	requestID  atomic.Uint64
}

// NewSolanaClient creates a client for netDef. Attempts rotate through the primary and fallback endpoints.
func NewSolanaClient(netDef entity.NetworkDefinition, cfg configloader.LedgerConfig, logger *zap.Logger) *SolanaClient {
	retries := cfg.RetryCount
	if retries <= 0 {
		retries = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.RateLimitPerSecond > 0 {
		limit = rate.Limit(cfg.RateLimitPerSecond)
	}

	c := &SolanaClient{
		client:     &fasthttp.Client{Name: "portfolio_sync"},
		endpoints:  append([]string{netDef.PrimaryRPCURL}, netDef.FallbackRPCURLs...),
		timeout:    cfg.RequestTimeout,
		retryCount: retries,
		retryDelay: cfg.RetryDelay,
		commitment: cfg.Commitment,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger.Named("SolanaClient"),
	}
	if c.commitment == "" {
		c.commitment = "confirmed"
	}
	return c
}

// GetBalance implements port.LedgerClient.
func (c *SolanaClient) GetBalance(ctx context.Context, address string) (uint64, error) {
	var res struct {
		Value uint64 `json:"value"`
	}
	params := []any{address, map[string]any{"commitment": c.commitment}}
	if err := c.call(ctx, "getBalance", params, &res); err != nil {
		return 0, err
	}
	return res.Value, nil
}

// GetTokenAccountsByOwner implements port.LedgerClient. Filtering happens on the node through a
// memcmp on the owner field, plus a data size filter for the classic token program.
func (c *SolanaClient) GetTokenAccountsByOwner(ctx context.Context, owner, programID string) ([]entity.TokenAccount, error) {
	filters := []any{
		map[string]any{"memcmp": map[string]any{"offset": tokenAccountOwnerOffset, "bytes": owner}},
	}
	if programID == solana.TokenProgramID {
		filters = append([]any{map[string]any{"dataSize": tokenAccountSize}}, filters...)
	}
	params := []any{programID, map[string]any{
		"encoding":   "jsonParsed",
		"commitment": c.commitment,
		"filters":    filters,
	}}

	var raw []rawProgramAccount
	if err := c.call(ctx, "getProgramAccounts", params, &raw); err != nil {
		return nil, err
	}

	accounts := make([]entity.TokenAccount, 0, len(raw))
	for _, item := range raw {
		accounts = append(accounts, item.decode(programID))
	}
	return accounts, nil
}

// GetSignaturesForAddress implements port.LedgerClient.
func (c *SolanaClient) GetSignaturesForAddress(ctx context.Context, address, before string, limit int) ([]entity.SignatureInfo, error) {
	opts := map[string]any{"commitment": c.commitment}
	if limit > 0 {
		opts["limit"] = limit
	}
	if before != "" {
		opts["before"] = before
	}

	var raw []struct {
		Signature string              `json:"signature"`
		Slot      uint64              `json:"slot"`
		BlockTime *int64              `json:"blockTime"`
		Err       jsoniter.RawMessage `json:"err"`
	}
	if err := c.call(ctx, "getSignaturesForAddress", []any{address, opts}, &raw); err != nil {
		return nil, err
	}

	out := make([]entity.SignatureInfo, 0, len(raw))
	for _, r := range raw {
		out = append(out, entity.SignatureInfo{
			Signature: r.Signature,
			Slot:      r.Slot,
			BlockTime: unixTime(r.BlockTime),
			Failed:    isErrSet(r.Err),
		})
	}
	return out, nil
}

// GetParsedTransaction implements port.LedgerClient. A transaction the node does not return is
// reported as a malformed, not found record.
func (c *SolanaClient) GetParsedTransaction(ctx context.Context, signature string) (*entity.ParsedTransaction, error) {
	params := []any{signature, map[string]any{
		"encoding":                       "jsonParsed",
		"commitment":                     c.commitment,
		"maxSupportedTransactionVersion": 0,
	}}

	var raw jsoniter.RawMessage
	if err := c.call(ctx, "getTransaction", params, &raw); err != nil {
		return nil, err
	}
	return DecodeTransaction(signature, raw)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      uint64              `json:"id"`
	Result  jsoniter.RawMessage `json:"result"`
	Error   *rpcError           `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call with a fixed delay between attempts. Only transport failures are
// retried; RPC error objects and undecodable results are returned at once.
func (c *SolanaClient) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	var lastErr error
	for attempt := 0; attempt < c.retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %w", entity.ErrTransport, method, ctx.Err())
			case <-time.After(c.retryDelay):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %s: rate limiter: %w", entity.ErrTransport, method, err)
		}

		endpoint := c.endpoints[attempt%len(c.endpoints)]
		raw, err := c.post(ctx, endpoint, body)
		if err != nil {
			lastErr = err
			c.logger.Warn("RPC attempt failed",
				zap.String("method", method),
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			lastErr = fmt.Errorf("failed to unmarshal RPC envelope: %w", err)
			continue
		}
		if resp.Error != nil {
			return fmt.Errorf("%w: %s: %w", entity.ErrTransport, method, resp.Error)
		}
		if result == nil {
			return nil
		}
		res := resp.Result
		if len(res) == 0 {
			res = jsoniter.RawMessage("null")
		}
		if err := json.Unmarshal(res, result); err != nil {
			return fmt.Errorf("%w: %s result: %w", entity.ErrMalformedRecord, method, err)
		}
		return nil
	}

	return fmt.Errorf("%w: %s failed after %d attempts: %w", entity.ErrTransport, method, c.retryCount, lastErr)
}

func (c *SolanaClient) post(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBodyRaw(body)

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return nil, fmt.Errorf("request to %s timed out: %w", endpoint, err)
		}
		return nil, fmt.Errorf("failed to execute request to %s: %w", endpoint, err)
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK:
	case fasthttp.StatusTooManyRequests:
		return nil, fmt.Errorf("rate limited by %s (429)", endpoint)
	default:
		return nil, fmt.Errorf("request to %s failed with status %d: %s", endpoint, resp.StatusCode(), string(resp.Body()))
	}

	// resp is released on return, so the body must be copied.
	return append([]byte(nil), resp.Body()...), nil
}

type rawProgramAccount struct {
	Pubkey  string `json:"pubkey"`
	Account struct {
		Owner string              `json:"owner"`
		Data  jsoniter.RawMessage `json:"data"`
	} `json:"account"`
}

type rawParsedTokenAccount struct {
	Program string `json:"program"`
	Parsed  struct {
		Type string `json:"type"`
		Info struct {
			Mint        string         `json:"mint"`
			Owner       string         `json:"owner"`
			TokenAmount rawTokenAmount `json:"tokenAmount"`
		} `json:"info"`
	} `json:"parsed"`
}

func (a rawProgramAccount) decode(programID string) entity.TokenAccount {
	out := entity.TokenAccount{Address: a.Pubkey, ProgramID: programID}
	if a.Account.Owner != "" {
		out.ProgramID = a.Account.Owner
	}

	var parsed rawParsedTokenAccount
	if err := json.Unmarshal(a.Account.Data, &parsed); err != nil {
		out.Err = fmt.Errorf("%w: account %s: data is not parsed: %w", entity.ErrMalformedRecord, a.Pubkey, err)
		return out
	}
	if parsed.Parsed.Type != "account" || parsed.Parsed.Info.Mint == "" {
		out.Err = fmt.Errorf("%w: account %s: unexpected parsed type %q", entity.ErrMalformedRecord, a.Pubkey, parsed.Parsed.Type)
		return out
	}

	amount, err := parsed.Parsed.Info.TokenAmount.value()
	if err != nil {
		out.Err = fmt.Errorf("%w: account %s: %w", entity.ErrMalformedRecord, a.Pubkey, err)
		return out
	}
	out.Mint = parsed.Parsed.Info.Mint
	out.Owner = parsed.Parsed.Info.Owner
	out.Amount = amount
	out.Decimals = parsed.Parsed.Info.TokenAmount.Decimals
	return out
}
