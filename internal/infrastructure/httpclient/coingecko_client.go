package httpclient

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"portfolio_sync/internal/app/port"
	"portfolio_sync/internal/domain/entity"
	"portfolio_sync/internal/infrastructure/configloader"
	"portfolio_sync/internal/pkg/utils"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CoinGeckoClient implements port.PriceClient against the CoinGecko simple price API.
// The native asset and registry tokens with a coingeckoId are priced by coin id,
// every other mint by contract address on the network's platform.
type CoinGeckoClient struct {
	client  *fasthttp.Client
	baseURL string
	apiKey  string
	timeout time.Duration
	maxIDs  int
	limiter *rate.Limiter
	network entity.NetworkDefinition
	tokens  port.TokenProvider
	logger  *zap.Logger
}

// NewCoinGeckoClient creates a new instance of CoinGeckoClient.
func NewCoinGeckoClient(
	cfg configloader.PriceSourceConfig,
	network entity.NetworkDefinition,
	tokens port.TokenProvider,
	logger *zap.Logger,
) *CoinGeckoClient {
	maxIDs := cfg.MaxIDsPerRequest
	if maxIDs <= 0 {
		maxIDs = 30
	}
	limit := rate.Inf
	if cfg.RateLimitPerSecond > 0 {
		limit = rate.Limit(cfg.RateLimitPerSecond)
	}
	return &CoinGeckoClient{
		client:  &fasthttp.Client{Name: "portfolio_sync"},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.RequestTimeout,
		maxIDs:  maxIDs,
		limiter: rate.NewLimiter(limit, 1),
		network: network,
		tokens:  tokens,
		logger:  logger.Named("CoinGeckoClient"),
	}
}

// MaxBatchSize implements port.PriceClient.
func (c *CoinGeckoClient) MaxBatchSize() int {
	return c.maxIDs
}

// simplePriceEntry is one entry of a simple price response: {"usd": 1.2, "last_updated_at": 1700000000}.
type simplePriceEntry map[string]float64

// FetchPrices implements port.PriceClient.
func (c *CoinGeckoClient) FetchPrices(ctx context.Context, currency string, assetIDs []string) (map[string]entity.PriceObservation, error) {
	currency = strings.ToLower(currency)
	out := make(map[string]entity.PriceObservation, len(assetIDs))
	if len(assetIDs) == 0 {
		return out, nil
	}

	// coin id -> asset ids priced through it; several assets may share a coin id.
	byCoinID := make(map[string][]string)
	var coinIDs, contracts []string
	for _, id := range utils.UniqueStrings(assetIDs) {
		coinID := c.coinIDFor(id)
		if coinID == "" {
			contracts = append(contracts, id)
			continue
		}
		if _, seen := byCoinID[coinID]; !seen {
			coinIDs = append(coinIDs, coinID)
		}
		byCoinID[coinID] = append(byCoinID[coinID], id)
	}

	for _, batch := range utils.BatchStrings(coinIDs, c.maxIDs) {
		q := url.Values{}
		q.Set("ids", strings.Join(batch, ","))
		entries, err := c.get(ctx, "/simple/price", q, currency)
		if err != nil {
			return nil, err
		}
		for coinID, e := range entries {
			for _, assetID := range byCoinID[coinID] {
				if obs, ok := c.observation(assetID, currency, e); ok {
					out[assetID] = obs
				}
			}
		}
	}

	if c.network.PricePlatform != "" {
		for _, batch := range utils.BatchStrings(contracts, c.maxIDs) {
			q := url.Values{}
			q.Set("contract_addresses", strings.Join(batch, ","))
			entries, err := c.get(ctx, "/simple/token_price/"+c.network.PricePlatform, q, currency)
			if err != nil {
				return nil, err
			}
			for _, assetID := range batch {
				if e, ok := lookupFold(entries, assetID); ok {
					if obs, ok := c.observation(assetID, currency, e); ok {
						out[assetID] = obs
					}
				}
			}
		}
	}

	c.logger.Debug("Prices fetched",
		zap.String("currency", currency),
		zap.Int("requested", len(assetIDs)),
		zap.Int("resolved", len(out)))
	return out, nil
}

func (c *CoinGeckoClient) coinIDFor(assetID string) string {
	if assetID == entity.NativeAssetID {
		return c.network.PriceCoinID
	}
	if c.tokens != nil {
		if t, ok := c.tokens.GetToken(assetID); ok {
			return t.CoingeckoID
		}
	}
	return ""
}

func (c *CoinGeckoClient) meta(assetID string) entity.DisplayMeta {
	if assetID == entity.NativeAssetID {
		return c.network.NativeMeta()
	}
	if c.tokens != nil {
		if t, ok := c.tokens.GetToken(assetID); ok {
			return t.Meta()
		}
	}
	return entity.DisplayMeta{}
}

func (c *CoinGeckoClient) observation(assetID, currency string, e simplePriceEntry) (entity.PriceObservation, bool) {
	price, ok := e[currency]
	if !ok || price < 0 {
		return entity.PriceObservation{}, false
	}
	obs := entity.PriceObservation{
		AssetID: assetID,
		Price:   decimal.NewFromFloat(price),
		Meta:    c.meta(assetID),
	}
	if ts, ok := e["last_updated_at"]; ok && ts > 0 {
		obs.ObservedAt = time.Unix(int64(ts), 0).UTC()
	}
	return obs, true
}

func (c *CoinGeckoClient) get(ctx context.Context, path string, q url.Values, currency string) (map[string]simplePriceEntry, error) {
	q.Set("vs_currencies", currency)
	q.Set("include_last_updated_at", "true")
	requestURL := c.baseURL + path + "?" + q.Encode()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: price rate limiter: %w", entity.ErrTransport, err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(requestURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		if strings.Contains(c.baseURL, "pro-api") {
			req.Header.Set("x-cg-pro-api-key", c.apiKey)
		} else {
			req.Header.Set("x-cg-demo-api-key", c.apiKey)
		}
	}

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	deadline, ok := ctx.Deadline()
	if ok {
		if err := c.client.DoDeadline(req, resp, deadline); err != nil {
			c.logger.Error("Failed to execute request to CoinGecko", zap.String("url", requestURL), zap.Error(err))
			return nil, fmt.Errorf("%w: request to %s: %w", entity.ErrTransport, path, err)
		}
	} else {
		if err := c.client.DoTimeout(req, resp, c.timeout); err != nil {
			c.logger.Error("Failed to execute request to CoinGecko (with default timeout)", zap.String("url", requestURL), zap.Error(err))
			return nil, fmt.Errorf("%w: request to %s with default timeout: %w", entity.ErrTransport, path, err)
		}
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		c.logger.Error("CoinGecko API request failed",
			zap.String("url", requestURL),
			zap.Int("statusCode", resp.StatusCode()),
			zap.ByteString("responseBody", resp.Body()))
		return nil, fmt.Errorf("%w: CoinGecko request to %s failed with status %d", entity.ErrTransport, path, resp.StatusCode())
	}

	var entries map[string]simplePriceEntry
	if err := json.Unmarshal(resp.Body(), &entries); err != nil {
		return nil, fmt.Errorf("%w: CoinGecko response from %s: %w", entity.ErrMalformedRecord, path, err)
	}
	return entries, nil
}

func lookupFold(entries map[string]simplePriceEntry, key string) (simplePriceEntry, bool) {
	if e, ok := entries[key]; ok {
		return e, true
	}
	for k, e := range entries {
		if strings.EqualFold(k, key) {
			return e, true
		}
	}
	return nil, false
}
