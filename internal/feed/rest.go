package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"mdpipe/pkg/types"
)

const (
	binanceRESTBase = "https://api.binance.com"
	bybitRESTBase   = "https://api.bybit.com"
)

// RESTBootstrapper fetches an initial depth snapshot over HTTP before a
// feed's websocket delta stream attaches, mirroring the standard practice
// the Binance dispatch rules already anticipate by treating depthUpdate
// and lastUpdateId snapshots the same way: the REST snapshot just arrives
// first, as a third source of the same "treat as snapshot" semantics.
type RESTBootstrapper struct {
	http *resty.Client
}

// NewRESTBootstrapper builds a resty client with retry/timeout, matching
// the teacher's internal/exchange.Client construction.
func NewRESTBootstrapper() *RESTBootstrapper {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	return &RESTBootstrapper{http: client}
}

// BinanceDepth fetches /api/v3/depth for instrument at the given limit
// (Binance accepts 5, 10, 20, 50, 100, 500, 1000, 5000).
func (r *RESTBootstrapper) BinanceDepth(ctx context.Context, instrument string, limit int) ([]types.PriceLevel, []types.PriceLevel, error) {
	var result struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	resp, err := r.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": strings.ToUpper(instrument),
			"limit":  fmt.Sprintf("%d", limit),
		}).
		SetResult(&result).
		Get(binanceRESTBase + "/api/v3/depth")
	if err != nil {
		return nil, nil, fmt.Errorf("binance depth: %w", err)
	}
	if resp.IsError() {
		return nil, nil, fmt.Errorf("binance depth: status %d: %s", resp.StatusCode(), resp.String())
	}
	return pairsToLevels(result.Bids), pairsToLevels(result.Asks), nil
}

// BybitDepth fetches /v5/market/orderbook for instrument at the given
// limit (Bybit spot accepts 1, 50, 200).
func (r *RESTBootstrapper) BybitDepth(ctx context.Context, instrument string, limit int) ([]types.PriceLevel, []types.PriceLevel, error) {
	var result struct {
		Result struct {
			Bids [][2]string `json:"b"`
			Asks [][2]string `json:"a"`
		} `json:"result"`
	}
	resp, err := r.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"category": "spot",
			"symbol":   strings.ToUpper(instrument),
			"limit":    fmt.Sprintf("%d", limit),
		}).
		SetResult(&result).
		Get(bybitRESTBase + "/v5/market/orderbook")
	if err != nil {
		return nil, nil, fmt.Errorf("bybit depth: %w", err)
	}
	if resp.IsError() {
		return nil, nil, fmt.Errorf("bybit depth: status %d: %s", resp.StatusCode(), resp.String())
	}
	return pairsToLevels(result.Result.Bids), pairsToLevels(result.Result.Asks), nil
}

func pairsToLevels(pairs [][2]string) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(pairs))
	for _, p := range pairs {
		px, ok1 := parseDecimalField(p[0])
		qty, ok2 := parseDecimalField(p[1])
		if !ok1 || !ok2 {
			continue
		}
		out = append(out, types.PriceLevel{Price: px, Qty: qty})
	}
	return out
}
