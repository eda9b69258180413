// lighter_rest.go implements the REST client used for Lighter's initial
// deep order book snapshot (taken at subscribe time) and its periodic
// re-snapshot cadence. The WebSocket stream only carries diffs, so this
// REST path is what keeps the book from drifting indefinitely.
package exchange

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"dex-orderbook-aggregator/pkg/bookdata"
)

// LighterRESTClient fetches order book depth via Lighter's REST API.
type LighterRESTClient struct {
	http *resty.Client
	rl   *RateLimiter
}

// NewLighterRESTClient constructs a REST client rate-limited at
// ratePerSecond, used to pace calls to /api/v1/orderBookOrders.
func NewLighterRESTClient(baseURL string, timeout time.Duration, ratePerSecond float64) *LighterRESTClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &LighterRESTClient{
		http: httpClient,
		rl:   NewRateLimiter(ratePerSecond),
	}
}

type lighterOrderBookLevel struct {
	Price               string `json:"price"`
	RemainingBaseAmount string `json:"remaining_base_amount"`
}

type lighterOrderBookOrdersResponse struct {
	Bids []lighterOrderBookLevel `json:"bids"`
	Asks []lighterOrderBookLevel `json:"asks"`
}

// GetOrderBookOrders fetches the order book for a single market index.
// depth of 0 omits the query parameter, matching the original's optional
// depth argument.
func (c *LighterRESTClient) GetOrderBookOrders(ctx context.Context, marketIndex, limit, depth int) (bids, asks []bookdata.Level, err error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, nil, err
	}

	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("market_id", fmt.Sprintf("%d", marketIndex)).
		SetQueryParam("limit", fmt.Sprintf("%d", limit))
	if depth > 0 {
		req.SetQueryParam("depth", fmt.Sprintf("%d", depth))
	}

	var result lighterOrderBookOrdersResponse
	resp, err := req.SetResult(&result).Get("/api/v1/orderBookOrders")
	if err != nil {
		return nil, nil, fmt.Errorf("get order book orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, nil, fmt.Errorf("get order book orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	bids, err = toLighterLevels(result.Bids)
	if err != nil {
		return nil, nil, fmt.Errorf("parse bids: %w", err)
	}
	asks, err = toLighterLevels(result.Asks)
	if err != nil {
		return nil, nil, fmt.Errorf("parse asks: %w", err)
	}
	return bids, asks, nil
}

func toLighterLevels(wire []lighterOrderBookLevel) ([]bookdata.Level, error) {
	out := make([]bookdata.Level, 0, len(wire))
	for _, w := range wire {
		price, err := decimal.NewFromString(w.Price)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", w.Price, err)
		}
		size, err := decimal.NewFromString(w.RemainingBaseAmount)
		if err != nil {
			return nil, fmt.Errorf("parse size %q: %w", w.RemainingBaseAmount, err)
		}
		out = append(out, bookdata.Level{Price: price, Size: size})
	}
	return out, nil
}
