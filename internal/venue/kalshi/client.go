// Package kalshi implements the Kalshi trade API order entry client.
package kalshi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/quantleaf/crossarb/internal/domain"
	"github.com/quantleaf/crossarb/internal/venue"
)

// Client is the REST client for the Kalshi trade API.
type Client struct {
	baseURL    string
	apiKey     string
	token      string
	httpClient *http.Client
}

// NewClient creates a trade API client. baseURL is the API root, e.g.
// "https://api.elections.kalshi.com/trade-api/v2".
func NewClient(baseURL, apiKey, token string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Venue() domain.Venue { return domain.VenueKalshi }

// apiOrder is the order object embedded in trade API responses.
type apiOrder struct {
	OrderID        string `json:"order_id"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"` // resting, executed, canceled, pending
	Side           string `json:"side"`
	YesPrice       int    `json:"yes_price"`
	NoPrice        int    `json:"no_price"`
	Count          int    `json:"count"`
	RemainingCount int    `json:"remaining_count"`
	TakerFillCount int    `json:"taker_fill_count"`
}

// apiFill is a fill record from the portfolio fills endpoint.
type apiFill struct {
	TradeID  string `json:"trade_id"`
	OrderID  string `json:"order_id"`
	Side     string `json:"side"`
	YesPrice int    `json:"yes_price"`
	NoPrice  int    `json:"no_price"`
	Count    int    `json:"count"`
	Ts       string `json:"created_time"`
}

// SubmitOrder places an immediate-or-cancel limit order. Kalshi prices are
// integer cents and sizes integer contracts; fractional sizes round down.
func (c *Client) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (venue.OrderHandle, error) {
	count := int(math.Floor(intent.Size))
	if count <= 0 {
		return venue.OrderHandle{}, &venue.Rejection{
			Venue: domain.VenueKalshi, Code: "invalid_size",
			Detail: fmt.Sprintf("size %v rounds to zero contracts", intent.Size),
		}
	}

	body := map[string]any{
		"ticker": intent.Instrument,
		"action": "buy",
		"side":   string(intent.Side),
		"type":   "limit",
		"count":  count,
	}
	priceCents := int(math.Round(intent.LimitPrice * 100))
	if intent.Side == domain.SideYes {
		body["yes_price"] = priceCents
	} else {
		body["no_price"] = priceCents
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/portfolio/orders", body)
	if err != nil {
		return venue.OrderHandle{}, err
	}

	var result struct {
		Order apiOrder `json:"order"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return venue.OrderHandle{}, &venue.TransportError{
			Venue: domain.VenueKalshi, Op: "submit",
			Err: fmt.Errorf("decode order response: %w", err),
		}
	}
	if result.Order.OrderID == "" {
		return venue.OrderHandle{}, &venue.Rejection{
			Venue: domain.VenueKalshi, Code: "no_order_id",
			Detail: string(respBody),
		}
	}

	return venue.OrderHandle{Venue: domain.VenueKalshi, OrderID: result.Order.OrderID}, nil
}

// Cancel cancels a resting order. Returns true when the venue confirmed it.
func (c *Client) Cancel(ctx context.Context, handle venue.OrderHandle) (bool, error) {
	path := fmt.Sprintf("/portfolio/orders/%s", handle.OrderID)

	respBody, err := c.doRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		if venue.IsRejection(err) {
			// Already filled or already gone; not a confirmed cancel.
			return false, err
		}
		return false, err
	}

	var result struct {
		Order apiOrder `json:"order"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return false, &venue.TransportError{
			Venue: domain.VenueKalshi, Op: "cancel",
			Err: fmt.Errorf("decode cancel response: %w", err),
		}
	}
	return result.Order.Status == "canceled", nil
}

// QueryStatus fetches the venue-side state of an order, including fill
// details when any contracts matched.
func (c *Client) QueryStatus(ctx context.Context, handle venue.OrderHandle) (venue.OrderStatus, error) {
	path := fmt.Sprintf("/portfolio/orders/%s", handle.OrderID)

	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return venue.OrderStatus{}, err
	}

	var result struct {
		Order apiOrder `json:"order"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return venue.OrderStatus{}, &venue.TransportError{
			Venue: domain.VenueKalshi, Op: "status",
			Err: fmt.Errorf("decode order: %w", err),
		}
	}
	order := result.Order

	status := venue.OrderStatus{At: time.Now()}
	filled := order.Count - order.RemainingCount
	status.FilledSize = float64(filled)

	switch order.Status {
	case "executed":
		status.State = venue.OrderStateFilled
	case "resting", "pending":
		if filled > 0 {
			status.State = venue.OrderStatePartial
		} else {
			status.State = venue.OrderStateOpen
		}
	case "canceled":
		// Terminal; FilledSize reports any contracts matched beforehand.
		status.State = venue.OrderStateCancelled
	default:
		status.State = venue.OrderStateUnknown
	}

	if filled > 0 {
		if fill, err := c.firstFill(ctx, handle.OrderID); err == nil {
			status.FillID = fill.TradeID
			if fill.Side == "no" {
				status.FilledPrice = float64(fill.NoPrice) / 100
			} else {
				status.FilledPrice = float64(fill.YesPrice) / 100
			}
		} else {
			// Fall back to the order's limit price; the fill ID stays
			// empty and the caller treats the order ID as the dedup key.
			if order.Side == "no" {
				status.FilledPrice = float64(order.NoPrice) / 100
			} else {
				status.FilledPrice = float64(order.YesPrice) / 100
			}
		}
	}

	return status, nil
}

// firstFill returns the earliest fill recorded for an order.
func (c *Client) firstFill(ctx context.Context, orderID string) (apiFill, error) {
	path := "/portfolio/fills?" + url.Values{"order_id": {orderID}}.Encode()

	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return apiFill{}, err
	}

	var result struct {
		Fills []apiFill `json:"fills"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return apiFill{}, &venue.TransportError{
			Venue: domain.VenueKalshi, Op: "fills",
			Err: fmt.Errorf("decode fills: %w", err),
		}
	}
	if len(result.Fills) == 0 {
		return apiFill{}, fmt.Errorf("kalshi: no fills for order %s: %w", orderID, domain.ErrNotFound)
	}
	return result.Fills[0], nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("kalshi: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("kalshi: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("KALSHI-ACCESS-KEY", c.apiKey)
		req.Header.Set("KALSHI-ACCESS-TIMESTAMP", strconv.FormatInt(time.Now().UnixMilli(), 10))
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &venue.TransportError{Venue: domain.VenueKalshi, Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &venue.TransportError{Venue: domain.VenueKalshi, Op: method + " " + path, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &venue.TransportError{
			Venue: domain.VenueKalshi, Op: method + " " + path,
			Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody)),
		}
	default:
		return nil, &venue.Rejection{
			Venue:  domain.VenueKalshi,
			Code:   strconv.Itoa(resp.StatusCode),
			Detail: string(respBody),
		}
	}
}

var _ venue.TradingAPI = (*Client)(nil)
