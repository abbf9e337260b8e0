// Package polymarket implements the Polymarket CLOB order entry client.
// Order signing happens outside this process; the client attaches
// pre-provisioned API credentials to each request.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/quantleaf/crossarb/internal/domain"
	"github.com/quantleaf/crossarb/internal/venue"
)

// AuthProvider supplies the authentication headers for a CLOB request.
// Implementations may HMAC-sign the request externally.
type AuthProvider interface {
	Headers(method, path, body string) (map[string]string, error)
}

// StaticAuth attaches a fixed API key and secret as headers.
type StaticAuth struct {
	Key    string
	Secret string
}

func (a StaticAuth) Headers(method, path, body string) (map[string]string, error) {
	h := map[string]string{
		"POLY_API_KEY":   a.Key,
		"POLY_TIMESTAMP": strconv.FormatInt(time.Now().Unix(), 10),
	}
	if a.Secret != "" {
		h["POLY_PASSPHRASE"] = a.Secret
	}
	return h, nil
}

// Client is the REST client for the Polymarket CLOB order endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       AuthProvider
}

// NewClient creates a CLOB order client. baseURL is the API root, e.g.
// "https://clob.polymarket.com".
func NewClient(baseURL string, auth AuthProvider) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		auth: auth,
	}
}

func (c *Client) Venue() domain.Venue { return domain.VenuePolymarket }

// orderResult is the response from placing an order.
type orderResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg,omitempty"`
	OrderID  string `json:"orderID,omitempty"`
	Status   string `json:"status,omitempty"`
}

// apiOrder is an order as returned by the CLOB order status endpoint.
type apiOrder struct {
	ID              string   `json:"id"`
	Status          string   `json:"status"`
	AssetID         string   `json:"asset_id"`
	Side            string   `json:"side"`
	OriginalSize    string   `json:"original_size"`
	SizeMatched     string   `json:"size_matched"`
	Price           string   `json:"price"`
	AssociateTrades []string `json:"associate_trades"`
}

// SubmitOrder places a marketable limit order for one leg.
func (c *Client) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (venue.OrderHandle, error) {
	body := map[string]any{
		"order": map[string]any{
			"tokenID": intent.Instrument,
			"price":   strconv.FormatFloat(intent.LimitPrice, 'f', -1, 64),
			"size":    strconv.FormatFloat(intent.Size, 'f', -1, 64),
			"side":    "BUY",
			"outcome": string(intent.Side),
		},
		"orderType": "FAK",
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return venue.OrderHandle{}, err
	}

	var result orderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return venue.OrderHandle{}, &venue.TransportError{
			Venue: domain.VenuePolymarket, Op: "submit",
			Err: fmt.Errorf("decode order result: %w", err),
		}
	}
	if !result.Success {
		return venue.OrderHandle{}, &venue.Rejection{
			Venue: domain.VenuePolymarket, Code: result.Status, Detail: result.ErrorMsg,
		}
	}

	return venue.OrderHandle{Venue: domain.VenuePolymarket, OrderID: result.OrderID}, nil
}

// Cancel cancels an order. Returns true when the venue confirmed the cancel.
func (c *Client) Cancel(ctx context.Context, handle venue.OrderHandle) (bool, error) {
	body := map[string]any{"orderID": handle.OrderID}

	respBody, err := c.doRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return false, err
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return false, &venue.TransportError{
			Venue: domain.VenuePolymarket, Op: "cancel",
			Err: fmt.Errorf("decode cancel response: %w", err),
		}
	}
	return result.Success, nil
}

// QueryStatus fetches the current venue-side state of an order.
func (c *Client) QueryStatus(ctx context.Context, handle venue.OrderHandle) (venue.OrderStatus, error) {
	path := fmt.Sprintf("/data/order/%s", handle.OrderID)

	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return venue.OrderStatus{}, err
	}

	var order apiOrder
	if err := json.Unmarshal(respBody, &order); err != nil {
		return venue.OrderStatus{}, &venue.TransportError{
			Venue: domain.VenuePolymarket, Op: "status",
			Err: fmt.Errorf("decode order: %w", err),
		}
	}

	status := venue.OrderStatus{At: time.Now()}
	status.FilledSize, _ = strconv.ParseFloat(order.SizeMatched, 64)
	status.FilledPrice, _ = strconv.ParseFloat(order.Price, 64)
	if len(order.AssociateTrades) > 0 {
		status.FillID = order.AssociateTrades[0]
	}

	original, _ := strconv.ParseFloat(order.OriginalSize, 64)
	switch order.Status {
	case "MATCHED":
		// An FAK order's unfilled remainder is killed at match time, so
		// MATCHED is terminal even when only part of the size crossed.
		if status.FilledSize < original {
			status.State = venue.OrderStateCancelled
		} else {
			status.State = venue.OrderStateFilled
		}
	case "LIVE", "DELAYED":
		if status.FilledSize > 0 {
			status.State = venue.OrderStatePartial
		} else {
			status.State = venue.OrderStateOpen
		}
	case "CANCELED", "UNMATCHED":
		status.State = venue.OrderStateCancelled
	default:
		status.State = venue.OrderStateUnknown
	}

	return status, nil
}

// doRequest builds, authenticates, and sends one HTTP request. Network and
// 5xx failures come back as transport errors; venue refusals as rejections.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("polymarket: marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("polymarket: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.auth != nil {
		headers, err := c.auth.Headers(method, path, bodyStr)
		if err != nil {
			return nil, fmt.Errorf("polymarket: auth headers: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &venue.TransportError{Venue: domain.VenuePolymarket, Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &venue.TransportError{Venue: domain.VenuePolymarket, Op: method + " " + path, Err: err}
	}

	if err := classifyStatus(resp.StatusCode, method+" "+path, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// classifyStatus maps a non-2xx response to transport error or rejection.
func classifyStatus(code int, op string, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return &venue.TransportError{
			Venue: domain.VenuePolymarket, Op: op,
			Err: fmt.Errorf("HTTP %d: %s", code, string(body)),
		}
	default:
		return &venue.Rejection{
			Venue:  domain.VenuePolymarket,
			Code:   strconv.Itoa(code),
			Detail: string(body),
		}
	}
}

var _ venue.TradingAPI = (*Client)(nil)
