package kalshi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quantleaf/crossarb/internal/domain"
	"github.com/quantleaf/crossarb/internal/venue"
)

func TestSubmitOrderNoSide(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/portfolio/orders" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"order":{"order_id":"k-1","status":"resting"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "")
	intent := domain.OrderIntent{
		Instrument: "FED-25MAR",
		Side:       domain.SideNo,
		LimitPrice: 0.55,
		Size:       100,
	}
	handle, err := c.SubmitOrder(context.Background(), intent)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if handle.OrderID != "k-1" {
		t.Errorf("order id = %q", handle.OrderID)
	}
	if got["side"] != "no" {
		t.Errorf("side = %v", got["side"])
	}
	if got["no_price"] != float64(55) {
		t.Errorf("no_price = %v, want 55 cents", got["no_price"])
	}
	if got["count"] != float64(100) {
		t.Errorf("count = %v", got["count"])
	}
}

func TestSubmitOrderZeroContracts(t *testing.T) {
	c := NewClient("http://unused", "", "")
	_, err := c.SubmitOrder(context.Background(), domain.OrderIntent{Size: 0.4})
	if !venue.IsRejection(err) {
		t.Fatalf("want rejection for sub-contract size, got %v", err)
	}
}

func TestQueryStatusExecutedFetchesFill(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/portfolio/orders/k-1":
			w.Write([]byte(`{"order":{
				"order_id":"k-1","status":"executed","side":"yes",
				"yes_price":55,"count":100,"remaining_count":0
			}}`))
		case "/portfolio/fills":
			if r.URL.Query().Get("order_id") != "k-1" {
				t.Errorf("order_id query = %q", r.URL.Query().Get("order_id"))
			}
			w.Write([]byte(`{"fills":[{"trade_id":"t-7","order_id":"k-1","side":"yes","yes_price":55,"count":100}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "")
	status, err := c.QueryStatus(context.Background(), venue.OrderHandle{OrderID: "k-1"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != venue.OrderStateFilled {
		t.Errorf("state = %v", status.State)
	}
	if status.FillID != "t-7" {
		t.Errorf("fill id = %q", status.FillID)
	}
	if status.FilledPrice != 0.55 || status.FilledSize != 100 {
		t.Errorf("fill = %v @ %v", status.FilledSize, status.FilledPrice)
	}
}

func TestQueryStatusCancelledClean(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"order":{
			"order_id":"k-2","status":"canceled","side":"yes",
			"yes_price":55,"count":100,"remaining_count":100
		}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "")
	status, err := c.QueryStatus(context.Background(), venue.OrderHandle{OrderID: "k-2"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != venue.OrderStateCancelled {
		t.Errorf("state = %v", status.State)
	}
	if status.FilledSize != 0 {
		t.Errorf("filled = %v", status.FilledSize)
	}
}

func TestQueryStatusCancelledWithFillsIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/portfolio/orders/k-3":
			w.Write([]byte(`{"order":{
				"order_id":"k-3","status":"canceled","side":"no",
				"no_price":50,"count":100,"remaining_count":60
			}}`))
		case "/portfolio/fills":
			w.Write([]byte(`{"fills":[{"trade_id":"t-9","order_id":"k-3","side":"no","no_price":50,"count":40}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "")
	status, err := c.QueryStatus(context.Background(), venue.OrderHandle{OrderID: "k-3"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	// Canceled is terminal even when contracts matched beforehand; those
	// contracts are real exposure and must be reported.
	if status.State != venue.OrderStateCancelled {
		t.Errorf("state = %v, want cancelled", status.State)
	}
	if status.FilledSize != 40 || status.FilledPrice != 0.50 {
		t.Errorf("fill = %v @ %v", status.FilledSize, status.FilledPrice)
	}
	if status.FillID != "t-9" {
		t.Errorf("fill id = %q", status.FillID)
	}
}

func TestQueryStatusRestingPartialKeepsWorking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/portfolio/orders/k-4":
			w.Write([]byte(`{"order":{
				"order_id":"k-4","status":"resting","side":"yes",
				"yes_price":55,"count":100,"remaining_count":70
			}}`))
		case "/portfolio/fills":
			w.Write([]byte(`{"fills":[{"trade_id":"t-4","order_id":"k-4","side":"yes","yes_price":55,"count":30}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "")
	status, err := c.QueryStatus(context.Background(), venue.OrderHandle{OrderID: "k-4"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != venue.OrderStatePartial {
		t.Errorf("state = %v, want partial", status.State)
	}
	if status.FilledSize != 30 {
		t.Errorf("filled = %v", status.FilledSize)
	}
}

func TestCancelConfirmed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		w.Write([]byte(`{"order":{"order_id":"k-1","status":"canceled"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "")
	ok, err := c.Cancel(context.Background(), venue.OrderHandle{OrderID: "k-1"})
	if err != nil || !ok {
		t.Fatalf("cancel = %v, %v", ok, err)
	}
}

func TestRateLimitedIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "")
	_, err := c.QueryStatus(context.Background(), venue.OrderHandle{OrderID: "k-1"})
	if !venue.IsRetryable(err) {
		t.Fatalf("want retryable, got %v", err)
	}
}
