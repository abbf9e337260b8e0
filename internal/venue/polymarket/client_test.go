package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quantleaf/crossarb/internal/domain"
	"github.com/quantleaf/crossarb/internal/venue"
)

func testIntent() domain.OrderIntent {
	return domain.OrderIntent{
		ID:         "intent-1",
		Venue:      domain.VenuePolymarket,
		Instrument: "asset-1",
		Side:       domain.SideYes,
		LimitPrice: 0.42,
		Size:       100,
	}
}

func TestSubmitOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/order" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("POLY_API_KEY") != "key-1" {
			t.Errorf("missing auth header")
		}
		w.Write([]byte(`{"success":true,"orderID":"ord-123","status":"live"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticAuth{Key: "key-1"})
	handle, err := c.SubmitOrder(context.Background(), testIntent())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if handle.OrderID != "ord-123" {
		t.Errorf("order id = %q", handle.OrderID)
	}
}

func TestSubmitOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"errorMsg":"not enough balance"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.SubmitOrder(context.Background(), testIntent())
	if !venue.IsRejection(err) {
		t.Fatalf("want rejection, got %v", err)
	}
	if venue.IsRetryable(err) {
		t.Error("rejection must not be retryable")
	}
}

func TestServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.SubmitOrder(context.Background(), testIntent())
	if !venue.IsRetryable(err) {
		t.Fatalf("want retryable transport error, got %v", err)
	}
}

func TestClientErrorIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"invalid order"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.SubmitOrder(context.Background(), testIntent())
	if !venue.IsRejection(err) {
		t.Fatalf("want rejection, got %v", err)
	}
}

func TestQueryStatusMatched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/order/ord-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"id": "ord-1",
			"status": "MATCHED",
			"original_size": "100",
			"size_matched": "100",
			"price": "0.42",
			"associate_trades": ["trade-9"]
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	status, err := c.QueryStatus(context.Background(), venue.OrderHandle{OrderID: "ord-1"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != venue.OrderStateFilled {
		t.Errorf("state = %v", status.State)
	}
	if status.FilledSize != 100 || status.FilledPrice != 0.42 {
		t.Errorf("fill = %v @ %v", status.FilledSize, status.FilledPrice)
	}
	if status.FillID != "trade-9" {
		t.Errorf("fill id = %q", status.FillID)
	}
}

func TestQueryStatusPartialCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": "ord-2",
			"status": "CANCELED",
			"original_size": "100",
			"size_matched": "40",
			"price": "0.42"
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	status, err := c.QueryStatus(context.Background(), venue.OrderHandle{OrderID: "ord-2"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	// Off the book with 40 matched: terminal, and the fill must survive.
	if status.State != venue.OrderStateCancelled {
		t.Errorf("state = %v, want cancelled", status.State)
	}
	if status.FilledSize != 40 {
		t.Errorf("filled = %v", status.FilledSize)
	}
}

func TestQueryStatusMatchedPartialIsTerminal(t *testing.T) {
	// A FAK order that matched short of its full size has its remainder
	// killed at match time; the status is terminal, not still working.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": "ord-3",
			"status": "MATCHED",
			"original_size": "100",
			"size_matched": "60",
			"price": "0.42"
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	status, err := c.QueryStatus(context.Background(), venue.OrderHandle{OrderID: "ord-3"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != venue.OrderStateCancelled {
		t.Errorf("state = %v, want cancelled", status.State)
	}
	if status.FilledSize != 60 {
		t.Errorf("filled = %v", status.FilledSize)
	}
}

func TestQueryStatusLivePartialKeepsWorking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": "ord-4",
			"status": "LIVE",
			"original_size": "100",
			"size_matched": "25",
			"price": "0.42"
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	status, err := c.QueryStatus(context.Background(), venue.OrderHandle{OrderID: "ord-4"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	// Resting with a partial match: the remainder is still live.
	if status.State != venue.OrderStatePartial {
		t.Errorf("state = %v, want partial", status.State)
	}
	if status.FilledSize != 25 {
		t.Errorf("filled = %v", status.FilledSize)
	}
}

func TestCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	ok, err := c.Cancel(context.Background(), venue.OrderHandle{OrderID: "ord-1"})
	if err != nil || !ok {
		t.Fatalf("cancel = %v, %v", ok, err)
	}
}
