package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantleaf/crossarb/internal/domain"
	"github.com/quantleaf/crossarb/internal/venue"
)

// kalshiCommand is the JSON command envelope for the Kalshi trade WebSocket.
type kalshiCommand struct {
	ID     int                `json:"id"`
	Cmd    string             `json:"cmd"`
	Params kalshiCommandParam `json:"params"`
}

type kalshiCommandParam struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers"`
}

// kalshiEnvelope is the outer frame of every Kalshi WebSocket message.
type kalshiEnvelope struct {
	Type string          `json:"type"`
	Msg  json.RawMessage `json:"msg"`
}

// kalshiSnapshot is an orderbook_snapshot message. Price levels are
// [price_cents, contracts] tuples of resting bids; the YES ask is implied by
// the best NO bid.
type kalshiSnapshot struct {
	MarketTicker string  `json:"market_ticker"`
	Yes          [][]int `json:"yes"`
	No           [][]int `json:"no"`
}

// kalshiDelta is an orderbook_delta message carrying a signed contract count
// change at one price level.
type kalshiDelta struct {
	MarketTicker string `json:"market_ticker"`
	Price        int    `json:"price"`
	Delta        int    `json:"delta"`
	Side         string `json:"side"` // "yes" or "no"
}

// kalshiBookState holds resting YES and NO bids for one market.
type kalshiBookState struct {
	yesBids *levelBook
	noBids  *levelBook
}

// KalshiFeed subscribes to the Kalshi orderbook channels for the configured
// market tickers and emits canonical quotes. Kalshi books list only resting
// bids per side; the ask on one side is one dollar minus the best bid on the
// other.
type KalshiFeed struct {
	wsURL   string
	apiKey  string
	token   string
	tickers []string
	books   map[string]*kalshiBookState
	logger  *slog.Logger
}

// NewKalshiFeed creates a feed for the Kalshi tickers of the given pairs.
// Pairs without a Kalshi instrument are skipped.
func NewKalshiFeed(wsURL, apiKey, token string, pairs []domain.MarketPair, logger *slog.Logger) *KalshiFeed {
	f := &KalshiFeed{
		wsURL:  wsURL,
		apiKey: apiKey,
		token:  token,
		books:  make(map[string]*kalshiBookState),
		logger: logger.With(slog.String("component", "kalshi_feed")),
	}
	for _, p := range pairs {
		if p.KalshiTicker == "" {
			continue
		}
		f.tickers = append(f.tickers, p.KalshiTicker)
		f.books[p.KalshiTicker] = &kalshiBookState{yesBids: newLevelBook(), noBids: newLevelBook()}
	}
	return f
}

func (f *KalshiFeed) Venue() domain.Venue { return domain.VenueKalshi }

// Run connects, subscribes, and dispatches quotes until ctx is cancelled.
// Reconnects with exponential backoff on disconnect.
func (f *KalshiFeed) Run(ctx context.Context, handler venue.QuoteHandler) error {
	if len(f.tickers) == 0 {
		f.logger.Info("no kalshi tickers to subscribe, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	delay := reconnectDelay
	for {
		err := f.runConnection(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("kalshi ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = nextDelay(delay)
	}
}

func (f *KalshiFeed) runConnection(ctx context.Context, handler venue.QuoteHandler) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	header := http.Header{}
	if f.apiKey != "" {
		header.Set("KALSHI-ACCESS-KEY", f.apiKey)
	}
	if f.token != "" {
		header.Set("Authorization", "Bearer "+f.token)
	}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, header)
	if err != nil {
		return fmt.Errorf("kalshi ws: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go pingLoop(connCtx, conn)
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	cmd := kalshiCommand{
		ID:  1,
		Cmd: "subscribe",
		Params: kalshiCommandParam{
			Channels:      []string{"orderbook_snapshot", "orderbook_delta"},
			MarketTickers: f.tickers,
		},
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("kalshi ws: subscribe: %w", err)
	}
	f.logger.Info("kalshi ws subscribed", slog.Int("tickers", len(f.tickers)))

	for _, st := range f.books {
		st.yesBids.reset()
		st.noBids.reset()
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("kalshi ws: read: %w", err)
		}
		f.handleMessage(ctx, raw, handler)
	}
}

func (f *KalshiFeed) handleMessage(ctx context.Context, raw []byte, handler venue.QuoteHandler) {
	var env kalshiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	switch env.Type {
	case "orderbook_snapshot":
		var snap kalshiSnapshot
		if err := json.Unmarshal(env.Msg, &snap); err != nil {
			return
		}
		st, ok := f.books[snap.MarketTicker]
		if !ok {
			return
		}
		st.yesBids.reset()
		st.noBids.reset()
		for _, lvl := range snap.Yes {
			if len(lvl) == 2 {
				st.yesBids.set(centsToDollars(lvl[0]), float64(lvl[1]))
			}
		}
		for _, lvl := range snap.No {
			if len(lvl) == 2 {
				st.noBids.set(centsToDollars(lvl[0]), float64(lvl[1]))
			}
		}
		f.emit(ctx, snap.MarketTicker, handler)

	case "orderbook_delta":
		var delta kalshiDelta
		if err := json.Unmarshal(env.Msg, &delta); err != nil {
			return
		}
		st, ok := f.books[delta.MarketTicker]
		if !ok {
			return
		}
		if delta.Side == "yes" {
			st.yesBids.add(centsToDollars(delta.Price), float64(delta.Delta))
		} else {
			st.noBids.add(centsToDollars(delta.Price), float64(delta.Delta))
		}
		f.emit(ctx, delta.MarketTicker, handler)
	}
}

// emit publishes YES and NO quotes for one market from the current book.
func (f *KalshiFeed) emit(ctx context.Context, ticker string, handler venue.QuoteHandler) {
	st := f.books[ticker]
	yesBid, yesBidSize, hasYes := st.yesBids.best(true)
	noBid, noBidSize, hasNo := st.noBids.best(true)
	if !hasYes && !hasNo {
		return
	}
	now := time.Now()

	yes := domain.Quote{
		Venue:      domain.VenueKalshi,
		Instrument: ticker,
		Side:       domain.SideYes,
		At:         now,
	}
	no := domain.Quote{
		Venue:      domain.VenueKalshi,
		Instrument: ticker,
		Side:       domain.SideNo,
		At:         now,
	}
	if hasYes {
		yes.Bid, yes.BidSize = yesBid, yesBidSize
		no.Ask, no.AskSize = 1-yesBid, yesBidSize
	}
	if hasNo {
		no.Bid, no.BidSize = noBid, noBidSize
		yes.Ask, yes.AskSize = 1-noBid, noBidSize
	}
	handler(ctx, yes)
	handler(ctx, no)
}

func centsToDollars(cents int) float64 {
	return float64(cents) / 100
}

var _ venue.Feed = (*KalshiFeed)(nil)
