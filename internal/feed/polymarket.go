package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/quantleaf/crossarb/internal/domain"
	"github.com/quantleaf/crossarb/internal/venue"
)

// polyCommand is the JSON payload sent to the CLOB WebSocket to subscribe.
type polyCommand struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// polyBookMessage is a full orderbook snapshot for one asset.
type polyBookMessage struct {
	EventType string           `json:"event_type"`
	AssetID   string           `json:"asset_id"`
	Bids      []polyPriceLevel `json:"bids"`
	Asks      []polyPriceLevel `json:"asks"`
	Timestamp string           `json:"timestamp"`
}

// polyPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type polyPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// polyPriceChange is an incremental price-level update. Size is the new
// absolute size at the level; "0" removes it.
type polyPriceChange struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Side      string `json:"side"` // "BUY" or "SELL"
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

// polyBookState holds the live book for one asset between messages.
type polyBookState struct {
	bids *levelBook
	asks *levelBook
}

// PolymarketFeed subscribes to the Polymarket CLOB book channel for the
// configured asset IDs and emits canonical quotes. Each asset is the YES
// token of a binary market; the NO side is the mirror of the YES book
// (buying NO at p is selling YES at 1-p).
type PolymarketFeed struct {
	wsURL    string
	assetIDs []string
	books    map[string]*polyBookState
	logger   *slog.Logger
}

// NewPolymarketFeed creates a feed for the YES token asset IDs of the given
// pairs. Pairs without a Polymarket instrument are skipped.
func NewPolymarketFeed(wsURL string, pairs []domain.MarketPair, logger *slog.Logger) *PolymarketFeed {
	f := &PolymarketFeed{
		wsURL:  wsURL,
		books:  make(map[string]*polyBookState),
		logger: logger.With(slog.String("component", "polymarket_feed")),
	}
	for _, p := range pairs {
		if p.PolymarketID == "" {
			continue
		}
		f.assetIDs = append(f.assetIDs, p.PolymarketID)
		f.books[p.PolymarketID] = &polyBookState{bids: newLevelBook(), asks: newLevelBook()}
	}
	return f
}

func (f *PolymarketFeed) Venue() domain.Venue { return domain.VenuePolymarket }

// Run connects, subscribes, and dispatches quotes until ctx is cancelled.
// Reconnects with exponential backoff on disconnect.
func (f *PolymarketFeed) Run(ctx context.Context, handler venue.QuoteHandler) error {
	if len(f.assetIDs) == 0 {
		f.logger.Info("no polymarket assets to subscribe, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	delay := reconnectDelay
	for {
		err := f.runConnection(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("polymarket ws disconnected, reconnecting",
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

func (f *PolymarketFeed) runConnection(ctx context.Context, handler venue.QuoteHandler) error {
	conn, err := dial(ctx, f.wsURL)
	if err != nil {
		return fmt.Errorf("polymarket ws: connect: %w", err)
	}
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go pingLoop(connCtx, conn)
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	cmd := polyCommand{Type: "subscribe", Channel: "market", Assets: f.assetIDs}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("polymarket ws: subscribe: %w", err)
	}
	f.logger.Info("polymarket ws subscribed", slog.Int("assets", len(f.assetIDs)))

	// Books are stale after any disconnect.
	for _, st := range f.books {
		st.bids.reset()
		st.asks.reset()
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("polymarket ws: read: %w", err)
		}
		f.handleMessage(ctx, raw, handler)
	}
}

// handleMessage routes one raw frame. The CLOB sends both single messages
// and arrays of messages.
func (f *PolymarketFeed) handleMessage(ctx context.Context, raw []byte, handler venue.QuoteHandler) {
	if len(raw) > 0 && raw[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(raw, &batch); err != nil {
			return
		}
		for _, item := range batch {
			f.handleMessage(ctx, item, handler)
		}
		return
	}

	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.EventType {
	case "book":
		var book polyBookMessage
		if err := json.Unmarshal(raw, &book); err != nil {
			return
		}
		st, ok := f.books[book.AssetID]
		if !ok {
			return
		}
		st.bids.reset()
		st.asks.reset()
		for _, lvl := range book.Bids {
			p, _ := strconv.ParseFloat(lvl.Price, 64)
			s, _ := strconv.ParseFloat(lvl.Size, 64)
			st.bids.set(p, s)
		}
		for _, lvl := range book.Asks {
			p, _ := strconv.ParseFloat(lvl.Price, 64)
			s, _ := strconv.ParseFloat(lvl.Size, 64)
			st.asks.set(p, s)
		}
		f.emit(ctx, book.AssetID, polyTimestamp(book.Timestamp), handler)

	case "price_change":
		var pc polyPriceChange
		if err := json.Unmarshal(raw, &pc); err != nil {
			return
		}
		st, ok := f.books[pc.AssetID]
		if !ok {
			return
		}
		price, _ := strconv.ParseFloat(pc.Price, 64)
		size, _ := strconv.ParseFloat(pc.Size, 64)
		if pc.Side == "BUY" {
			st.bids.set(price, size)
		} else {
			st.asks.set(price, size)
		}
		f.emit(ctx, pc.AssetID, polyTimestamp(pc.Timestamp), handler)
	}
}

// emit publishes the YES quote and its NO mirror for one asset.
func (f *PolymarketFeed) emit(ctx context.Context, assetID string, at time.Time, handler venue.QuoteHandler) {
	st := f.books[assetID]
	bid, bidSize, hasBid := st.bids.best(true)
	ask, askSize, hasAsk := st.asks.best(false)
	if !hasBid && !hasAsk {
		return
	}

	yes := domain.Quote{
		Venue:      domain.VenuePolymarket,
		Instrument: assetID,
		Side:       domain.SideYes,
		At:         at,
	}
	if hasBid {
		yes.Bid, yes.BidSize = bid, bidSize
	}
	if hasAsk {
		yes.Ask, yes.AskSize = ask, askSize
	}
	handler(ctx, yes)
	handler(ctx, mirrorQuote(yes))
}

// mirrorQuote derives the NO side of a binary book from the YES side.
// Buying NO at price p is selling YES at 1-p, so the NO ask comes from the
// YES bid and vice versa.
func mirrorQuote(yes domain.Quote) domain.Quote {
	no := domain.Quote{
		Venue:      yes.Venue,
		Instrument: yes.Instrument,
		Side:       domain.SideNo,
		At:         yes.At,
	}
	if yes.Bid > 0 {
		no.Ask = 1 - yes.Bid
		no.AskSize = yes.BidSize
	}
	if yes.Ask > 0 {
		no.Bid = 1 - yes.Ask
		no.BidSize = yes.AskSize
	}
	return no
}

// polyTimestamp parses the millisecond epoch string the CLOB sends; falls
// back to now.
func polyTimestamp(ts string) time.Time {
	if ms, err := strconv.ParseInt(ts, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms)
	}
	return time.Now()
}

var _ venue.Feed = (*PolymarketFeed)(nil)
