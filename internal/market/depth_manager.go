package market

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DepthEvent is one incremental book update for a symbol.
type DepthEvent struct {
	FirstUpdateID int64
	FinalUpdateID int64
	Bids          []Level
	Asks          []Level
}

// DepthSnapshot is a full order book fetched over REST.
type DepthSnapshot struct {
	LastUpdateID int64
	Bids         []Level
	Asks         []Level
}

// SnapshotFetcher fetches a full order book for one symbol.
type SnapshotFetcher interface {
	OrderBookSnapshot(ctx context.Context, symbol string, limit int) (DepthSnapshot, error)
}

const snapshotRetryDelay = 500 * time.Millisecond

// DepthCacheManager keeps one symbol's DepthCache consistent with the
// exchange's incremental stream. Stale events are dropped; a sequence gap
// clears the book and resyncs from a REST snapshot. While a resync or a
// stream signal is pending, data events are buffered and drained in order
// afterwards.
//
// A manager is owned by the stream plane goroutine; none of its methods are
// safe for concurrent use.
type DepthCacheManager struct {
	ID     uuid.UUID
	Symbol string
	Book   *DepthCache

	fetcher       SnapshotFetcher
	limit         int
	lastUpdateID  int64
	pendingSignal int
	pendingReinit bool
	queue         []DepthEvent
	sleep         func(time.Duration)
	log           zerolog.Logger
}

// NewDepthCacheManager creates a manager for one symbol with an empty book.
func NewDepthCacheManager(symbol string, fetcher SnapshotFetcher, log zerolog.Logger) *DepthCacheManager {
	return &DepthCacheManager{
		ID:           uuid.New(),
		Symbol:       symbol,
		Book:         NewDepthCache(),
		fetcher:      fetcher,
		limit:        100,
		lastUpdateID: -1,
		sleep:        time.Sleep,
		log:          log.With().Str("component", "depth").Str("symbol", symbol).Logger(),
	}
}

// LastUpdateID returns the id of the last applied event or snapshot.
func (m *DepthCacheManager) LastUpdateID() int64 {
	return m.lastUpdateID
}

func (m *DepthCacheManager) buffering() bool {
	return m.pendingSignal > 0 || m.pendingReinit
}

// ProcessData applies one incremental event, or buffers it while a signal or
// resync is pending. Once the buffer is drainable, queued events are applied
// in arrival order before the new one.
func (m *DepthCacheManager) ProcessData(ctx context.Context, ev DepthEvent) {
	if m.buffering() {
		m.queue = append(m.queue, ev)
		return
	}
	for len(m.queue) > 0 {
		queued := m.queue[0]
		m.queue = m.queue[1:]
		m.handle(ctx, queued)
	}
	m.handle(ctx, ev)
}

func (m *DepthCacheManager) handle(ctx context.Context, ev DepthEvent) {
	if ev.FinalUpdateID <= m.lastUpdateID {
		return
	}
	if ev.FirstUpdateID > m.lastUpdateID+1 {
		m.log.Debug().
			Int64("delta", ev.FirstUpdateID-m.lastUpdateID).
			Msg("Update gap, resyncing order book")
		m.reinit(ctx)
		return
	}
	m.apply(ev.Bids, ev.Asks)
	m.lastUpdateID = ev.FinalUpdateID
}

func (m *DepthCacheManager) apply(bids, asks []Level) {
	for _, bid := range bids {
		m.Book.AddBid(bid.Price, bid.Qty)
	}
	for _, ask := range asks {
		m.Book.AddAsk(ask.Price, ask.Qty)
	}
}

// reinit clears the book and rebuilds it from a REST snapshot, retrying
// until the fetch succeeds or the context is cancelled.
func (m *DepthCacheManager) reinit(ctx context.Context) {
	m.pendingReinit = true
	defer func() { m.pendingReinit = false }()
	m.Book.Clear()
	for {
		snapshot, err := m.fetcher.OrderBookSnapshot(ctx, m.Symbol, m.limit)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Error().Err(err).Msg("Order book snapshot failed")
			m.sleep(snapshotRetryDelay)
			continue
		}
		m.apply(snapshot.Bids, snapshot.Asks)
		m.lastUpdateID = snapshot.LastUpdateID
		return
	}
}

// ProcessSignal consumes one previously announced stream signal. CONNECT
// resyncs the book, DISCONNECT clears it.
func (m *DepthCacheManager) ProcessSignal(ctx context.Context, signal string) {
	switch signal {
	case "CONNECT":
		m.log.Debug().Msg("Stream connected")
		m.reinit(ctx)
	case "DISCONNECT":
		m.log.Debug().Msg("Stream disconnected")
		m.Book.Clear()
	}
	if m.pendingSignal > 0 {
		m.pendingSignal--
	}
}

// NotifyPendingSignal announces that a signal for this manager has been
// queued; data events buffer until ProcessSignal consumes it.
func (m *DepthCacheManager) NotifyPendingSignal() {
	m.pendingSignal++
}
