package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	snapshots []DepthSnapshot
	errs      []error
	calls     int
}

func (f *fakeFetcher) OrderBookSnapshot(_ context.Context, _ string, _ int) (DepthSnapshot, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return DepthSnapshot{}, f.errs[i]
	}
	if len(f.snapshots) == 0 {
		return DepthSnapshot{}, errors.New("no snapshot configured")
	}
	if i >= len(f.snapshots) {
		i = len(f.snapshots) - 1
	}
	return f.snapshots[i], nil
}

func newTestManager(t *testing.T, fetcher *fakeFetcher) *DepthCacheManager {
	t.Helper()
	m := NewDepthCacheManager("ETHUSDT", fetcher, zerolog.Nop())
	m.sleep = func(time.Duration) {}
	return m
}

func seedManager(t *testing.T, m *DepthCacheManager) {
	t.Helper()
	m.ProcessData(context.Background(), DepthEvent{
		FirstUpdateID: 0,
		FinalUpdateID: 10,
		Bids:          []Level{{Price: 100, Qty: 1}},
		Asks:          []Level{{Price: 101, Qty: 1}},
	})
	require.EqualValues(t, 10, m.LastUpdateID())
}

func TestDepthCacheManager_StaleEventDropped(t *testing.T) {
	m := newTestManager(t, &fakeFetcher{})
	seedManager(t, m)

	m.ProcessData(context.Background(), DepthEvent{
		FirstUpdateID: 5,
		FinalUpdateID: 10,
		Bids:          []Level{{Price: 100, Qty: 0}},
	})

	assert.EqualValues(t, 10, m.LastUpdateID())
	assert.Equal(t, 1, m.Book.BidCount(), "stale event must not touch the book")
}

func TestDepthCacheManager_ContiguousEventApplied(t *testing.T) {
	m := newTestManager(t, &fakeFetcher{})
	seedManager(t, m)

	m.ProcessData(context.Background(), DepthEvent{
		FirstUpdateID: 11,
		FinalUpdateID: 12,
		Bids:          []Level{{Price: 99, Qty: 2}},
	})

	assert.EqualValues(t, 12, m.LastUpdateID())
	assert.Equal(t, 2, m.Book.BidCount())
}

func TestDepthCacheManager_GapTriggersResync(t *testing.T) {
	fetcher := &fakeFetcher{snapshots: []DepthSnapshot{{
		LastUpdateID: 20,
		Bids:         []Level{{Price: 90, Qty: 5}},
		Asks:         []Level{{Price: 91, Qty: 5}},
	}}}
	m := newTestManager(t, fetcher)
	seedManager(t, m)

	m.ProcessData(context.Background(), DepthEvent{
		FirstUpdateID: 12,
		FinalUpdateID: 15,
		Bids:          []Level{{Price: 80, Qty: 1}},
	})

	assert.EqualValues(t, 20, m.LastUpdateID())
	bids := m.Book.Bids()
	require.Len(t, bids, 1, "book must contain snapshot levels only")
	assert.Equal(t, 90.0, bids[0].Price)
	assert.Equal(t, 1, fetcher.calls)
}

func TestDepthCacheManager_ResyncRetriesOnFetchError(t *testing.T) {
	fetcher := &fakeFetcher{
		errs: []error{errors.New("HTTP 503"), errors.New("HTTP 503")},
		snapshots: []DepthSnapshot{
			{}, {},
			{LastUpdateID: 30, Bids: []Level{{Price: 95, Qty: 1}}},
		},
	}
	m := newTestManager(t, fetcher)
	slept := 0
	m.sleep = func(time.Duration) { slept++ }
	seedManager(t, m)

	m.ProcessData(context.Background(), DepthEvent{FirstUpdateID: 12, FinalUpdateID: 15})

	assert.EqualValues(t, 30, m.LastUpdateID())
	assert.Equal(t, 3, fetcher.calls)
	assert.Equal(t, 2, slept)
}

func TestDepthCacheManager_BuffersWhileSignalPending(t *testing.T) {
	fetcher := &fakeFetcher{snapshots: []DepthSnapshot{{LastUpdateID: 10}}}
	m := newTestManager(t, fetcher)

	m.NotifyPendingSignal()
	m.ProcessData(context.Background(), DepthEvent{
		FirstUpdateID: 11,
		FinalUpdateID: 12,
		Bids:          []Level{{Price: 100, Qty: 1}},
	})
	m.ProcessData(context.Background(), DepthEvent{
		FirstUpdateID: 13,
		FinalUpdateID: 14,
		Bids:          []Level{{Price: 101, Qty: 1}},
	})
	assert.Equal(t, 0, m.Book.BidCount(), "data buffers while a signal is pending")

	m.ProcessSignal(context.Background(), "CONNECT")
	assert.EqualValues(t, 10, m.LastUpdateID(), "connect resyncs from snapshot")

	// Next data event drains the buffer first, in arrival order.
	m.ProcessData(context.Background(), DepthEvent{
		FirstUpdateID: 15,
		FinalUpdateID: 16,
		Bids:          []Level{{Price: 102, Qty: 1}},
	})
	assert.EqualValues(t, 16, m.LastUpdateID())
	assert.Equal(t, 3, m.Book.BidCount())
}

func TestDepthCacheManager_DisconnectClearsBook(t *testing.T) {
	m := newTestManager(t, &fakeFetcher{})
	seedManager(t, m)

	m.NotifyPendingSignal()
	m.ProcessSignal(context.Background(), "DISCONNECT")

	assert.Equal(t, 0, m.Book.BidCount())
	assert.Equal(t, 0, m.Book.AskCount())
}
