package stream

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/aristath/coinwheel/internal/exchange"
	"github.com/aristath/coinwheel/internal/market"
)

// Signal types emitted around a stream's lifecycle.
const (
	SignalConnect    = "CONNECT"
	SignalDisconnect = "DISCONNECT"
)

// Signal marks a stream (re)connecting or dropping.
type Signal struct {
	Type     string
	StreamID uuid.UUID
}

// MiniTicker is one symbol's last close price from the all-markets ticker
// stream.
type MiniTicker struct {
	Symbol string
	Close  float64
}

// SymbolDepth is one incremental book update routed by symbol.
type SymbolDepth struct {
	Symbol string
	Update market.DepthEvent
}

// AccountBalance is one asset's free balance in an account event.
type AccountBalance struct {
	Asset string
	Free  float64
}

// AccountUpdate is a user-data event touching balances.
type AccountUpdate struct {
	Kind     string
	Asset    string
	Balances []AccountBalance
}

// Account event kinds.
const (
	kindBalanceUpdate   = "balanceUpdate"
	kindAccountPosition = "outboundAccountPosition"
	kindAccountInfo     = "outboundAccountInfo"
)

// Event is one buffered item: a stream signal or exactly one payload kind.
type Event struct {
	Signal  *Signal
	Tickers []MiniTicker
	Depth   *SymbolDepth
	Account *AccountUpdate
}

type miniTickerMsg struct {
	EventType string          `json:"e"`
	Symbol    string          `json:"s"`
	Close     exchange.Amount `json:"c"`
}

// parseMiniTickers decodes an all-markets mini-ticker array payload.
func parseMiniTickers(raw []byte) (Event, error) {
	var msgs []miniTickerMsg
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return Event{}, fmt.Errorf("failed to parse mini-ticker payload: %w", err)
	}
	tickers := make([]MiniTicker, 0, len(msgs))
	for _, m := range msgs {
		if m.EventType != "24hrMiniTicker" {
			continue
		}
		tickers = append(tickers, MiniTicker{Symbol: m.Symbol, Close: float64(m.Close)})
	}
	return Event{Tickers: tickers}, nil
}

type depthUpdateMsg struct {
	EventType     string               `json:"e"`
	Symbol        string               `json:"s"`
	FirstUpdateID int64                `json:"U"`
	FinalUpdateID int64                `json:"u"`
	Bids          [][2]exchange.Amount `json:"b"`
	Asks          [][2]exchange.Amount `json:"a"`
}

type combinedMsg struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// parseDepth decodes a combined-stream depth update envelope.
func parseDepth(raw []byte) (Event, error) {
	var env combinedMsg
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("failed to parse combined stream envelope: %w", err)
	}
	payload := env.Data
	if payload == nil {
		payload = raw
	}
	var msg depthUpdateMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Event{}, fmt.Errorf("failed to parse depth update: %w", err)
	}
	if msg.EventType != "depthUpdate" {
		return Event{}, fmt.Errorf("unexpected depth event type %q", msg.EventType)
	}
	return Event{Depth: &SymbolDepth{
		Symbol: msg.Symbol,
		Update: market.DepthEvent{
			FirstUpdateID: msg.FirstUpdateID,
			FinalUpdateID: msg.FinalUpdateID,
			Bids:          toLevels(msg.Bids),
			Asks:          toLevels(msg.Asks),
		},
	}}, nil
}

func toLevels(raw [][2]exchange.Amount) []market.Level {
	levels := make([]market.Level, len(raw))
	for i, pair := range raw {
		levels[i] = market.Level{Price: float64(pair[0]), Qty: float64(pair[1])}
	}
	return levels
}

type userDataMsg struct {
	EventType string          `json:"e"`
	Asset     string          `json:"a"`
	Balances  []userDataAsset `json:"B"`
}

type userDataAsset struct {
	Asset string          `json:"a"`
	Free  exchange.Amount `json:"f"`
}

// parseUserData decodes one user-data event. Events the trader does not care
// about come back as an empty Event.
func parseUserData(raw []byte) (Event, error) {
	var msg userDataMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, fmt.Errorf("failed to parse user-data event: %w", err)
	}
	switch msg.EventType {
	case kindBalanceUpdate:
		return Event{Account: &AccountUpdate{Kind: msg.EventType, Asset: msg.Asset}}, nil
	case kindAccountPosition, kindAccountInfo:
		balances := make([]AccountBalance, len(msg.Balances))
		for i, b := range msg.Balances {
			balances[i] = AccountBalance{Asset: b.Asset, Free: float64(b.Free)}
		}
		return Event{Account: &AccountUpdate{Kind: msg.EventType, Balances: balances}}, nil
	}
	return Event{}, nil
}
