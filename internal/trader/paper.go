package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/coinwheel/internal/exchange"
	"github.com/aristath/coinwheel/internal/market"
)

const paperWalletFile = "paper_wallet.json"
const paperFeeMult = 0.999

// PaperWallet simulates trading with in-memory balances persisted to a JSON
// file. Fills are instant at the requested amounts with a flat 0.1% fee.
type PaperWallet struct {
	mu          sync.Mutex
	bridge      string
	balances    map[string]float64
	fakeOrderID int64
	path        string
	signals     *market.BalanceCache
	log         zerolog.Logger
}

type paperWalletState struct {
	Balances    map[string]float64 `json:"balances"`
	FakeOrderID int64              `json:"fake_order_id"`
}

// NewPaperWallet creates a wallet with the given starting balances,
// restoring any previously persisted state from dataDir.
func NewPaperWallet(bridge, dataDir string, initial map[string]float64, signals *market.BalanceCache, log zerolog.Logger) *PaperWallet {
	w := &PaperWallet{
		bridge:   bridge,
		balances: initial,
		path:     filepath.Join(dataDir, paperWalletFile),
		signals:  signals,
		log:      log.With().Str("component", "paper_wallet").Logger(),
	}
	if w.balances == nil {
		w.balances = make(map[string]float64)
	}
	w.restore()
	return w
}

func (w *PaperWallet) restore() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.log.Warn().Err(err).Msg("Failed to read paper wallet state")
		}
		return
	}
	var state paperWalletState
	if err := json.Unmarshal(data, &state); err != nil {
		w.log.Warn().Err(err).Msg("Failed to parse paper wallet state")
		return
	}
	if state.Balances != nil {
		w.balances = state.Balances
		w.fakeOrderID = state.FakeOrderID
		w.log.Info().Int64("orders", state.FakeOrderID).Msg("Restored paper wallet")
	}
}

func (w *PaperWallet) persistLocked() {
	data, err := json.Marshal(paperWalletState{Balances: w.balances, FakeOrderID: w.fakeOrderID})
	if err != nil {
		w.log.Error().Err(err).Msg("Failed to encode paper wallet state")
		return
	}
	if err := os.WriteFile(w.path, data, 0o644); err != nil {
		w.log.Error().Err(err).Msg("Failed to persist paper wallet state")
	}
}

// CurrencyBalance implements OrderBalancer. The force flag is meaningless
// for a simulated wallet.
func (w *PaperWallet) CurrencyBalance(_ context.Context, asset string, _ bool) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[asset], nil
}

// MakeOrder implements OrderBalancer. Sells credit the bridge with the quote
// amount minus fee; buys debit the bridge and credit the base minus fee.
// State is persisted after buys, so every completed jump survives restarts.
func (w *PaperWallet) MakeOrder(_ context.Context, side, symbol string, qty, quoteQty float64) (*exchange.OrderReport, error) {
	base := symbol[:len(symbol)-len(w.bridge)]

	w.mu.Lock()
	if side == exchange.SideSell {
		w.balances[w.bridge] += quoteQty * paperFeeMult
		w.balances[base] -= qty
	} else {
		w.balances[w.bridge] -= quoteQty
		w.balances[base] += qty * paperFeeMult
	}
	w.fakeOrderID++
	orderID := w.fakeOrderID
	if side == exchange.SideBuy {
		w.persistLocked()
	}
	w.mu.Unlock()

	w.signals.Notify()
	w.log.Info().
		Str("side", side).
		Str("symbol", symbol).
		Float64("qty", qty).
		Float64("quote", quoteQty).
		Msg("Simulated order filled")

	return &exchange.OrderReport{
		Symbol:             symbol,
		OrderID:            orderID,
		ClientOrderID:      fmt.Sprintf("paper-%s", strconv.FormatInt(orderID, 10)),
		ExecutedQty:        exchange.Amount(qty),
		CumulativeQuoteQty: exchange.Amount(quoteQty),
		Status:             exchange.StatusFilled,
		Side:               side,
		Type:               "MARKET",
	}, nil
}

// Balances returns a copy of the wallet, for reporting.
func (w *PaperWallet) Balances() map[string]float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]float64, len(w.balances))
	for k, v := range w.balances {
		out[k] = v
	}
	return out
}
