package server

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/coinwheel/internal/domain"
)

const defaultLimit = 100

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func limitParam(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			return limit
		}
	}
	return defaultLimit
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.Trades(limitParam(r))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load trades")
		s.writeError(w, http.StatusInternalServerError, "failed to load trades")
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleScoutHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ScoutHistory(limitParam(r))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load scout history")
		s.writeError(w, http.StatusInternalServerError, "failed to load scout history")
		return
	}
	if records == nil {
		records = []domain.ScoutRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

var validIntervals = map[domain.Interval]bool{
	domain.IntervalMinutely: true,
	domain.IntervalHourly:   true,
	domain.IntervalDaily:    true,
	domain.IntervalWeekly:   true,
}

func (s *Server) handleValueHistory(w http.ResponseWriter, r *http.Request) {
	interval := domain.Interval(r.URL.Query().Get("period"))
	if interval == "" {
		interval = domain.IntervalMinutely
	}
	if !validIntervals[interval] {
		s.writeError(w, http.StatusBadRequest, "unknown period")
		return
	}
	values, err := s.store.ValueHistory(interval, limitParam(r))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load value history")
		s.writeError(w, http.StatusInternalServerError, "failed to load value history")
		return
	}
	if values == nil {
		values = []domain.CoinValue{}
	}
	s.writeJSON(w, http.StatusOK, values)
}

func (s *Server) handleCurrentCoin(w http.ResponseWriter, r *http.Request) {
	coin, err := s.store.CurrentCoin()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load current coin")
		s.writeError(w, http.StatusInternalServerError, "failed to load current coin")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"coin": coin})
}

func (s *Server) handleCoins(w http.ResponseWriter, r *http.Request) {
	coins, err := s.store.Coins()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load coins")
		s.writeError(w, http.StatusInternalServerError, "failed to load coins")
		return
	}
	if coins == nil {
		coins = []domain.Coin{}
	}
	s.writeJSON(w, http.StatusOK, coins)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startup).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"pid":            os.Getpid(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status["memory_used_percent"] = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status["cpu_percent"] = percents[0]
	}
	s.writeJSON(w, http.StatusOK, status)
}
