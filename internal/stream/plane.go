package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/coinwheel/internal/market"
)

const listenKeyKeepAlive = 30 * time.Minute

// ListenKeyer manages the user-data stream's listen key.
type ListenKeyer interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
	CloseListenKey(ctx context.Context, listenKey string) error
}

// Config wires a Plane to the exchange.
type Config struct {
	TLD          string
	Watchlist    []string
	Bridge       string
	RestartEvery time.Duration
	// UserData enables the account event stream; paper trading runs
	// without it.
	UserData bool
}

type queryKind int

const (
	querySellPrice queryKind = iota
	queryBuyPrice
	querySellFillQuote
)

type priceQuery struct {
	kind   queryKind
	symbol string
	amount float64
	reply  chan priceResult
}

type priceResult struct {
	price  float64
	amount float64
	ok     bool
}

// Plane owns the websocket market-data state: three buffered streams
// (mini-tickers, user-data, depth) drained by listener goroutines into the
// ticker, balance and depth caches. Depth books are owned by the depth
// listener goroutine; pricing queries are answered on that goroutine via a
// request channel, so the books are never read concurrently.
type Plane struct {
	cfg      Config
	tickers  *market.TickerCache
	balances *market.BalanceCache
	managers map[string]*market.DepthCacheManager

	tickerBuf *Buffer
	userBuf   *Buffer
	depthBuf  *Buffer

	queries chan priceQuery

	replaceMu      sync.Mutex
	replaceSignals map[string]map[uuid.UUID]struct{}

	snapshots market.SnapshotFetcher
	keys      ListenKeyer
	listenKey string

	replacers []*AutoReplacer
	userData  *Stream

	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	wg     sync.WaitGroup
	log    zerolog.Logger
}

// New creates an unstarted plane. keys may be nil when user-data is
// disabled.
func New(cfg Config, tickers *market.TickerCache, balances *market.BalanceCache, snapshots market.SnapshotFetcher, keys ListenKeyer, log zerolog.Logger) *Plane {
	if cfg.RestartEvery <= 0 {
		cfg.RestartEvery = defaultRestartEvery
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Plane{
		cfg:       cfg,
		tickers:   tickers,
		balances:  balances,
		managers:  make(map[string]*market.DepthCacheManager),
		tickerBuf: NewBuffer(),
		userBuf:   NewBuffer(),
		depthBuf:  NewBuffer(),
		queries:   make(chan priceQuery),
		replaceSignals: map[string]map[uuid.UUID]struct{}{
			SignalConnect:    {},
			SignalDisconnect: {},
		},
		snapshots: snapshots,
		keys:      keys,
		ctx:       ctx,
		cancel:    cancel,
		stop:      make(chan struct{}),
		log:       log.With().Str("component", "stream_plane").Logger(),
	}
	for _, coin := range cfg.Watchlist {
		symbol := coin + cfg.Bridge
		p.managers[symbol] = market.NewDepthCacheManager(symbol, snapshots, log)
	}
	return p
}

// Start connects the streams and launches the listeners.
func (p *Plane) Start() error {
	p.wg.Add(3)
	go p.runTickerListener()
	go p.runUserDataListener()
	go p.runDepthListener()

	base := fmt.Sprintf("wss://stream.binance.%s:9443", p.cfg.TLD)

	ticker := NewStream(base+"/ws/!miniTicker@arr", p.tickerBuf, parseMiniTickers, p.log)
	ticker.Start()
	p.replacers = append(p.replacers, newAutoReplacer(p, ticker, p.cfg.RestartEvery, p.log))

	channels := make([]string, 0, len(p.managers))
	for symbol := range p.managers {
		channels = append(channels, strings.ToLower(symbol)+"@depth@100ms")
	}
	depth := NewStream(base+"/stream?streams="+strings.Join(channels, "/"), p.depthBuf, parseDepth, p.log)
	depth.Start()
	p.replacers = append(p.replacers, newAutoReplacer(p, depth, p.cfg.RestartEvery, p.log))

	for _, r := range p.replacers {
		p.wg.Add(1)
		go func(r *AutoReplacer) {
			defer p.wg.Done()
			r.run(p.stop)
		}(r)
	}

	if p.cfg.UserData {
		if err := p.startUserData(base); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plane) startUserData(base string) error {
	key, err := p.keys.CreateListenKey(p.ctx)
	if err != nil {
		return fmt.Errorf("failed to create listen key: %w", err)
	}
	p.listenKey = key
	p.userData = NewStream(base+"/ws/"+key, p.userBuf, parseUserData, p.log)
	p.userData.Start()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(listenKeyKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				if err := p.keys.KeepAliveListenKey(p.ctx, p.listenKey); err != nil {
					p.log.Error().Err(err).Msg("Listen key keep-alive failed")
				}
			}
		}
	}()
	return nil
}

// notifyStreamReplace enrolls a planned replacement's lifecycle signals for
// one-shot suppression.
func (p *Plane) notifyStreamReplace(oldID, newID uuid.UUID) {
	p.replaceMu.Lock()
	defer p.replaceMu.Unlock()
	p.replaceSignals[SignalConnect][newID] = struct{}{}
	p.replaceSignals[SignalDisconnect][oldID] = struct{}{}
}

// dropReplacedSignal consumes one enrolled suppression, reporting whether
// the signal should be discarded.
func (p *Plane) dropReplacedSignal(sig *Signal) bool {
	p.replaceMu.Lock()
	defer p.replaceMu.Unlock()
	ids, ok := p.replaceSignals[sig.Type]
	if !ok {
		return false
	}
	if _, enrolled := ids[sig.StreamID]; !enrolled {
		return false
	}
	delete(ids, sig.StreamID)
	p.log.Debug().Str("type", sig.Type).Msg("Suppressed replacement stream signal")
	return true
}

func (p *Plane) runTickerListener() {
	defer p.wg.Done()
	for ev := range p.tickerBuf.Out() {
		if ev.Signal != nil {
			p.dropReplacedSignal(ev.Signal)
			continue
		}
		for _, t := range ev.Tickers {
			p.tickers.Set(t.Symbol, t.Close)
		}
	}
}

func (p *Plane) runUserDataListener() {
	defer p.wg.Done()
	for ev := range p.userBuf.Out() {
		if ev.Signal != nil {
			if p.dropReplacedSignal(ev.Signal) {
				continue
			}
			if ev.Signal.Type == SignalConnect {
				p.log.Debug().Msg("User-data stream connected, invalidating balances")
				p.balances.Invalidate()
			}
			continue
		}
		if ev.Account == nil {
			continue
		}
		switch ev.Account.Kind {
		case kindBalanceUpdate:
			p.balances.Drop(ev.Account.Asset)
		case kindAccountPosition, kindAccountInfo:
			update := ev.Account.Balances
			p.balances.Apply(func(balances map[string]float64) {
				for _, b := range update {
					balances[b.Asset] = b.Free
				}
			})
		}
	}
}

func (p *Plane) runDepthListener() {
	defer p.wg.Done()
	for {
		select {
		case ev, ok := <-p.depthBuf.Out():
			if !ok {
				return
			}
			if ev.Signal != nil {
				if p.dropReplacedSignal(ev.Signal) {
					continue
				}
				for _, m := range p.managers {
					m.NotifyPendingSignal()
				}
				for _, m := range p.managers {
					m.ProcessSignal(p.ctx, ev.Signal.Type)
				}
				continue
			}
			if ev.Depth == nil {
				continue
			}
			if m, ok := p.managers[ev.Depth.Symbol]; ok {
				m.ProcessData(p.ctx, ev.Depth.Update)
			}
		case q := <-p.queries:
			q.reply <- p.answer(q)
		}
	}
}

func (p *Plane) answer(q priceQuery) priceResult {
	m, ok := p.managers[q.symbol]
	if !ok {
		return priceResult{}
	}
	var res priceResult
	switch q.kind {
	case querySellPrice:
		res.price, res.amount, res.ok = m.Book.MarketSellPrice(q.amount)
	case queryBuyPrice:
		res.price, res.amount, res.ok = m.Book.MarketBuyPrice(q.amount)
	case querySellFillQuote:
		res.price, res.amount, res.ok = m.Book.MarketSellFillQuote(q.amount)
	}
	return res
}

func (p *Plane) query(kind queryKind, symbol string, amount float64) (float64, float64, bool) {
	q := priceQuery{kind: kind, symbol: symbol, amount: amount, reply: make(chan priceResult, 1)}
	select {
	case p.queries <- q:
	case <-p.stop:
		return 0, 0, false
	}
	select {
	case res := <-q.reply:
		return res.price, res.amount, res.ok
	case <-p.stop:
		return 0, 0, false
	}
}

// MarketSellPrice prices selling amount of the symbol's base asset against
// the live book. Answered on the depth listener goroutine.
func (p *Plane) MarketSellPrice(symbol string, amount float64) (avgPrice, quote float64, ok bool) {
	return p.query(querySellPrice, symbol, amount)
}

// MarketBuyPrice prices buying with quoteAmount of the quote asset.
func (p *Plane) MarketBuyPrice(symbol string, quoteAmount float64) (avgPrice, base float64, ok bool) {
	return p.query(queryBuyPrice, symbol, quoteAmount)
}

// MarketSellFillQuote prices selling enough base to obtain quote.
func (p *Plane) MarketSellFillQuote(symbol string, quote float64) (avgPrice, base float64, ok bool) {
	return p.query(querySellFillQuote, symbol, quote)
}

// Close tears the plane down: streams first, then buffers, then listeners.
// It returns once everything joined or ctx expires.
func (p *Plane) Close(ctx context.Context) error {
	close(p.stop)
	for _, r := range p.replacers {
		r.closeCurrent()
	}
	if p.userData != nil {
		p.userData.Close()
		if p.keys != nil && p.listenKey != "" {
			if err := p.keys.CloseListenKey(ctx, p.listenKey); err != nil {
				p.log.Warn().Err(err).Msg("Failed to close listen key")
			}
		}
	}
	p.tickerBuf.Close()
	p.userBuf.Close()
	p.depthBuf.Close()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stream plane shutdown timed out: %w", ctx.Err())
	}
}
