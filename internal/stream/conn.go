package stream

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	dialTimeout        = 30 * time.Second
	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 5 * time.Minute
)

// parseFunc turns one raw websocket message into a buffered event.
type parseFunc func(raw []byte) (Event, error)

// Stream is one websocket subscription feeding one buffer. Connecting and
// dropping push CONNECT/DISCONNECT signals carrying the stream's id, so
// listeners can tell planned replacements from real outages.
type Stream struct {
	id     uuid.UUID
	url    string
	buffer *Buffer
	parse  parseFunc
	log    zerolog.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	stopChan   chan struct{}
	stopped    bool
	closedChan chan struct{}
}

// NewStream creates a stream for one endpoint; Start connects it.
func NewStream(url string, buffer *Buffer, parse parseFunc, log zerolog.Logger) *Stream {
	id := uuid.New()
	return &Stream{
		id:         id,
		url:        url,
		buffer:     buffer,
		parse:      parse,
		log:        log.With().Str("component", "stream").Str("stream_id", id.String()).Logger(),
		stopChan:   make(chan struct{}),
		closedChan: make(chan struct{}),
	}
}

// ID returns the stream's identity used in lifecycle signals.
func (s *Stream) ID() uuid.UUID {
	return s.id
}

// Start dials the endpoint and launches the read loop. A failed initial dial
// is retried in the background.
func (s *Stream) Start() error {
	if err := s.connect(); err != nil {
		s.log.Warn().Err(err).Msg("Initial stream connection failed, retrying in background")
		go s.reconnectLoop()
		return err
	}
	s.mu.RLock()
	ctx := s.connCtx
	s.mu.RUnlock()
	go s.readMessages(ctx)
	return nil
}

func (s *Stream) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial stream: %w", err)
	}
	// Depth payloads for a full book exceed the 32KiB default.
	conn.SetReadLimit(1 << 22)

	connCtx, connCancel := context.WithCancel(context.Background())
	s.conn = conn
	s.connCtx = connCtx
	s.cancelFunc = connCancel

	s.log.Debug().Str("url", s.url).Msg("Stream connected")
	s.buffer.Push(Event{Signal: &Signal{Type: SignalConnect, StreamID: s.id}})
	return nil
}

// Close shuts the stream down and stops reconnecting.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopChan)
	conn := s.conn
	cancel := s.cancelFunc
	s.conn = nil
	s.cancelFunc = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

// Done is closed once the read loop has exited for good.
func (s *Stream) Done() <-chan struct{} {
	return s.closedChan
}

func (s *Stream) readMessages(ctx context.Context) {
	defer func() {
		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		s.buffer.Push(Event{Signal: &Signal{Type: SignalDisconnect, StreamID: s.id}})
		if !stopped {
			go s.reconnectLoop()
			return
		}
		close(s.closedChan)
	}()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Error().Err(err).Msg("Stream read error")
			}
			return
		}

		ev, err := s.parse(message)
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to parse stream message")
			continue
		}
		s.buffer.Push(ev)
	}
}

func (s *Stream) reconnectLoop() {
	attempt := 0
	for {
		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if stopped {
			close(s.closedChan)
			return
		}

		attempt++
		delay := backoff(attempt)
		s.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting stream")

		select {
		case <-time.After(delay):
		case <-s.stopChan:
			close(s.closedChan)
			return
		}

		if err := s.connect(); err != nil {
			s.log.Error().Err(err).Int("attempt", attempt).Msg("Stream reconnection failed")
			continue
		}

		s.mu.RLock()
		ctx := s.connCtx
		s.mu.RUnlock()
		go s.readMessages(ctx)
		return
	}
}

func backoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}
