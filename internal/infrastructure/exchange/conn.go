package exchange

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnStatus is the lifecycle state of one venue session.
type ConnStatus string

const (
	StatusDisconnected ConnStatus = "disconnected"
	StatusConnecting   ConnStatus = "connecting"
	StatusOpen         ConnStatus = "open"
	StatusStale        ConnStatus = "stale"
)

// ConnState is the published state of one venue connection.
type ConnState struct {
	Status      ConnStatus
	Attempts    int
	LastMessage time.Time
	ConnectedAt time.Time
	SessionID   string
}

// StatusTable tracks connection state per venue. Sessions write, the engine
// and fallback controller read.
type StatusTable struct {
	mu sync.RWMutex
	m  map[string]ConnState
}

func NewStatusTable() *StatusTable {
	return &StatusTable{m: make(map[string]ConnState)}
}

func (t *StatusTable) SetStatus(venue string, status ConnStatus) {
	t.mu.Lock()
	st := t.m[venue]
	st.Status = status
	t.m[venue] = st
	t.mu.Unlock()
}

func (t *StatusTable) SetAttempts(venue string, attempts int) {
	t.mu.Lock()
	st := t.m[venue]
	st.Attempts = attempts
	t.m[venue] = st
	t.mu.Unlock()
}

// SetOpen records a successful handshake: open status, fresh session id,
// zeroed attempt counter.
func (t *StatusTable) SetOpen(venue, sessionID string, at time.Time) {
	t.mu.Lock()
	t.m[venue] = ConnState{
		Status:      StatusOpen,
		Attempts:    0,
		LastMessage: at,
		ConnectedAt: at,
		SessionID:   sessionID,
	}
	t.mu.Unlock()
}

// Touch stamps message receipt time for staleness detection.
func (t *StatusTable) Touch(venue string, at time.Time) {
	t.mu.Lock()
	st := t.m[venue]
	st.LastMessage = at
	t.m[venue] = st
	t.mu.Unlock()
}

func (t *StatusTable) Get(venue string) (ConnState, bool) {
	t.mu.RLock()
	st, ok := t.m[venue]
	t.mu.RUnlock()
	return st, ok
}

func (t *StatusTable) IsOpen(venue string) bool {
	st, ok := t.Get(venue)
	return ok && st.Status == StatusOpen
}

// LiveVenues returns the venues with an open session, sorted for stable
// rendering.
func (t *StatusTable) LiveVenues() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.m))
	for v, st := range t.m {
		if st.Status == StatusOpen {
			out = append(out, v)
		}
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Backoff computes reconnect delays: min(base*2^attempts, max) + jitter.
// The attempt counter resets on a successful open, and saturates-and-resets
// after MaxAttempts so a long outage still gets periodic full-effort
// retries instead of unbounded exponential growth.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	Jitter      time.Duration
	MaxAttempts int

	attempts int
}

func (b *Backoff) Attempts() int { return b.attempts }

func (b *Backoff) Reset() { b.attempts = 0 }

func (b *Backoff) Next() time.Duration {
	d := b.Max
	if b.attempts < 30 {
		if v := b.Base << uint(b.attempts); v < b.Max {
			d = v
		}
	}
	if b.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(b.Jitter)))
	}
	b.attempts++
	if b.MaxAttempts > 0 && b.attempts >= b.MaxAttempts {
		b.attempts = 0
	}
	return d
}

// SessionSettings bound one venue session's timers.
type SessionSettings struct {
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	HealthInterval time.Duration // staleness checked against 2x this
	MaxAge         time.Duration // pre-emptive rotation, 0 disables
	Backoff        Backoff
}

// SessionHooks are the venue-specific parts of a session: how to dial, what
// subscribe frames to send after the handshake, and how to consume a raw
// payload. OnMessage must swallow parse failures; a bad message never ends
// the session.
type SessionHooks struct {
	Dial      func(ctx context.Context) (*websocket.Conn, error)
	Subscribe func(conn *websocket.Conn) error
	OnMessage func(data []byte)
}

var (
	errSessionStale   = errors.New("no messages within health window")
	errSessionRotated = errors.New("session max age reached")
)

// RunSession keeps one venue streaming session alive until ctx is
// cancelled: connect with timeout, subscribe, read with heartbeat and
// staleness detection, rotate before the provider's session limit, and
// reconnect with jittered exponential backoff. All timers of an attempt are
// stopped before the replacement attempt starts.
func RunSession(ctx context.Context, venue string, st SessionSettings, hooks SessionHooks, table *StatusTable) {
	bo := st.Backoff

	for {
		if ctx.Err() != nil {
			return
		}

		sessionID := uuid.NewString()[:8]
		table.SetStatus(venue, StatusConnecting)
		log.Info().Str("venue", venue).Str("conn_id", sessionID).Msg("ws connecting")

		cctx, cancel := context.WithTimeout(ctx, st.ConnectTimeout)
		conn, err := hooks.Dial(cctx)
		cancel()
		if err != nil {
			table.SetStatus(venue, StatusDisconnected)
			log.Error().Str("venue", venue).Err(err).Msg("ws dial failed")
			if !sleepCtx(ctx, bo.Next()) {
				return
			}
			table.SetAttempts(venue, bo.Attempts())
			continue
		}

		if hooks.Subscribe != nil {
			if err := hooks.Subscribe(conn); err != nil {
				_ = conn.Close()
				table.SetStatus(venue, StatusDisconnected)
				log.Error().Str("venue", venue).Err(err).Msg("ws subscribe failed")
				if !sleepCtx(ctx, bo.Next()) {
					return
				}
				table.SetAttempts(venue, bo.Attempts())
				continue
			}
		}

		bo.Reset()
		table.SetOpen(venue, sessionID, time.Now())
		log.Info().Str("venue", venue).Str("conn_id", sessionID).Msg("ws connected")

		err = readSession(ctx, venue, conn, st, hooks.OnMessage, table)
		_ = conn.Close()

		if ctx.Err() != nil {
			table.SetStatus(venue, StatusDisconnected)
			return
		}

		table.SetStatus(venue, StatusDisconnected)
		log.Warn().Str("venue", venue).Str("conn_id", sessionID).Err(err).Msg("ws disconnected, reconnecting")
		if !sleepCtx(ctx, bo.Next()) {
			return
		}
		table.SetAttempts(venue, bo.Attempts())
	}
}

// readSession pumps one open connection until it errors, goes stale or
// reaches its rotation age.
func readSession(ctx context.Context, venue string, conn *websocket.Conn, st SessionSettings, onMsg func([]byte), table *StatusTable) error {
	readWindow := 2 * st.HealthInterval

	_ = conn.SetReadDeadline(time.Now().Add(readWindow))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWindow))
		return nil
	})

	var lastMsg atomic.Int64
	lastMsg.Store(time.Now().UnixNano())

	pingTicker := time.NewTicker(st.PingInterval)
	defer pingTicker.Stop()
	healthTicker := time.NewTicker(st.HealthInterval)
	defer healthTicker.Stop()

	var rotateCh <-chan time.Time
	if st.MaxAge > 0 {
		rotate := time.NewTimer(st.MaxAge)
		defer rotate.Stop()
		rotateCh = rotate.C
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(readWindow))
			now := time.Now()
			lastMsg.Store(now.UnixNano())
			table.Touch(venue, now)
			onMsg(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		case <-healthTicker.C:
			// A silently-dead socket may never deliver a close frame.
			if time.Since(time.Unix(0, lastMsg.Load())) > 2*st.HealthInterval {
				table.SetStatus(venue, StatusStale)
				return errSessionStale
			}
		case <-rotateCh:
			log.Info().Str("venue", venue).Msg("rotating session before provider limit")
			return errSessionRotated
		}
	}
}

// sleepCtx waits d or until ctx cancels; reports whether the wait completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
