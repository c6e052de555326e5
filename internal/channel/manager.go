// Package channel maintains one persistent push connection per logical
// purpose (chat, notifications) with automatic reconnect, typed event
// dispatch and debounced batch delivery. All state-machine, backoff and
// batching logic is shared; the specializations differ only in endpoint and
// vocabulary.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"edugate/internal/domain"
	"edugate/internal/session"
)

const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateReconnecting = "reconnecting"
)

// DefaultBackoff is the ascending reconnect delay table; attempt k waits
// table[min(k, len(table)-1)].
var DefaultBackoff = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

const defaultDebounce = 300 * time.Millisecond

// Transport dials one connection attempt with a freshly acquired bearer
// token. The production transport is websocket; tests inject fakes.
type Transport interface {
	Dial(ctx context.Context, url, bearer string) (Conn, error)
}

type Conn interface {
	ReadEvent() (domain.Event, error)
	Invoke(ctx context.Context, method string, args interface{}) error
	Close() error
}

type Handler func(domain.Event)
type BatchHandler func([]domain.Event)

type Options struct {
	Name      string
	URL       string
	Tokens    session.TokenSource
	Transport Transport
	Backoff   []time.Duration
	Debounce  time.Duration
	Logger    *slog.Logger
	OnError   func(error)
}

type subEntry struct {
	id int
	fn Handler
}

type batchEntry struct {
	id int
	fn BatchHandler
}

type batchBuffer struct {
	events []domain.Event
	armed  bool
}

type Manager struct {
	mu            sync.Mutex
	opts          Options
	state         string
	startInFlight bool
	conn          Conn
	retries       int
	lastErr       error
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	nextSubID int
	subs      map[domain.EventType][]subEntry
	batchSubs map[domain.EventType][]batchEntry
	buffers   map[domain.EventType]*batchBuffer
}

func NewManager(opts Options) *Manager {
	if len(opts.Backoff) == 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.Transport == nil {
		opts.Transport = newWSTransport()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		opts:      opts,
		state:     StateDisconnected,
		subs:      make(map[domain.EventType][]subEntry),
		batchSubs: make(map[domain.EventType][]batchEntry),
		buffers:   make(map[domain.EventType]*batchBuffer),
	}
}

func (m *Manager) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect is idempotent: a Connected manager, a start already in flight, or
// an active reconnect loop all make it a no-op. Each underlying attempt
// acquires a fresh token, so a token refreshed since the last attempt is
// honored automatically.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.state != StateDisconnected || m.startInFlight {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.startInFlight = true
	m.state = StateConnecting
	m.retries = 0
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer cancel()
		m.run(ctx)
	}()
}

// Disconnect halts the retry sequence and stops the connection. Local state
// is reset to Disconnected whether or not the close itself succeeds.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	// Cancelling under the lock closes the window where a dial that is
	// already succeeding could be adopted after state was reset: adopt
	// re-checks ctx under this same lock.
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = nil
	m.conn = nil
	m.state = StateDisconnected
	m.startInFlight = false
	m.retries = 0
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.wg.Wait()
}

// Invoke is permitted only while Connected.
func (m *Manager) Invoke(ctx context.Context, method string, args interface{}) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || conn == nil {
		return fmt.Errorf("invoke %s: %w", method, ErrNotConnected)
	}
	return conn.Invoke(ctx, method, args)
}

// InvokeBestEffort absorbs a peer that does not implement the method.
func (m *Manager) InvokeBestEffort(ctx context.Context, method string, args interface{}) error {
	err := m.Invoke(ctx, method, args)
	if errors.Is(err, ErrNotSupported) {
		return nil
	}
	return err
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	conn, err := m.dial(ctx)
	m.mu.Lock()
	m.startInFlight = false
	m.mu.Unlock()
	if err != nil {
		if isStopRace(ctx, err) {
			return
		}
		startErr := fmt.Errorf("channel %s start: %w", m.opts.Name, err)
		m.mu.Lock()
		m.lastErr = startErr
		if ctx.Err() == nil {
			m.state = StateDisconnected
		}
		m.mu.Unlock()
		m.reportError(startErr)
		return
	}
	if !m.adopt(ctx, conn) {
		return
	}

	for {
		m.readUntilDrop(ctx, conn)
		if ctx.Err() != nil {
			return
		}

		m.setState(ctx, StateReconnecting)
		var next Conn
		for {
			m.mu.Lock()
			attempt := m.retries
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-time.After(delayFor(m.opts.Backoff, attempt)):
			}

			c, err := m.dial(ctx)
			if err != nil {
				if isStopRace(ctx, err) {
					return
				}
				m.mu.Lock()
				m.retries++
				m.lastErr = err
				m.mu.Unlock()
				m.reportError(fmt.Errorf("channel %s reconnect: %w", m.opts.Name, err))
				continue
			}
			next = c
			break
		}
		if !m.adopt(ctx, next) {
			return
		}
		conn = next
	}
}

// dial performs one connection attempt with a freshly fetched token.
func (m *Manager) dial(ctx context.Context) (Conn, error) {
	token, err := m.opts.Tokens(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, ErrStopped
		}
		return nil, fmt.Errorf("acquire token: %w", err)
	}
	conn, err := m.opts.Transport.Dial(ctx, m.opts.URL, token)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, ErrStopped
		}
		return nil, err
	}
	return conn, nil
}

func (m *Manager) adopt(ctx context.Context, conn Conn) bool {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		_ = conn.Close()
		return false
	}
	m.conn = conn
	m.state = StateConnected
	m.retries = 0
	m.mu.Unlock()
	m.opts.Logger.Info("channel connected", "channel", m.opts.Name)
	return true
}

func (m *Manager) readUntilDrop(ctx context.Context, conn Conn) {
	for {
		evt, err := conn.ReadEvent()
		if err != nil {
			if ctx.Err() == nil {
				m.mu.Lock()
				m.lastErr = err
				m.mu.Unlock()
				m.opts.Logger.Warn("channel connection dropped", "channel", m.opts.Name, "error", err)
			}
			return
		}
		if evt.Type == domain.EventError {
			// A server-pushed fault; the connection itself stays up.
			err := serverError(m.opts.Name, evt)
			m.mu.Lock()
			m.lastErr = err
			m.mu.Unlock()
			m.reportError(err)
			continue
		}
		m.dispatch(evt)
	}
}

func (m *Manager) dispatch(evt domain.Event) {
	m.mu.Lock()
	handlers := make([]Handler, 0, len(m.subs[evt.Type]))
	for _, e := range m.subs[evt.Type] {
		handlers = append(handlers, e.fn)
	}
	armTimer := false
	if len(m.batchSubs[evt.Type]) > 0 {
		buf := m.buffers[evt.Type]
		if buf == nil {
			buf = &batchBuffer{}
			m.buffers[evt.Type] = buf
		}
		buf.events = append(buf.events, evt)
		if !buf.armed {
			buf.armed = true
			armTimer = true
		}
	}
	debounce := m.opts.Debounce
	m.mu.Unlock()

	for _, h := range handlers {
		h(evt)
	}
	if armTimer {
		eventType := evt.Type
		time.AfterFunc(debounce, func() { m.flush(eventType) })
	}
}

// flush delivers the buffered events of one type exactly once per debounce
// window, in arrival order.
func (m *Manager) flush(eventType domain.EventType) {
	m.mu.Lock()
	buf := m.buffers[eventType]
	if buf == nil || !buf.armed {
		m.mu.Unlock()
		return
	}
	events := buf.events
	buf.events = nil
	buf.armed = false
	handlers := make([]BatchHandler, 0, len(m.batchSubs[eventType]))
	for _, e := range m.batchSubs[eventType] {
		handlers = append(handlers, e.fn)
	}
	m.mu.Unlock()

	if len(events) == 0 {
		return
	}
	for _, h := range handlers {
		h(events)
	}
}

func (m *Manager) setState(ctx context.Context, state string) {
	m.mu.Lock()
	if ctx.Err() == nil {
		m.state = state
	}
	m.mu.Unlock()
}

func (m *Manager) reportError(err error) {
	m.opts.Logger.Warn("channel error", "channel", m.opts.Name, "error", err)
	if m.opts.OnError != nil {
		m.opts.OnError(err)
	}
}

func isStopRace(ctx context.Context, err error) bool {
	return errors.Is(err, ErrStopped) || ctx.Err() != nil
}

func serverError(name string, evt domain.Event) error {
	msg, _ := evt.Payload["message"].(string)
	if msg == "" {
		msg = "unspecified server error"
	}
	return fmt.Errorf("channel %s: server error: %s", name, msg)
}

// delayFor implements table[min(attempt, len(table)-1)].
func delayFor(table []time.Duration, attempt int) time.Duration {
	if len(table) == 0 {
		return time.Second
	}
	if attempt >= len(table) {
		attempt = len(table) - 1
	}
	if attempt < 0 {
		attempt = 0
	}
	return table[attempt]
}
