// Package connmgr maintains the push channel to the assistant backend over a
// websocket: connect, keepalive, reconnect with growing delays, and delivery
// of inbound fill-request pushes.
package connmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	"pkt.systems/formvox/schema"
)

// State is the connection lifecycle state.
type State string

const (
	// StateDisconnected means no socket is open and no dial is in flight.
	StateDisconnected State = "disconnected"
	// StateConnecting means a dial is in flight.
	StateConnecting State = "connecting"
	// StateConnected means the socket is open.
	StateConnected State = "connected"
)

// Conn is the subset of the websocket connection the manager drives.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// DialFunc opens a connection to the backend socket URL.
type DialFunc func(ctx context.Context, rawURL string) (Conn, error)

// DefaultDial dials with the gorilla default dialer.
func DefaultDial(ctx context.Context, rawURL string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Events are the manager's outbound notifications. Either callback may be nil.
type Events struct {
	OnConnectivity func(schema.ConnectivityEvent)
	OnFillRequest  func(schema.FillRequestEvent)
}

// Manager owns one backend socket. Connect is idempotent; once connected the
// manager keeps the channel alive with pings and reconnects on loss with
// delays that grow per attempt and reset on success.
type Manager struct {
	cfg     schema.ConnConfig
	dial    DialFunc
	backoff Backoff
	events  Events
	log     pslog.Logger

	mu           sync.Mutex
	state        State
	conn         Conn
	attempts     int
	reconnecting bool
	closed       bool
	done         chan struct{}
}

var errClosed = errors.New("connection manager closed")

// New constructs a manager. A nil dial func uses the default dialer.
func New(cfg schema.ConnConfig, events Events, logger pslog.Logger) *Manager {
	return NewWithDial(cfg, events, DefaultDial, logger)
}

// NewWithDial constructs a manager with an injectable dialer.
func NewWithDial(cfg schema.ConnConfig, events Events, dial DialFunc, logger pslog.Logger) *Manager {
	cfg = schema.NormalizeConnConfig(cfg)
	if dial == nil {
		dial = DefaultDial
	}
	if logger != nil {
		logger = logger.With("socket", cfg.URL)
	}
	return &Manager{
		cfg:     cfg,
		dial:    dial,
		backoff: NewBackoff(cfg),
		events:  events,
		log:     logger,
		state:   StateDisconnected,
		done:    make(chan struct{}),
	}
}

// State reports the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the socket if it is not already open or opening. Calling it
// while connected or connecting is a no-op. A failed dial broadcasts the
// disconnection and leaves a retry loop running in the background, so one
// Connect call is enough to keep the manager chasing the backend.
func (m *Manager) Connect(ctx context.Context) error {
	err := m.connectOnce(ctx)
	if err != nil && !errors.Is(err, errClosed) {
		m.emitConnectivity(false)
		m.scheduleReconnect()
	}
	return err
}

func (m *Manager) connectOnce(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errClosed
	}
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.mu.Unlock()

	conn, err := m.dial(ctx, m.cfg.URL)
	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		if m.log != nil {
			m.log.Warn("backend socket dial failed", "err", err)
		}
		return fmt.Errorf("connect backend socket: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return errClosed
	}
	m.conn = conn
	m.state = StateConnected
	m.attempts = 0
	m.mu.Unlock()

	if m.log != nil {
		m.log.Info("backend socket connected")
	}
	m.emitConnectivity(true)
	go m.readLoop(conn)
	go m.keepalive(conn)
	return nil
}

// Close shuts the manager down permanently.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.state = StateDisconnected
	close(m.done)
	m.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (m *Manager) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(conn, err)
			return
		}
		m.handleMessage(data)
	}
}

func (m *Manager) handleMessage(data []byte) {
	var push schema.PushMessage
	if err := json.Unmarshal(data, &push); err != nil {
		if m.log != nil {
			m.log.Warn("backend push unparsable", "err", err)
		}
		return
	}
	switch push.Type {
	case schema.PushTypeFillRequest:
		var fill schema.FillRequestEvent
		if err := json.Unmarshal(push.Data, &fill); err != nil {
			if m.log != nil {
				m.log.Warn("fill-request payload unparsable", "err", err)
			}
			return
		}
		if m.events.OnFillRequest != nil {
			m.events.OnFillRequest(fill)
		}
	default:
		if m.log != nil {
			m.log.Debug("backend push ignored", "type", push.Type)
		}
	}
}

func (m *Manager) handleDisconnect(conn Conn, cause error) {
	m.mu.Lock()
	if m.closed || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateDisconnected
	m.mu.Unlock()
	_ = conn.Close()
	if m.log != nil {
		m.log.Warn("backend socket lost", "err", cause)
	}
	m.emitConnectivity(false)
	m.scheduleReconnect()
}

// scheduleReconnect starts the retry loop unless one is already running.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.closed || m.state != StateDisconnected || m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.mu.Unlock()
	go m.reconnectLoop()
}

// reconnectLoop retries until the socket is back or the manager is closed.
// The configured max attempt count is carried but not enforced; retries are
// unbounded.
func (m *Manager) reconnectLoop() {
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()
	for {
		m.mu.Lock()
		if m.closed || m.state != StateDisconnected {
			m.mu.Unlock()
			return
		}
		attempt := m.attempts
		m.attempts++
		m.mu.Unlock()

		delay := m.backoff.Delay(attempt)
		if m.log != nil {
			m.log.Debug("backend reconnect scheduled", "attempt", attempt, "delay", delay)
		}
		select {
		case <-m.done:
			return
		case <-time.After(delay):
		}
		if err := m.connectOnce(context.Background()); err == nil {
			return
		}
	}
}

func (m *Manager) keepalive(conn Conn) {
	ticker := time.NewTicker(m.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}
		m.mu.Lock()
		active := m.conn == conn
		m.mu.Unlock()
		if !active {
			return
		}
		deadline := time.Now().Add(5 * time.Second)
		if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			// Read loop notices the closed socket and drives reconnect.
			_ = conn.Close()
			return
		}
	}
}

func (m *Manager) emitConnectivity(connected bool) {
	if m.events.OnConnectivity != nil {
		m.events.OnConnectivity(schema.ConnectivityEvent{Connected: connected})
	}
}
