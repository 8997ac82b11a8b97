package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// WebSocket Confirmation Monitor — signatureSubscribe for trade settlement
// Emits an event once a watched transaction reaches confirmed commitment,
// instead of hammering getTransaction in a poll loop.
// ---------------------------------------------------------------------------

// ConfirmMonitorConfig configures the confirmation monitor.
type ConfirmMonitorConfig struct {
	WSEndpoint       string `yaml:"ws_endpoint"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms"`
	MaxReconnects    int    `yaml:"max_reconnects"` // 0 = unlimited
}

// DefaultConfirmMonitorConfig returns mainnet defaults.
func DefaultConfirmMonitorConfig() ConfirmMonitorConfig {
	return ConfirmMonitorConfig{
		WSEndpoint:       "wss://api.mainnet-beta.solana.com",
		ReconnectDelayMs: 1000,
		MaxReconnects:    0,
	}
}

// ConfirmEvent is emitted when a watched signature is confirmed.
type ConfirmEvent struct {
	Signature   Signature `json:"signature"`
	Slot        uint64    `json:"slot"`
	Err         string    `json:"err,omitempty"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Failed reports whether the transaction errored on-chain.
func (e ConfirmEvent) Failed() bool { return e.Err != "" }

// ConfirmMonitor watches transaction signatures over a WebSocket connection.
type ConfirmMonitor struct {
	config ConfirmMonitorConfig

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[int64]Signature // request ID -> signature (awaiting sub confirm)
	subs    map[int64]Signature // subscription ID -> signature
	queue   []Signature         // signatures to (re)subscribe on connect

	eventChan chan ConfirmEvent
	closed    atomic.Bool
	nextID    atomic.Int64

	// Stats.
	confirmed  atomic.Int64
	reconnects atomic.Int64
	connected  atomic.Bool
}

// NewConfirmMonitor creates a new confirmation monitor.
func NewConfirmMonitor(config ConfirmMonitorConfig) *ConfirmMonitor {
	return &ConfirmMonitor{
		config:    config,
		pending:   make(map[int64]Signature),
		subs:      make(map[int64]Signature),
		eventChan: make(chan ConfirmEvent, 64),
	}
}

// Start connects and begins monitoring. Returns the event channel.
func (m *ConfirmMonitor) Start(ctx context.Context) (<-chan ConfirmEvent, error) {
	go m.runLoop(ctx)
	return m.eventChan, nil
}

// Watch requests confirmation events for a signature. Safe to call before
// the connection is established; the subscription is queued.
func (m *ConfirmMonitor) Watch(sig Signature) {
	m.mu.Lock()
	conn := m.conn
	if conn == nil {
		m.queue = append(m.queue, sig)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := m.subscribe(sig); err != nil {
		log.Warn().Err(err).Str("sig", short(string(sig))).Msg("confirm: subscribe failed, queueing")
		m.mu.Lock()
		m.queue = append(m.queue, sig)
		m.mu.Unlock()
	}
}

func (m *ConfirmMonitor) runLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("confirm: runLoop panic recovered")
		}
		if m.closed.CompareAndSwap(false, true) {
			close(m.eventChan)
		}
	}()

	reconnectDelay := time.Duration(m.config.ReconnectDelayMs) * time.Millisecond
	reconnectCount := 0

	for {
		select {
		case <-ctx.Done():
			m.disconnect()
			return
		default:
		}

		if m.config.MaxReconnects > 0 && reconnectCount >= m.config.MaxReconnects {
			log.Error().Int("max", m.config.MaxReconnects).Msg("confirm: max reconnects reached")
			m.disconnect()
			return
		}

		if err := m.connect(ctx); err != nil {
			log.Warn().Err(err).Int("attempt", reconnectCount).Msg("confirm: connection failed")
			reconnectCount++
			m.reconnects.Add(1)

			maxDelay := 30 * time.Second
			select {
			case <-time.After(reconnectDelay):
				reconnectDelay *= 2
				if reconnectDelay > maxDelay {
					reconnectDelay = maxDelay
				}
			case <-ctx.Done():
				return
			}
			continue
		}

		reconnectCount = 0
		reconnectDelay = time.Duration(m.config.ReconnectDelayMs) * time.Millisecond

		// Flush queued subscriptions.
		m.mu.Lock()
		queued := m.queue
		m.queue = nil
		m.mu.Unlock()
		for _, sig := range queued {
			if err := m.subscribe(sig); err != nil {
				log.Warn().Err(err).Str("sig", short(string(sig))).Msg("confirm: subscribe failed")
			}
		}

		m.readLoop(ctx)
	}
}

func (m *ConfirmMonitor) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, m.config.WSEndpoint, http.Header{})
	if err != nil {
		return fmt.Errorf("confirm: dial: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.pending = make(map[int64]Signature)
	m.subs = make(map[int64]Signature)
	m.mu.Unlock()
	m.connected.Store(true)

	log.Info().Str("endpoint", m.config.WSEndpoint).Msg("confirm: connected")
	return nil
}

func (m *ConfirmMonitor) disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connected.Store(false)
}

func (m *ConfirmMonitor) subscribe(sig Signature) error {
	reqID := m.nextID.Add(1)
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "signatureSubscribe",
		Params: []any{
			string(sig),
			map[string]any{"commitment": "confirmed"},
		},
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return fmt.Errorf("confirm: not connected")
	}
	m.pending[reqID] = sig
	return m.conn.WriteJSON(req)
}

// wsMessage is the union of subscription-confirm and notification frames.
type wsMessage struct {
	ID     int64           `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Method string          `json:"method,omitempty"`
	Params *struct {
		Subscription int64 `json:"subscription"`
		Result       struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Err json.RawMessage `json:"err"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params,omitempty"`
}

func (m *ConfirmMonitor) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.disconnect()
			return
		default:
		}

		m.mu.Lock()
		conn := m.conn
		m.mu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("confirm: read error, reconnecting")
			m.disconnect()
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		// Subscription-confirm frame: map sub ID to signature.
		if msg.ID != 0 && msg.Result != nil && msg.Method == "" {
			var subID int64
			if err := json.Unmarshal(msg.Result, &subID); err == nil {
				m.mu.Lock()
				if sig, ok := m.pending[msg.ID]; ok {
					m.subs[subID] = sig
					delete(m.pending, msg.ID)
				}
				m.mu.Unlock()
			}
			continue
		}

		// Notification frame: the signature reached confirmed commitment.
		if msg.Method == "signatureNotification" && msg.Params != nil {
			m.mu.Lock()
			sig, ok := m.subs[msg.Params.Subscription]
			if ok {
				delete(m.subs, msg.Params.Subscription)
			}
			m.mu.Unlock()
			if !ok {
				continue
			}

			event := ConfirmEvent{
				Signature:   sig,
				Slot:        msg.Params.Result.Context.Slot,
				ConfirmedAt: time.Now(),
			}
			if errJSON := msg.Params.Result.Value.Err; len(errJSON) > 0 && string(errJSON) != "null" {
				event.Err = string(errJSON)
			}

			m.confirmed.Add(1)
			select {
			case m.eventChan <- event:
			default:
				log.Warn().Str("sig", short(string(sig))).Msg("confirm: event channel full, dropping")
			}
		}
	}
}

func short(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Stats returns monitor statistics.
type ConfirmStats struct {
	Confirmed  int64 `json:"confirmed"`
	Reconnects int64 `json:"reconnects"`
	Connected  bool  `json:"connected"`
}

func (m *ConfirmMonitor) Stats() ConfirmStats {
	return ConfirmStats{
		Confirmed:  m.confirmed.Load(),
		Reconnects: m.reconnects.Load(),
		Connected:  m.connected.Load(),
	}
}
