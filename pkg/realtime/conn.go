// Package realtime implements the client side of the realtime coordination
// layer: a single managed connection to the event stream, multiplexed across
// many independent subscribers through a Registry.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/docvault/backend/pkg/event"
)

// State describes the connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Transport names reported by ActiveTransport.
const (
	TransportWebSocket = "websocket"
	TransportPolling   = "polling"
)

const (
	defaultDialTimeout   = 10 * time.Second
	defaultProbeTimeout  = 5 * time.Second
	defaultReconnectWait = time.Second
	maxReconnectWait     = 30 * time.Second

	// pollWait must exceed the server's long-poll hold time.
	pollWait = 35 * time.Second
)

// Config configures a connection Manager. Zero values are replaced with
// defaults.
type Config struct {
	// BaseURL is the http(s) address of the server, e.g. "http://localhost:8080".
	BaseURL string

	// Token is the credential attached at connect time. Connect may override it.
	Token string

	// DialTimeout bounds the websocket handshake. Default 10s.
	DialTimeout time.Duration

	// ProbeTimeout bounds TestConnection's wait for an acknowledgement. Default 5s.
	ProbeTimeout time.Duration

	// ReconnectWait is the initial delay between reconnection attempts; the
	// delay doubles up to a 30s cap. Default 1s.
	ReconnectWait time.Duration

	// MaxReconnectAttempts caps consecutive failed attempts before the manager
	// gives up and dispatches reconnect_failed. Zero means retry forever.
	MaxReconnectAttempts int

	// HTTPClient is used by the polling transport. Default: a client with the
	// poll wait as timeout.
	HTTPClient *http.Client
}

// Manager owns the single realtime transport connection: lifecycle, low-level
// diagnostics, and the connectivity self-test. Every inbound envelope is
// forwarded to the Registry, so new server event types require no changes here.
type Manager struct {
	cfg      Config
	registry *Registry

	mu        sync.Mutex
	state     State
	transport string
	token     string
	attempts  int
	lastSeq   uint64
	conn      *websocket.Conn
	cancel    context.CancelFunc
	done      chan struct{}

	writeMu sync.Mutex
}

// NewManager creates a Manager wired to registry. The manager registers itself
// as the registry's sender so Registry.Emit transmits through it.
func NewManager(cfg Config, registry *Registry) *Manager {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = defaultReconnectWait
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: pollWait}
	}

	m := &Manager{
		cfg:      cfg,
		registry: registry,
		state:    StateDisconnected,
	}
	registry.SetSender(m)
	return m
}

// Connect opens the realtime connection. It is idempotent: calling it while a
// connection is live or being established is a no-op. The optional token
// overrides the configured credential for this connection.
func (m *Manager) Connect(token string) {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	if token == "" {
		token = m.cfg.Token
	}
	m.token = token
	m.state = StateConnecting
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.run(ctx, token)
	}()
}

// Disconnect tears down the transport. Idempotent. Logical subscriptions on
// the registry are untouched so they rebind automatically on reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	conn := m.conn
	done := m.done
	m.cancel = nil
	m.conn = nil
	m.transport = ""
	m.token = ""
	m.state = StateDisconnected
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
}

// IsConnected reports whether a transport is live.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ActiveTransport returns the name of the live transport, or "" when
// disconnected.
func (m *Manager) ActiveTransport() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport
}

// Attempts returns the monotonically increasing connection-attempt counter.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// TestConnection sends a synthetic probe and waits for a matching
// acknowledgement. It resolves false immediately when disconnected, and false
// after the probe timeout elapses without an acknowledgement. Its temporary
// subscription is removed in every case.
func (m *Manager) TestConnection(ctx context.Context) bool {
	if !m.IsConnected() {
		return false
	}

	ts := time.Now().UnixNano()
	ack := make(chan struct{}, 1)
	unsub := m.registry.On(event.Pong, func(env event.Envelope) {
		var pong event.PongPayload
		if err := env.Decode(&pong); err != nil {
			return
		}
		if pong.TS == ts {
			select {
			case ack <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	if err := m.registry.Emit(event.Ping, event.PingPayload{TS: ts}); err != nil {
		log.Printf("realtime: probe emit failed: %v", err)
		return false
	}

	select {
	case <-ack:
		return true
	case <-time.After(m.cfg.ProbeTimeout):
		return false
	case <-ctx.Done():
		return false
	}
}

// Send transmits an envelope over the live transport. Part of the Sender
// contract used by Registry.Emit.
func (m *Manager) Send(env event.Envelope) error {
	m.mu.Lock()
	transport := m.transport
	conn := m.conn
	m.mu.Unlock()

	switch transport {
	case TransportWebSocket:
		if conn == nil {
			return fmt.Errorf("websocket transport has no live connection")
		}
		m.writeMu.Lock()
		defer m.writeMu.Unlock()
		return conn.WriteJSON(env)
	case TransportPolling:
		return m.postEmit(env)
	default:
		return fmt.Errorf("not connected")
	}
}

// run supervises the connection: dial websocket first, fall back to long
// polling, reconnect with capped exponential backoff. gorilla/websocket has no
// built-in reconnection, so the supervisor loop carries that responsibility
// for both transports and surfaces it through the reconnect_* events.
func (m *Manager) run(ctx context.Context, token string) {
	wait := m.cfg.ReconnectWait
	failures := 0
	everConnected := false

	for {
		if ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		if everConnected {
			m.dispatchLifecycle(event.ReconnectAttempt, lifecyclePayload{Attempt: attempt})
		}

		connected := m.runWebSocket(ctx, token, attempt, everConnected)
		if !connected {
			connected = m.runPolling(ctx, token, attempt, everConnected)
		}

		if ctx.Err() != nil {
			return
		}

		if connected {
			// The transport was live and then dropped.
			everConnected = true
			failures = 0
			wait = m.cfg.ReconnectWait
			m.dispatchLifecycle(event.Disconnect, nil)
		} else {
			failures++
			if everConnected {
				m.dispatchLifecycle(event.ReconnectError, lifecyclePayload{Attempt: attempt})
			}
			if m.cfg.MaxReconnectAttempts > 0 && failures >= m.cfg.MaxReconnectAttempts {
				m.dispatchLifecycle(event.ReconnectFailed, lifecyclePayload{Attempt: attempt})
				m.mu.Lock()
				m.state = StateDisconnected
				m.transport = ""
				m.mu.Unlock()
				return
			}
		}

		// Disconnect may have completed while the transport was tearing down;
		// once cancelled, the supervisor no longer owns the lifecycle state and
		// must not overwrite what Disconnect wrote.
		m.mu.Lock()
		if ctx.Err() != nil {
			m.mu.Unlock()
			return
		}
		m.state = StateConnecting
		m.transport = ""
		m.conn = nil
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait *= 2
		if wait > maxReconnectWait {
			wait = maxReconnectWait
		}
	}
}

// runWebSocket dials the stream endpoint and pumps inbound envelopes until the
// connection drops. It returns true if the transport was established.
func (m *Manager) runWebSocket(ctx context.Context, token string, attempt int, reconnecting bool) bool {
	wsURL, err := streamURL(m.cfg.BaseURL, token)
	if err != nil {
		log.Printf("realtime: bad base url: %v", err)
		return false
	}

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.DialTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		log.Printf("realtime: websocket dial failed: %v", err)
		m.dispatchError(err)
		return false
	}

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		conn.Close()
		return false
	}
	m.conn = conn
	m.transport = TransportWebSocket
	m.state = StateConnected
	m.mu.Unlock()

	m.dispatchConnected(TransportWebSocket, attempt, reconnecting)

	// Close the socket when the supervisor context is cancelled so the read
	// loop unblocks.
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer close(stop)

	for {
		var env event.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() == nil {
				log.Printf("realtime: websocket read failed: %v", err)
				m.dispatchError(err)
			}
			conn.Close()
			return true
		}
		m.forward(env)
	}
}

// runPolling drives the long-poll fallback until an error or cancellation. It
// returns true if at least one poll round-trip succeeded.
func (m *Manager) runPolling(ctx context.Context, token string, attempt int, reconnecting bool) bool {
	established := false

	for {
		if ctx.Err() != nil {
			return established
		}

		m.mu.Lock()
		after := m.lastSeq
		m.mu.Unlock()

		envs, next, err := m.pollOnce(ctx, token, after)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("realtime: poll failed: %v", err)
				m.dispatchError(err)
			}
			return established
		}

		if !established {
			established = true
			m.mu.Lock()
			if ctx.Err() != nil {
				m.mu.Unlock()
				return established
			}
			m.transport = TransportPolling
			m.state = StateConnected
			m.mu.Unlock()
			m.dispatchConnected(TransportPolling, attempt, reconnecting)
		}

		m.mu.Lock()
		if next > m.lastSeq {
			m.lastSeq = next
		}
		m.mu.Unlock()

		for _, env := range envs {
			m.forward(env)
		}
	}
}

type pollResponse struct {
	Events []event.Envelope `json:"events"`
	Next   uint64           `json:"next"`
}

func (m *Manager) pollOnce(ctx context.Context, token string, after uint64) ([]event.Envelope, uint64, error) {
	u := strings.TrimRight(m.cfg.BaseURL, "/") + "/api/events/poll?after=" + strconv.FormatUint(after, 10)
	if token != "" {
		u += "&token=" + url.QueryEscape(token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := m.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("poll returned %d: %s", resp.StatusCode, body)
	}

	var pr pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, 0, err
	}
	return pr.Events, pr.Next, nil
}

func (m *Manager) postEmit(env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	u := strings.TrimRight(m.cfg.BaseURL, "/") + "/api/events/emit"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	resp, err := m.cfg.HTTPClient.Post(u, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("emit returned %d", resp.StatusCode)
	}
	return nil
}

// forward is the catch-all: every inbound envelope goes to the registry by its
// raw name, so unrecognized server events reach subscribers unchanged.
func (m *Manager) forward(env event.Envelope) {
	if env.Seq > 0 {
		m.mu.Lock()
		if env.Seq > m.lastSeq {
			m.lastSeq = env.Seq
		}
		m.mu.Unlock()
	}
	if !event.Known(env.Event) {
		log.Printf("realtime: forwarding unrecognized event %q", env.Event)
	}
	m.registry.Dispatch(env)
}

type lifecyclePayload struct {
	Transport string `json:"transport,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (m *Manager) dispatchConnected(transport string, attempt int, reconnecting bool) {
	if reconnecting {
		m.dispatchLifecycle(event.Reconnect, lifecyclePayload{Transport: transport, Attempt: attempt})
	}
	m.dispatchLifecycle(event.Connect, lifecyclePayload{Transport: transport, Attempt: attempt})
}

func (m *Manager) dispatchError(err error) {
	m.dispatchLifecycle(event.Error, lifecyclePayload{Message: err.Error()})
}

func (m *Manager) dispatchLifecycle(name event.Name, payload any) {
	env, err := event.New(name, payload)
	if err != nil {
		log.Printf("realtime: marshal %q payload: %v", name, err)
		return
	}
	m.registry.Dispatch(env)
}

// streamURL converts the configured base URL into the websocket endpoint,
// attaching the credential as a query parameter.
func streamURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/events/ws"
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
