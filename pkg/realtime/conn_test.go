package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/docvault/backend/internal/buffer"
	"github.com/docvault/backend/pkg/event"
)

// testStream is a minimal event-stream server speaking both transports.
type testStream struct {
	srv     *httptest.Server
	backlog *buffer.Backlog

	mu          sync.Mutex
	conns       []*websocket.Conn
	connWriteMu []*sync.Mutex
	answerPings bool
	lastToken   string
	wsEnabled   bool
	token       string
}

func newTestStream(t *testing.T, wsEnabled, answerPings bool) *testStream {
	t.Helper()

	ts := &testStream{
		backlog:     buffer.NewBacklog(128),
		answerPings: answerPings,
		wsEnabled:   wsEnabled,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/events/ws", ts.handleWS)
	mux.HandleFunc("/api/events/poll", ts.handlePoll)
	mux.HandleFunc("/api/events/emit", ts.handleEmit)
	ts.srv = httptest.NewServer(mux)
	t.Cleanup(ts.close)
	return ts
}

func (ts *testStream) close() {
	ts.mu.Lock()
	conns := ts.conns
	ts.conns = nil
	ts.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	ts.srv.Close()
}

func (ts *testStream) handleWS(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	ts.lastToken = r.URL.Query().Get("token")
	enabled := ts.wsEnabled
	ts.mu.Unlock()

	if !ts.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !enabled {
		http.Error(w, "websocket disabled", http.StatusNotFound)
		return
	}

	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	writeMu := &sync.Mutex{}
	ts.mu.Lock()
	ts.conns = append(ts.conns, conn)
	ts.connWriteMu = append(ts.connWriteMu, writeMu)
	ts.mu.Unlock()

	for {
		var env event.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		if env.Event == event.Ping && ts.answersPings() {
			var ping event.PingPayload
			if err := env.Decode(&ping); err != nil {
				continue
			}
			pong, _ := event.New(event.Pong, event.PongPayload(ping))
			writeMu.Lock()
			conn.WriteJSON(pong)
			writeMu.Unlock()
		}
	}
}

func (ts *testStream) handlePoll(w http.ResponseWriter, r *http.Request) {
	if !ts.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	after, _ := strconv.ParseUint(r.URL.Query().Get("after"), 10, 64)
	events, next := ts.backlog.Wait(r.Context(), after, 200*time.Millisecond)
	if events == nil {
		events = []event.Envelope{}
	}
	json.NewEncoder(w).Encode(map[string]any{"events": events, "next": next})
}

func (ts *testStream) handleEmit(w http.ResponseWriter, r *http.Request) {
	if !ts.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var env event.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if env.Event == event.Ping && ts.answersPings() {
		var ping event.PingPayload
		if err := env.Decode(&ping); err == nil {
			pong, _ := event.New(event.Pong, event.PongPayload(ping))
			ts.backlog.Append(pong)
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

func (ts *testStream) connCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.conns)
}

// setToken makes every endpoint require the given query credential.
func (ts *testStream) setToken(token string) {
	ts.mu.Lock()
	ts.token = token
	ts.mu.Unlock()
}

func (ts *testStream) authorized(r *http.Request) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.token == "" || r.URL.Query().Get("token") == ts.token
}

// dropConns closes every live server-side connection, forcing client read
// loops to fail.
func (ts *testStream) dropConns() {
	ts.mu.Lock()
	conns := ts.conns
	ts.conns = nil
	ts.connWriteMu = nil
	ts.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (ts *testStream) answersPings() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.answerPings
}

// broadcast pushes an event over every live transport.
func (ts *testStream) broadcast(t *testing.T, name event.Name, payload any) {
	t.Helper()
	env, err := event.New(name, payload)
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}
	stamped := ts.backlog.Append(env)

	ts.mu.Lock()
	defer ts.mu.Unlock()
	for i, conn := range ts.conns {
		ts.connWriteMu[i].Lock()
		conn.WriteJSON(stamped)
		ts.connWriteMu[i].Unlock()
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestManagerConnectWebSocket(t *testing.T) {
	ts := newTestStream(t, true, true)

	registry := NewRegistry()
	var connects int
	var connectMu sync.Mutex
	registry.On(event.Connect, func(event.Envelope) {
		connectMu.Lock()
		connects++
		connectMu.Unlock()
	})

	m := NewManager(Config{BaseURL: ts.srv.URL, Token: "secret"}, registry)
	defer m.Disconnect()

	m.Connect("")

	if !waitFor(t, 2*time.Second, m.IsConnected) {
		t.Fatal("manager never connected")
	}
	if got := m.ActiveTransport(); got != TransportWebSocket {
		t.Errorf("expected websocket transport, got %q", got)
	}

	ts.mu.Lock()
	token := ts.lastToken
	ts.mu.Unlock()
	if token != "secret" {
		t.Errorf("credential not attached at connect time, got %q", token)
	}

	connectMu.Lock()
	n := connects
	connectMu.Unlock()
	if n != 1 {
		t.Errorf("expected 1 connect event, got %d", n)
	}

	t.Run("connect is idempotent while connected", func(t *testing.T) {
		m.Connect("")
		if got := m.Attempts(); got != 1 {
			t.Errorf("expected attempt counter to stay at 1, got %d", got)
		}
	})
}

func TestManagerCatchAllForwarding(t *testing.T) {
	ts := newTestStream(t, true, true)

	registry := NewRegistry()
	m := NewManager(Config{BaseURL: ts.srv.URL}, registry)
	defer m.Disconnect()

	received := make(chan event.Envelope, 4)
	registry.On("galaxy_reindexed", func(env event.Envelope) {
		received <- env
	})

	m.Connect("")
	if !waitFor(t, 2*time.Second, m.IsConnected) {
		t.Fatal("manager never connected")
	}

	if !waitFor(t, 2*time.Second, func() bool { return ts.connCount() > 0 }) {
		t.Fatal("server never registered the connection")
	}

	// An event name the client has no special handling for must still reach
	// its subscribers.
	ts.broadcast(t, "galaxy_reindexed", map[string]string{"id": "g-42"})

	select {
	case env := <-received:
		var payload struct {
			ID string `json:"id"`
		}
		if err := env.Decode(&payload); err != nil || payload.ID != "g-42" {
			t.Errorf("unexpected payload: %s (err=%v)", env.Payload, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unrecognized event was not forwarded")
	}
}

func TestManagerPollingFallback(t *testing.T) {
	ts := newTestStream(t, false, true)

	registry := NewRegistry()
	m := NewManager(Config{BaseURL: ts.srv.URL}, registry)
	defer m.Disconnect()

	received := make(chan event.Envelope, 4)
	registry.On(event.JobProgress, func(env event.Envelope) {
		received <- env
	})

	m.Connect("")
	if !waitFor(t, 2*time.Second, m.IsConnected) {
		t.Fatal("manager never fell back to polling")
	}
	if got := m.ActiveTransport(); got != TransportPolling {
		t.Errorf("expected polling transport, got %q", got)
	}

	ts.broadcast(t, event.JobProgress, event.JobProgressPayload{JobID: "j1", Progress: 40})

	select {
	case env := <-received:
		var p event.JobProgressPayload
		if err := env.Decode(&p); err != nil || p.Progress != 40 {
			t.Errorf("unexpected payload: %s (err=%v)", env.Payload, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered over polling transport")
	}

	t.Run("probe round-trips over the polling transport", func(t *testing.T) {
		if !m.TestConnection(context.Background()) {
			t.Error("expected probe to succeed over polling")
		}
	})
}

func TestManagerTestConnection(t *testing.T) {
	t.Run("resolves true on acknowledgement", func(t *testing.T) {
		ts := newTestStream(t, true, true)

		registry := NewRegistry()
		m := NewManager(Config{BaseURL: ts.srv.URL}, registry)
		defer m.Disconnect()

		m.Connect("")
		if !waitFor(t, 2*time.Second, m.IsConnected) {
			t.Fatal("manager never connected")
		}

		if !m.TestConnection(context.Background()) {
			t.Error("expected probe to succeed")
		}
		if n := registry.SubscriberCount(event.Pong); n != 0 {
			t.Errorf("probe leaked %d pong subscriber(s)", n)
		}
	})

	t.Run("resolves false on timeout and removes its listener", func(t *testing.T) {
		ts := newTestStream(t, true, false)

		registry := NewRegistry()
		m := NewManager(Config{BaseURL: ts.srv.URL, ProbeTimeout: 150 * time.Millisecond}, registry)
		defer m.Disconnect()

		m.Connect("")
		if !waitFor(t, 2*time.Second, m.IsConnected) {
			t.Fatal("manager never connected")
		}

		if m.TestConnection(context.Background()) {
			t.Error("expected probe to time out")
		}
		if n := registry.SubscriberCount(event.Pong); n != 0 {
			t.Errorf("probe leaked %d pong subscriber(s)", n)
		}
	})

	t.Run("resolves false immediately while disconnected", func(t *testing.T) {
		registry := NewRegistry()
		m := NewManager(Config{BaseURL: "http://127.0.0.1:0"}, registry)

		start := time.Now()
		if m.TestConnection(context.Background()) {
			t.Error("expected probe to fail while disconnected")
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("disconnected probe took %v, expected immediate return", elapsed)
		}
	})
}

func TestManagerDisconnect(t *testing.T) {
	ts := newTestStream(t, true, true)

	registry := NewRegistry()
	unbound := 0
	registry.On(event.JobCompleted, func(event.Envelope) { unbound++ })

	m := NewManager(Config{BaseURL: ts.srv.URL}, registry)
	m.Connect("")
	if !waitFor(t, 2*time.Second, m.IsConnected) {
		t.Fatal("manager never connected")
	}

	m.Disconnect()
	if m.IsConnected() {
		t.Error("expected manager to be disconnected")
	}
	if got := m.State(); got != StateDisconnected {
		t.Errorf("expected disconnected state, got %q", got)
	}

	// Idempotent.
	m.Disconnect()

	// Logical subscriptions survive a teardown so they rebind on reconnect.
	if n := registry.SubscriberCount(event.JobCompleted); n != 1 {
		t.Errorf("expected subscription to survive disconnect, got %d", n)
	}
}

// TestManagerTeardownDuringTransportDrop churns connect/teardown cycles while
// the server drops connections from its side, so the read-loop failure and
// Disconnect interleave differently each round. After Disconnect returns the
// manager must always be in the disconnected state and accept a new Connect.
func TestManagerTeardownDuringTransportDrop(t *testing.T) {
	ts := newTestStream(t, true, true)

	registry := NewRegistry()
	m := NewManager(Config{BaseURL: ts.srv.URL, ReconnectWait: 10 * time.Millisecond}, registry)

	for i := 0; i < 15; i++ {
		m.Connect("")
		if !waitFor(t, 2*time.Second, m.IsConnected) {
			t.Fatalf("round %d: manager never connected", i)
		}

		go ts.dropConns()
		m.Disconnect()

		if got := m.State(); got != StateDisconnected {
			t.Fatalf("round %d: state %q after Disconnect, want %q", i, got, StateDisconnected)
		}
	}

	m.Connect("")
	if !waitFor(t, 2*time.Second, m.IsConnected) {
		t.Fatal("manager never reconnected after teardown churn")
	}
	m.Disconnect()
}

// TestManagerEmitUsesConnectToken pins emits (including the probe ping) to the
// credential passed to Connect, not a stale configured one.
func TestManagerEmitUsesConnectToken(t *testing.T) {
	ts := newTestStream(t, false, true)
	ts.setToken("override")

	registry := NewRegistry()
	m := NewManager(Config{
		BaseURL:      ts.srv.URL,
		Token:        "stale",
		ProbeTimeout: 2 * time.Second,
	}, registry)
	defer m.Disconnect()

	m.Connect("override")
	if !waitFor(t, 2*time.Second, m.IsConnected) {
		t.Fatal("manager never connected over polling")
	}
	if got := m.ActiveTransport(); got != TransportPolling {
		t.Fatalf("expected polling transport, got %q", got)
	}

	if !m.TestConnection(context.Background()) {
		t.Error("probe must carry the connect-time credential")
	}
}
