package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/formvox/core"
	"pkt.systems/formvox/httpapi"
	"pkt.systems/formvox/internal/assistant"
	"pkt.systems/formvox/internal/connmgr"
	"pkt.systems/formvox/internal/persist"
	"pkt.systems/formvox/schema"
)

func requireLong(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

func requireChrome(t *testing.T) {
	t.Helper()
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("no chrome binary available")
}

// mockAssistant answers the backend REST surface and pushes a fill-request
// over the socket once every field of a session has an answer.
type mockAssistant struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]*mockConversation

	connMu   sync.Mutex
	conns    map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
}

type mockConversation struct {
	pending []string
	values  map[string]string
}

func newMockAssistant(t *testing.T) (*mockAssistant, *httptest.Server) {
	t.Helper()
	mock := &mockAssistant{
		sessions: make(map[string]*mockConversation),
		conns:    make(map[*websocket.Conn]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeMockJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": "test"})
	})
	mux.HandleFunc("POST /api/v1/sessions", mock.handleCreate)
	mux.HandleFunc("POST /api/v1/sessions/{id}/messages", mock.handleMessage)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", mock.handleDelete)
	mux.HandleFunc("GET /api/v1/push", mock.handlePush)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return mock, ts
}

func (m *mockAssistant) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FormSchema schema.FormSchema `json:"form_schema"`
		FormURL    string            `json:"form_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeMockJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	conv := &mockConversation{values: make(map[string]string)}
	for _, field := range payload.FormSchema.Fields {
		if field.Name != "" {
			conv.pending = append(conv.pending, field.Name)
		}
	}
	m.mu.Lock()
	m.seq++
	id := fmt.Sprintf("it-sess-%d", m.seq)
	m.sessions[id] = conv
	m.mu.Unlock()
	writeMockJSON(w, http.StatusOK, map[string]any{
		"session_id":      id,
		"greeting":        "Hello, let's fill this out.",
		"remaining_count": len(conv.pending),
	})
}

func (m *mockAssistant) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeMockJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	m.mu.Lock()
	conv := m.sessions[id]
	if conv == nil {
		m.mu.Unlock()
		writeMockJSON(w, http.StatusNotFound, map[string]any{"error": "unknown session"})
		return
	}
	extracted := map[string]string{}
	if len(conv.pending) > 0 {
		name := conv.pending[0]
		conv.pending = conv.pending[1:]
		conv.values[name] = strings.TrimSpace(payload.Message)
		extracted[name] = conv.values[name]
	}
	remaining := len(conv.pending)
	complete := remaining == 0
	values := make(map[string]string, len(conv.values))
	for k, v := range conv.values {
		values[k] = v
	}
	m.mu.Unlock()

	writeMockJSON(w, http.StatusOK, map[string]any{
		"response":         "Noted.",
		"extracted_values": extracted,
		"remaining_count":  remaining,
		"is_complete":      complete,
	})
	if complete {
		m.pushFill(values)
	}
}

func (m *mockAssistant) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m.mu.Lock()
	conv := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if conv == nil {
		writeMockJSON(w, http.StatusNotFound, map[string]any{"error": "unknown session"})
		return
	}
	writeMockJSON(w, http.StatusOK, map[string]any{"final_data": conv.values})
}

func (m *mockAssistant) handlePush(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	m.connMu.Lock()
	m.conns[conn] = struct{}{}
	m.connMu.Unlock()
	go func() {
		defer func() {
			m.connMu.Lock()
			delete(m.conns, conn)
			m.connMu.Unlock()
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (m *mockAssistant) pushFill(values map[string]string) {
	data, _ := json.Marshal(schema.FillRequestEvent{Data: values})
	message, _ := json.Marshal(schema.PushMessage{Type: schema.PushTypeFillRequest, Data: data})
	m.connMu.Lock()
	defer m.connMu.Unlock()
	for conn := range m.conns {
		_ = conn.WriteMessage(websocket.TextMessage, message)
	}
}

func writeMockJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// bridge is a fully wired daemon: real service, real backend client, real
// socket manager, real HTTP API, all pointed at the mock assistant.
type bridge struct {
	api *httptest.Server
	hub *httpapi.Hub
	svc core.Service
	mgr *connmgr.Manager
}

func newBridge(t *testing.T, backendURL string) *bridge {
	t.Helper()
	socketURL := "ws" + strings.TrimPrefix(backendURL, "http") + "/api/v1/push"
	store, err := persist.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	hub := httpapi.NewHub(64)

	var svc core.Service
	mgr := connmgr.New(schema.ConnConfig{
		URL:           socketURL,
		ReconnectBase: 10 * time.Millisecond,
		ReconnectMax:  100 * time.Millisecond,
	}, connmgr.Events{
		OnConnectivity: hub.OnConnectivity,
		OnFillRequest: func(event schema.FillRequestEvent) {
			if svc != nil {
				svc.HandleFillRequest(event)
			}
		},
	}, nil)
	t.Cleanup(func() { _ = mgr.Close() })

	svc, err = core.NewService(schema.ServiceConfig{StateDir: t.TempDir()}, core.ServiceDeps{
		Backend:   assistant.New(backendURL),
		ConnMgr:   mgr,
		Store:     store,
		EventSink: hub,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	api := httptest.NewServer(httpapi.NewServer(httpapi.Config{}, svc, hub).Handler())
	t.Cleanup(api.Close)
	return &bridge{api: api, hub: hub, svc: svc, mgr: mgr}
}

func (b *bridge) post(t *testing.T, path string, payload any, target any) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(b.api.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s status = %d", path, resp.StatusCode)
	}
	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
}
