package main

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"pkt.systems/formvox/internal/version"
	"pkt.systems/formvox/schema"
	"pkt.systems/pslog"
)

func newBackendMockCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "backend-mock",
		Short: "Mock assistant backend for testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			mock := newMockBackend(logger)
			server := &http.Server{
				Addr:    addr,
				Handler: mock.Handler(),
			}
			go func() {
				<-ctx.Done()
				_ = server.Shutdown(context.Background())
			}()
			logger.Info("backend mock listening", "addr", addr)
			err := server.ListenAndServe()
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:27490", "listen address")
	return cmd
}

// mockBackend answers the assistant REST surface with deterministic replies
// and pushes a fill-request over the socket when a session completes. Replies
// derive from the form schema alone so scripted tests stay reproducible.
type mockBackend struct {
	log pslog.Logger

	mu       sync.Mutex
	seq      int
	sessions map[string]*mockSession

	connMu   sync.Mutex
	conns    map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
}

type mockSession struct {
	fields  []schema.FieldSchema
	values  map[string]string
	pending []string
}

func newMockBackend(logger pslog.Logger) *mockBackend {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &mockBackend{
		log:      logger,
		sessions: make(map[string]*mockSession),
		conns:    make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the mock's HTTP routes.
func (m *mockBackend) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", m.handleHealth)
	mux.HandleFunc("POST /api/v1/sessions", m.handleCreate)
	mux.HandleFunc("POST /api/v1/sessions/{id}/messages", m.handleMessage)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", m.handleDelete)
	mux.HandleFunc("GET /api/v1/push", m.handlePush)
	return mux
}

func (m *mockBackend) handleHealth(w http.ResponseWriter, r *http.Request) {
	m.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Current(),
	})
}

func (m *mockBackend) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FormSchema schema.FormSchema `json:"form_schema"`
		FormURL    string            `json:"form_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		m.writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	sess := &mockSession{
		fields: payload.FormSchema.Fields,
		values: make(map[string]string),
	}
	for _, field := range payload.FormSchema.Fields {
		if field.Name != "" {
			sess.pending = append(sess.pending, field.Name)
		}
	}

	m.mu.Lock()
	m.seq++
	id := mockSessionID(payload.FormURL, m.seq)
	m.sessions[id] = sess
	m.mu.Unlock()

	m.log.Info("mock session created", "session", id, "fields", len(sess.pending))
	m.writeJSON(w, http.StatusOK, map[string]any{
		"session_id":      id,
		"greeting":        "Hi! I can fill out this form for you. " + firstQuestion(sess),
		"next_questions":  questionsFor(sess),
		"remaining_count": len(sess.pending),
	})
}

func (m *mockBackend) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		m.writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	m.mu.Lock()
	sess := m.sessions[id]
	if sess == nil {
		m.mu.Unlock()
		m.writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown session"})
		return
	}
	extracted := map[string]string{}
	if len(sess.pending) > 0 {
		name := sess.pending[0]
		sess.pending = sess.pending[1:]
		value := strings.TrimSpace(payload.Message)
		sess.values[name] = value
		extracted[name] = value
	}
	remaining := len(sess.pending)
	complete := remaining == 0
	values := cloneValues(sess.values)
	questions := questionsFor(sess)
	m.mu.Unlock()

	response := "Got it. " + firstOf(questions, "That was everything I needed.")
	confidence := make(map[string]float64, len(extracted))
	for name := range extracted {
		confidence[name] = 0.9
	}
	m.writeJSON(w, http.StatusOK, map[string]any{
		"response":           response,
		"extracted_values":   extracted,
		"confidence_scores":  confidence,
		"needs_confirmation": false,
		"remaining_count":    remaining,
		"is_complete":        complete,
		"next_questions":     questions,
	})

	if complete {
		m.pushFill(values)
	}
}

func (m *mockBackend) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m.mu.Lock()
	sess := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if sess == nil {
		m.writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown session"})
		return
	}
	m.log.Info("mock session deleted", "session", id, "fields", len(sess.values))
	m.writeJSON(w, http.StatusOK, map[string]any{
		"final_data": sess.values,
	})
}

func (m *mockBackend) handlePush(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn("mock push upgrade failed", "err", err)
		return
	}
	m.connMu.Lock()
	m.conns[conn] = struct{}{}
	m.connMu.Unlock()
	m.log.Info("mock push socket connected", "remote", conn.RemoteAddr().String())

	// The read loop services control frames; clients do not send data here.
	go func() {
		defer func() {
			m.connMu.Lock()
			delete(m.conns, conn)
			m.connMu.Unlock()
			_ = conn.Close()
			m.log.Info("mock push socket closed")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (m *mockBackend) pushFill(values map[string]string) {
	data, err := json.Marshal(schema.FillRequestEvent{Data: values})
	if err != nil {
		return
	}
	message, err := json.Marshal(schema.PushMessage{
		Type: schema.PushTypeFillRequest,
		Data: data,
	})
	if err != nil {
		return
	}
	m.connMu.Lock()
	conns := make([]*websocket.Conn, 0, len(m.conns))
	for conn := range m.conns {
		conns = append(conns, conn)
	}
	m.connMu.Unlock()
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			m.log.Warn("mock push write failed", "err", err)
		}
	}
	m.log.Info("mock fill pushed", "fields", len(values), "sockets", len(conns))
}

func (m *mockBackend) writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func mockSessionID(formURL string, seq int) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(formURL))
	return fmt.Sprintf("mock-%08x-%d", h.Sum64()&0xffffffff, seq)
}

func questionsFor(sess *mockSession) []string {
	questions := make([]string, 0, len(sess.pending))
	for _, name := range sess.pending {
		questions = append(questions, "What is your "+labelFor(sess, name)+"?")
	}
	return questions
}

func labelFor(sess *mockSession, name string) string {
	for _, field := range sess.fields {
		if field.Name == name && field.Label != "" {
			return strings.ToLower(strings.TrimRight(field.Label, ":"))
		}
	}
	return name
}

func firstQuestion(sess *mockSession) string {
	questions := questionsFor(sess)
	return firstOf(questions, "This form has no fillable fields.")
}

func firstOf(values []string, fallback string) string {
	if len(values) > 0 {
		return values[0]
	}
	return fallback
}

func cloneValues(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
