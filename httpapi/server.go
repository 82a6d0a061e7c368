package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/formvox/core"
	"pkt.systems/formvox/internal/logx"
	"pkt.systems/formvox/schema"
)

// Server serves the local HTTP API that browser tabs talk to.
type Server struct {
	cfg     Config
	service core.Service
	hub     *Hub
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, service core.Service, hub *Hub) *Server {
	return &Server{
		cfg:     cfg,
		service: service,
		hub:     hub,
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/config", s.handleConfig)
	mux.HandleFunc("POST /api/tabs/{tab}/page", s.withTab(s.handlePage))
	mux.HandleFunc("POST /api/tabs/{tab}/session", s.withTab(s.handleStartSession))
	mux.HandleFunc("GET /api/tabs/{tab}/session", s.withTab(s.handleSessionStatus))
	mux.HandleFunc("DELETE /api/tabs/{tab}/session", s.withTab(s.handleEndSession))
	mux.HandleFunc("POST /api/tabs/{tab}/message", s.withTab(s.handleMessage))
	mux.HandleFunc("GET /api/tabs/{tab}/data", s.withTab(s.handleExtractedData))
	mux.HandleFunc("POST /api/tabs/{tab}/navigation", s.withTab(s.handleNavigation))
	mux.HandleFunc("POST /api/tabs/{tab}/mutations", s.withTab(s.handleMutation))
	mux.HandleFunc("DELETE /api/tabs/{tab}", s.withTab(s.handleTabClosed))
	mux.HandleFunc("GET /api/tabs/{tab}/events", s.withTab(s.handleStream))
	return withRequestLogging(mux)
}

type tabHandler func(http.ResponseWriter, *http.Request, schema.TabID)

// withTab parses the tab path segment and stamps it onto the request logger.
func (s *Server) withTab(next tabHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.PathValue("tab")
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			writeServiceError(w, fmt.Errorf("%w: %q", schema.ErrInvalidTab, raw))
			return
		}
		tabID := schema.TabID(parsed)
		ctx := logx.ContextWithTabLogger(r.Context(), logx.WithTab(r.Context(), tabID), tabID)
		next(w, r.WithContext(ctx), tabID)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.CheckBackend(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"min_form_fields": s.cfg.MinFormFields,
		"debounce_ms":     s.cfg.DebounceMs,
		"highlight_ms":    s.cfg.HighlightMs,
	})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request, tabID schema.TabID) {
	log := logx.Ctx(r.Context())
	var payload struct {
		URL  string `json:"url"`
		HTML string `json:"html"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http page decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.UpdatePage(r.Context(), schema.UpdatePageRequest{
		TabID: tabID,
		URL:   payload.URL,
		HTML:  payload.HTML,
	})
	if err != nil {
		log.Warn("http page update failed", "err", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Debug("http page update ok", "forms", len(resp.Forms))
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request, tabID schema.TabID) {
	log := logx.Ctx(r.Context())
	var payload struct {
		FormSchema schema.FormSchema `json:"form_schema"`
		FormURL    string            `json:"form_url"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http session decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.StartSession(r.Context(), schema.StartSessionRequest{
		TabID:      tabID,
		FormSchema: payload.FormSchema,
		FormURL:    payload.FormURL,
	})
	if err != nil {
		log.Warn("http session start failed", "err", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http session start ok", "session", resp.SessionID)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request, tabID schema.TabID) {
	resp, err := s.service.SessionStatus(r.Context(), schema.SessionStatusRequest{TabID: tabID})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request, tabID schema.TabID) {
	log := logx.Ctx(r.Context())
	resp, err := s.service.EndSession(r.Context(), schema.EndSessionRequest{TabID: tabID})
	if err != nil {
		log.Warn("http session end failed", "err", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http session end ok", "fields", resp.FieldsCollected)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request, tabID schema.TabID) {
	log := logx.Ctx(r.Context())
	var payload struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http message decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.SendMessage(r.Context(), schema.SendMessageRequest{
		TabID: tabID,
		Text:  payload.Text,
	})
	if err != nil {
		log.Warn("http message failed", "err", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http message ok", "remaining", resp.RemainingCount, "complete", resp.IsComplete)
}

func (s *Server) handleExtractedData(w http.ResponseWriter, r *http.Request, tabID schema.TabID) {
	resp, err := s.service.ExtractedData(r.Context(), schema.ExtractedDataRequest{TabID: tabID})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNavigation(w http.ResponseWriter, r *http.Request, tabID schema.TabID) {
	log := logx.Ctx(r.Context())
	var payload struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http navigation decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.HandleNavigation(r.Context(), schema.NavigationRequest{
		TabID: tabID,
		URL:   payload.URL,
	})
	if err != nil {
		log.Warn("http navigation failed", "err", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Debug("http navigation ok", "kept", resp.SessionKept, "ended", resp.SessionEnded)
}

func (s *Server) handleMutation(w http.ResponseWriter, r *http.Request, tabID schema.TabID) {
	resp, err := s.service.HandleMutation(r.Context(), schema.MutationRequest{TabID: tabID})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleTabClosed(w http.ResponseWriter, r *http.Request, tabID schema.TabID) {
	log := logx.Ctx(r.Context())
	resp, err := s.service.HandleTabClosed(r.Context(), schema.TabCloseRequest{TabID: tabID})
	if err != nil {
		log.Warn("http tab close failed", "err", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http tab close ok", "session_ended", resp.SessionEnded)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, tabID schema.TabID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := logx.Ctx(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))

	// Subscribing before the snapshot write means events published while the
	// handshake runs land in the channel buffer instead of being lost.
	ch, unsubscribe, _, history := s.hub.Subscribe(tabID)
	defer unsubscribe()

	snapshot := s.buildSnapshot(r, tabID)
	_ = writeSSEvent(w, StreamEvent{
		Type:      "snapshot",
		TabID:     tabID,
		Snapshot:  &snapshot,
		Timestamp: time.Now(),
	})
	flusher.Flush()

	replayCount := 0
	if lastID > 0 {
		for _, event := range history {
			if event.Seq > lastID {
				_ = writeSSEvent(w, event)
				replayCount++
			}
		}
		flusher.Flush()
	}

	notify := r.Context().Done()
	log.Info("http stream opened", "last_id", lastID, "replay", replayCount)
	for {
		select {
		case <-notify:
			log.Info("http stream closed")
			return
		case event := <-ch:
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) buildSnapshot(r *http.Request, tabID schema.TabID) SnapshotPayload {
	status, err := s.service.SessionStatus(r.Context(), schema.SessionStatusRequest{TabID: tabID})
	if err != nil {
		return SnapshotPayload{}
	}
	return SnapshotPayload{
		HasSession:      status.HasSession,
		SessionID:       status.SessionID,
		ExtractedFields: status.ExtractedFields,
		IsListening:     status.IsListening,
	}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

// writeServiceError maps service errors onto HTTP statuses. A missing session
// carries the registry's known tabs so a confused client can resync.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, schema.ErrNoActiveSession), errors.Is(err, schema.ErrTabNotFound):
		status = http.StatusNotFound
	case errors.Is(err, schema.ErrInvalidTab), errors.Is(err, schema.ErrInvalidRequest), errors.Is(err, schema.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, schema.ErrBackendUnavailable):
		status = http.StatusBadGateway
	}
	payload := map[string]any{"success": false, "error": err.Error()}
	var noSession *schema.NoActiveSessionError
	if errors.As(err, &noSession) {
		payload["known_tabs"] = noSession.KnownTabs
	}
	writeJSON(w, status, payload)
}

func writeSSEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
