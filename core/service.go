package core

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/formvox/dom"
	"pkt.systems/formvox/internal/logx"
	"pkt.systems/formvox/internal/persist"
	"pkt.systems/formvox/schema"
)

// service implements the core service behavior. It is the single owner of the
// tab-to-session registry and the per-tab page engines; all mutations go
// through its mutex and every registry mutation is followed by a persist
// write, so the daemon can be killed and restarted between requests.
type service struct {
	cfg      schema.ServiceConfig
	backend  BackendClient
	conns    ConnectionManager
	sink     schema.EventSink
	store    RegistryStore
	logger   pslog.Logger
	detector *dom.Detector
	filler   *dom.Filler

	mu       sync.Mutex
	sessions map[schema.TabID]*schema.Session
	engines  map[schema.TabID]*engine
}

// NewService constructs the core service implementation.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	if deps.Backend == nil {
		return nil, errors.New("backend client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	filler := dom.NewFiller()
	if cfg.HighlightDuration > 0 {
		filler.HighlightDuration = cfg.HighlightDuration
	}
	return &service{
		cfg:      cfg,
		backend:  deps.Backend,
		conns:    deps.ConnMgr,
		sink:     deps.EventSink,
		store:    deps.Store,
		logger:   logger,
		detector: dom.NewDetector(cfg.MinFormFields),
		filler:   filler,
		sessions: make(map[schema.TabID]*schema.Session),
		engines:  make(map[schema.TabID]*engine),
	}, nil
}

func (s *service) UpdatePage(ctx context.Context, req schema.UpdatePageRequest) (schema.UpdatePageResponse, error) {
	if req.TabID == 0 {
		return schema.UpdatePageResponse{}, schema.ErrInvalidTab
	}
	log := logx.WithTab(ctx, req.TabID)
	page, err := dom.ParsePage(req.HTML, req.URL)
	if err != nil {
		log.Warn("page parse failed", "err", err)
		return schema.UpdatePageResponse{}, err
	}

	s.mu.Lock()
	s.rehydrateLocked(log)
	eng := s.engines[req.TabID]
	if eng == nil {
		eng = newEngine(s.detector, s.cfg.DebounceInterval)
		s.engines[req.TabID] = eng
		s.watchEngine(req.TabID, eng)
	}
	forms := eng.setPage(page)
	s.mu.Unlock()

	log.Debug("page updated", "url", req.URL, "forms", len(forms))
	if s.sink != nil {
		s.sink.OnDetection(schema.DetectionEvent{TabID: req.TabID, Forms: forms})
	}
	return schema.UpdatePageResponse{Forms: forms}, nil
}

func (s *service) StartSession(ctx context.Context, req schema.StartSessionRequest) (schema.StartSessionResponse, error) {
	if req.TabID == 0 {
		return schema.StartSessionResponse{}, schema.ErrInvalidTab
	}
	log := logx.WithTab(ctx, req.TabID)
	if s.conns != nil {
		// The push channel must at least be opening before a session exists;
		// a dial failure is not fatal here, reconnect keeps trying.
		if err := s.conns.Connect(ctx); err != nil {
			log.Warn("push channel connect failed", "err", err)
		}
	}

	s.mu.Lock()
	s.rehydrateLocked(log)
	var priorID schema.SessionID
	if prior := s.sessions[req.TabID]; prior != nil {
		priorID = prior.SessionID
	}
	s.mu.Unlock()

	result, err := s.backend.CreateSession(ctx, req.FormSchema, req.FormURL)
	if err != nil {
		log.Warn("session start failed", "err", err)
		return schema.StartSessionResponse{}, err
	}

	// A replaced session's remote conversation is torn down best effort so it
	// does not linger server-side.
	if priorID != "" && priorID != result.SessionID {
		if _, err := s.backend.DeleteSession(ctx, priorID); err != nil {
			logx.WithSession(log, priorID).Warn("replaced session remote delete failed", "err", err)
		}
	}

	session := &schema.Session{
		TabID:           req.TabID,
		SessionID:       result.SessionID,
		FormURL:         req.FormURL,
		ExtractedFields: make(map[string]string),
		IsListening:     true,
		CreatedAt:       time.Now().UTC(),
	}
	s.mu.Lock()
	s.sessions[req.TabID] = session
	s.mu.Unlock()
	s.persistRegistry(log)

	logx.WithSession(log, result.SessionID).Info("session started", "form", req.FormSchema.ID, "url", req.FormURL)
	return schema.StartSessionResponse{
		Success:        true,
		SessionID:      result.SessionID,
		Greeting:       result.Greeting,
		NextQuestions:  result.NextQuestions,
		RemainingCount: result.RemainingCount,
	}, nil
}

func (s *service) SendMessage(ctx context.Context, req schema.SendMessageRequest) (schema.SendMessageResponse, error) {
	if req.TabID == 0 {
		return schema.SendMessageResponse{}, schema.ErrInvalidTab
	}
	if strings.TrimSpace(req.Text) == "" {
		return schema.SendMessageResponse{}, schema.ErrEmptyMessage
	}
	log := logx.WithTab(ctx, req.TabID)

	s.mu.Lock()
	s.rehydrateLocked(log)
	session := s.sessions[req.TabID]
	if session == nil {
		known := s.knownTabsLocked()
		s.mu.Unlock()
		log.Warn("message without session", "known_tabs", len(known))
		return schema.SendMessageResponse{}, &schema.NoActiveSessionError{TabID: req.TabID, KnownTabs: known}
	}
	sessionID := session.SessionID
	s.mu.Unlock()

	result, err := s.backend.SendMessage(ctx, sessionID, req.Text)
	if err != nil {
		logx.WithSession(log, sessionID).Warn("message failed", "err", err)
		return schema.SendMessageResponse{}, err
	}

	s.mu.Lock()
	if session := s.sessions[req.TabID]; session != nil {
		session.Merge(result.ExtractedValues)
	}
	s.mu.Unlock()
	s.persistRegistry(log)

	return schema.SendMessageResponse{
		Success:           true,
		Response:          result.Response,
		ExtractedValues:   result.ExtractedValues,
		ConfidenceScores:  result.ConfidenceScores,
		NeedsConfirmation: result.NeedsConfirmation,
		RemainingCount:    result.RemainingCount,
		IsComplete:        result.IsComplete,
		NextQuestions:     result.NextQuestions,
	}, nil
}

func (s *service) EndSession(ctx context.Context, req schema.EndSessionRequest) (schema.EndSessionResponse, error) {
	if req.TabID == 0 {
		return schema.EndSessionResponse{}, schema.ErrInvalidTab
	}
	log := logx.WithTab(ctx, req.TabID)

	s.mu.Lock()
	s.rehydrateLocked(log)
	session := s.sessions[req.TabID]
	if session == nil {
		known := s.knownTabsLocked()
		s.mu.Unlock()
		return schema.EndSessionResponse{}, &schema.NoActiveSessionError{TabID: req.TabID, KnownTabs: known}
	}
	local := session.Clone()
	s.mu.Unlock()

	final := local.ExtractedFields
	// Remote deletion is best effort: local cleanup happens regardless.
	result, err := s.backend.DeleteSession(ctx, local.SessionID)
	if err != nil {
		logx.WithSession(log, local.SessionID).Warn("remote session delete failed", "err", err)
	} else if len(result.FinalData) > 0 {
		final = result.FinalData
	}

	s.mu.Lock()
	delete(s.sessions, req.TabID)
	s.mu.Unlock()
	s.persistRegistry(log)

	logx.WithSession(log, local.SessionID).Info("session ended", "fields", len(final))
	return schema.EndSessionResponse{
		Success:         true,
		FinalData:       final,
		FieldsCollected: len(final),
	}, nil
}

func (s *service) SessionStatus(ctx context.Context, req schema.SessionStatusRequest) (schema.SessionStatusResponse, error) {
	if req.TabID == 0 {
		return schema.SessionStatusResponse{}, schema.ErrInvalidTab
	}
	log := logx.WithTab(ctx, req.TabID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rehydrateLocked(log)
	session := s.sessions[req.TabID]
	if session == nil {
		return schema.SessionStatusResponse{HasSession: false}, nil
	}
	snap := session.Clone()
	return schema.SessionStatusResponse{
		HasSession:      true,
		SessionID:       snap.SessionID,
		ExtractedFields: snap.ExtractedFields,
		IsListening:     snap.IsListening,
	}, nil
}

func (s *service) ExtractedData(ctx context.Context, req schema.ExtractedDataRequest) (schema.ExtractedDataResponse, error) {
	if req.TabID == 0 {
		return schema.ExtractedDataResponse{}, schema.ErrInvalidTab
	}
	log := logx.WithTab(ctx, req.TabID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rehydrateLocked(log)
	session := s.sessions[req.TabID]
	if session == nil {
		known := s.knownTabsLocked()
		return schema.ExtractedDataResponse{}, &schema.NoActiveSessionError{TabID: req.TabID, KnownTabs: known}
	}
	return schema.ExtractedDataResponse{Success: true, Data: session.Clone().ExtractedFields}, nil
}

func (s *service) CheckBackend(ctx context.Context) (schema.CheckBackendResponse, error) {
	log := logx.Ctx(ctx)
	result, err := s.backend.Health(ctx)
	if err != nil {
		log.Warn("backend health probe failed", "err", err)
		return schema.CheckBackendResponse{Success: true, Healthy: false}, nil
	}
	return schema.CheckBackendResponse{
		Success: true,
		Healthy: true,
		Status:  result.Status,
		Version: result.Version,
	}, nil
}

func (s *service) HandleNavigation(ctx context.Context, req schema.NavigationRequest) (schema.NavigationResponse, error) {
	if req.TabID == 0 {
		return schema.NavigationResponse{}, schema.ErrInvalidTab
	}
	log := logx.WithTab(ctx, req.TabID)

	s.mu.Lock()
	s.rehydrateLocked(log)
	session := s.sessions[req.TabID]
	if session == nil {
		s.mu.Unlock()
		return schema.NavigationResponse{}, nil
	}
	formURL := session.FormURL
	s.mu.Unlock()

	if sameHost(formURL, req.URL) {
		log.Debug("navigation within host, session kept", "url", req.URL)
		return schema.NavigationResponse{SessionKept: true}, nil
	}
	log.Info("navigation left host, ending session", "from", formURL, "to", req.URL)
	if _, err := s.EndSession(ctx, schema.EndSessionRequest{TabID: req.TabID}); err != nil {
		if !errors.Is(err, schema.ErrNoActiveSession) {
			return schema.NavigationResponse{}, err
		}
	}
	return schema.NavigationResponse{SessionEnded: true}, nil
}

func (s *service) HandleTabClosed(ctx context.Context, req schema.TabCloseRequest) (schema.TabCloseResponse, error) {
	if req.TabID == 0 {
		return schema.TabCloseResponse{}, schema.ErrInvalidTab
	}
	log := logx.WithTab(ctx, req.TabID)

	s.mu.Lock()
	if eng := s.engines[req.TabID]; eng != nil && eng.stop != nil {
		eng.stop()
	}
	delete(s.engines, req.TabID)
	s.rehydrateLocked(log)
	hadSession := s.sessions[req.TabID] != nil
	s.mu.Unlock()

	if hadSession {
		if _, err := s.EndSession(ctx, schema.EndSessionRequest{TabID: req.TabID}); err != nil {
			if !errors.Is(err, schema.ErrNoActiveSession) {
				return schema.TabCloseResponse{}, err
			}
		}
	}
	log.Info("tab closed", "session_ended", hadSession)
	return schema.TabCloseResponse{SessionEnded: hadSession}, nil
}

func (s *service) HandleMutation(ctx context.Context, req schema.MutationRequest) (schema.MutationResponse, error) {
	if req.TabID == 0 {
		return schema.MutationResponse{}, schema.ErrInvalidTab
	}
	log := logx.WithTab(ctx, req.TabID)
	s.mu.Lock()
	eng := s.engines[req.TabID]
	s.mu.Unlock()
	if eng == nil {
		return schema.MutationResponse{}, schema.ErrTabNotFound
	}
	// Drop-on-full is fine: one queued signal already forces a rescan.
	select {
	case eng.signals <- struct{}{}:
	default:
	}
	log.Trace("mutation signal queued")
	return schema.MutationResponse{Accepted: true}, nil
}

// watchEngine debounces the tab's mutation signals into rescans for as long
// as the engine lives.
func (s *service) watchEngine(tab schema.TabID, eng *engine) {
	ctx, cancel := context.WithCancel(context.Background())
	eng.stop = cancel
	go eng.injector.Watch(ctx, eng.signals, func() { s.rescanTab(tab) })
}

func (s *service) rescanTab(tab schema.TabID) {
	s.mu.Lock()
	eng := s.engines[tab]
	var forms []schema.FormSchema
	if eng != nil {
		forms = eng.rescan()
	}
	s.mu.Unlock()
	if forms == nil {
		return
	}
	if s.logger != nil {
		s.logger.Debug("mutation rescan", "tab", tab, "forms", len(forms))
	}
	if s.sink != nil {
		s.sink.OnDetection(schema.DetectionEvent{TabID: tab, Forms: forms})
	}
}

func (s *service) HandleFillRequest(event schema.FillRequestEvent) {
	log := s.logger
	type outcome struct {
		tab    schema.TabID
		filled int
	}
	var outcomes []outcome

	s.mu.Lock()
	s.rehydrateLocked(log)
	for tab := range s.sessions {
		eng := s.engines[tab]
		if eng == nil {
			continue
		}
		filled := eng.fill(s.filler, event.Data)
		outcomes = append(outcomes, outcome{tab: tab, filled: filled})
	}
	s.mu.Unlock()

	for _, o := range outcomes {
		if log != nil {
			log.Debug("fill request applied", "tab", o.tab, "filled", o.filled)
		}
		if s.sink != nil {
			s.sink.OnFillResult(schema.FillResultEvent{TabID: o.tab, Filled: o.filled})
		}
	}
}

// rehydrateLocked reloads the registry from durable storage when the
// in-memory map is empty, covering a daemon restart between requests.
func (s *service) rehydrateLocked(log pslog.Logger) {
	if len(s.sessions) > 0 || s.store == nil {
		return
	}
	snapshot, ok, err := s.store.Load()
	if err != nil {
		if log != nil {
			log.Warn("registry rehydrate failed", "err", err)
		}
		return
	}
	if !ok {
		return
	}
	for tab, sess := range snapshot.SessionsByTab() {
		restored := sess
		s.sessions[tab] = &restored
	}
	if log != nil && len(s.sessions) > 0 {
		log.Info("registry rehydrated", "sessions", len(s.sessions))
	}
}

func (s *service) persistRegistry(log pslog.Logger) {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	sessions := make(map[schema.TabID]schema.Session, len(s.sessions))
	for tab, sess := range s.sessions {
		sessions[tab] = sess.Clone()
	}
	s.mu.Unlock()
	if err := s.store.Save(persist.SnapshotSessions(sessions)); err != nil {
		if log != nil {
			log.Warn("registry persist failed", "err", err)
		}
		return
	}
	if log != nil {
		log.Trace("registry persisted", "sessions", len(sessions))
	}
}

func (s *service) knownTabsLocked() []schema.TabID {
	known := make([]schema.TabID, 0, len(s.sessions))
	for tab := range s.sessions {
		known = append(known, tab)
	}
	sort.Slice(known, func(i, j int) bool { return known[i] < known[j] })
	return known
}

// sameHost reports whether two URLs share a hostname. Unparsable or hostless
// URLs on either side count as the same host: ambiguity favors keeping the
// session over tearing it down.
func sameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil || ua.Hostname() == "" {
		return true
	}
	ub, err := url.Parse(b)
	if err != nil || ub.Hostname() == "" {
		return true
	}
	return strings.EqualFold(ua.Hostname(), ub.Hostname())
}
