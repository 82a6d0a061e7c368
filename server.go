package formvox

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/pslog"

	"pkt.systems/formvox/core"
	"pkt.systems/formvox/httpapi"
	"pkt.systems/formvox/internal/assistant"
	"pkt.systems/formvox/internal/connmgr"
	"pkt.systems/formvox/internal/eventbus"
	"pkt.systems/formvox/internal/persist"
	"pkt.systems/formvox/internal/vault"
	"pkt.systems/formvox/schema"
)

// Server composes the local HTTP API and the backend push channel.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error

	// Events exposes the in-process event bus so embedders can observe
	// connectivity, detection, and fill outcomes without the HTTP stream.
	Events() *eventbus.Bus
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service        schema.ServiceConfig
	HTTP           httpapi.Config
	Conn           schema.ConnConfig
	BackendBaseURL string
	HubHistory     int
	VaultEnabled   bool
}

// ServerDeps captures dependencies required to build the server. Backend and
// Dial are overridable for tests; the zero value wires the real ones.
type ServerDeps struct {
	Logger    pslog.Logger
	EventSink schema.EventSink
	Backend   core.BackendClient
	Dial      connmgr.DialFunc
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableHTTP bool
	enablePush bool
}

// WithHTTP enables the local HTTP API server.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// WithPush enables the backend push channel.
func WithPush() ServerOption {
	return func(o *serverOptions) { o.enablePush = true }
}

// New constructs a composable formvox server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableHTTP && !options.enablePush {
		return nil, errors.New("no services enabled")
	}

	normalized, err := schema.NormalizeServiceConfig(cfg.Service)
	if err != nil {
		return nil, err
	}
	cfg.Service = normalized

	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	hub := httpapi.NewHub(cfg.HubHistory)
	bus := eventbus.New(logger)
	sinks := []schema.EventSink{hub, bus}
	if deps.EventSink != nil {
		sinks = append(sinks, deps.EventSink)
	}
	sink := eventFanout{sinks: sinks}

	var codec persist.Codec
	if cfg.VaultEnabled {
		v, err := vault.NewWithLogger(cfg.Service.KeyStorePath, logger)
		if err != nil {
			return nil, err
		}
		codec = v
	}
	store, err := persist.NewStoreWithOptions(cfg.Service.StateDir, codec, logger)
	if err != nil {
		return nil, err
	}

	backend := deps.Backend
	if backend == nil {
		backend = assistant.NewWithLogger(cfg.BackendBaseURL, logger)
	}

	// The manager needs the service for fill pushes and the service needs the
	// manager for connect-on-start, so the fill callback binds late.
	var service core.Service
	mgr := connmgr.NewWithDial(cfg.Conn, connmgr.Events{
		OnConnectivity: sink.OnConnectivity,
		OnFillRequest: func(event schema.FillRequestEvent) {
			if service != nil {
				service.HandleFillRequest(event)
			}
		},
	}, deps.Dial, logger)

	service, err = core.NewService(cfg.Service, core.ServiceDeps{
		Backend:   backend,
		ConnMgr:   mgr,
		Store:     store,
		EventSink: sink,
		Logger:    logger,
	})
	if err != nil {
		_ = mgr.Close()
		return nil, err
	}

	var httpSrv *httpapi.Server
	if options.enableHTTP {
		httpSrv = httpapi.NewServer(cfg.HTTP, service, hub)
	}

	return &compositeServer{
		cfg:     cfg,
		options: options,
		httpSrv: httpSrv,
		conns:   mgr,
		service: service,
		bus:     bus,
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	httpSrv *httpapi.Server
	conns   *connmgr.Manager
	service core.Service
	bus     *eventbus.Bus
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

func (s *compositeServer) Events() *eventbus.Bus {
	return s.bus
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 2)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http", s.options.enableHTTP,
		"push", s.options.enablePush,
		"http_addr", s.cfg.HTTP.Addr,
		"socket", s.cfg.Conn.URL,
	)
	if s.options.enableHTTP && s.httpSrv != nil {
		go func() {
			if err := httpapi.ListenAndServe(s.ctx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
				log.Error("http server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	if s.options.enablePush {
		go func() {
			if err := s.conns.Connect(s.ctx); err != nil {
				log.Warn("initial socket connect failed", "err", err)
			}
		}()
	}
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if s.conns != nil {
		if err := s.conns.Close(); err != nil {
			log.Warn("server socket close failed", "err", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-s.ctx.Done():
		log.Info("server stopped")
		return nil
	}
}
