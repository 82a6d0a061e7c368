package formvox

import (
	"context"
	"errors"
	"testing"
	"time"

	"pkt.systems/formvox/httpapi"
	"pkt.systems/formvox/internal/assistant"
	"pkt.systems/formvox/internal/connmgr"
	"pkt.systems/formvox/internal/eventbus"
	"pkt.systems/formvox/schema"
)

type nullBackend struct{}

func (nullBackend) CreateSession(context.Context, schema.FormSchema, string) (assistant.CreateSessionResult, error) {
	return assistant.CreateSessionResult{}, errors.New("not implemented")
}

func (nullBackend) SendMessage(context.Context, schema.SessionID, string) (assistant.MessageResult, error) {
	return assistant.MessageResult{}, errors.New("not implemented")
}

func (nullBackend) DeleteSession(context.Context, schema.SessionID) (assistant.DeleteResult, error) {
	return assistant.DeleteResult{}, errors.New("not implemented")
}

func (nullBackend) Health(context.Context) (assistant.HealthResult, error) {
	return assistant.HealthResult{}, errors.New("not implemented")
}

func testConfig(t *testing.T) ServerConfig {
	t.Helper()
	return ServerConfig{
		Service: schema.ServiceConfig{StateDir: t.TempDir()},
		HTTP:    httpapi.Config{Addr: "127.0.0.1:0"},
		Conn: schema.ConnConfig{
			URL:           "ws://127.0.0.1:1/api/v1/push",
			ReconnectBase: time.Millisecond,
			ReconnectMax:  10 * time.Millisecond,
		},
		BackendBaseURL: "http://127.0.0.1:1",
	}
}

func TestNewRequiresAtLeastOneService(t *testing.T) {
	if _, err := New(testConfig(t), ServerDeps{Backend: nullBackend{}}); err == nil {
		t.Fatalf("expected error with no services enabled")
	}
}

func TestServerStartStop(t *testing.T) {
	dialErr := errors.New("refused")
	dial := func(context.Context, string) (connmgr.Conn, error) {
		return nil, dialErr
	}
	server, err := New(testConfig(t), ServerDeps{Backend: nullBackend{}, Dial: dial}, WithHTTP(), WithPush())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := server.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := server.Start(ctx); err == nil {
		t.Fatalf("expected second Start to be rejected")
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := server.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := server.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestEventBusReportsDialFailure(t *testing.T) {
	dial := func(context.Context, string) (connmgr.Conn, error) {
		return nil, errors.New("refused")
	}
	server, err := New(testConfig(t), ServerDeps{Backend: nullBackend{}, Dial: dial}, WithPush())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, unsub := server.Events().Subscribe(7)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := server.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = server.Stop(nil) }()

	select {
	case ev := <-ch:
		if ev.Type != eventbus.EventConnectivity || ev.Connectivity.Connected {
			t.Fatalf("event = %+v, want disconnected connectivity", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("dial failure never reached the event bus")
	}
}

func TestServerStopCancelsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := &compositeServer{
		conns:   connmgr.New(schema.ConnConfig{URL: "ws://127.0.0.1:1/push"}, connmgr.Events{}, nil),
		ctx:     ctx,
		cancel:  cancel,
		started: true,
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := server.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatalf("expected server context to be canceled")
	}
}
