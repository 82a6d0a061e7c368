package core

import (
	"context"

	"pkt.systems/pslog"

	"pkt.systems/formvox/internal/assistant"
	"pkt.systems/formvox/internal/persist"
	"pkt.systems/formvox/schema"
)

// BackendClient is the assistant backend REST surface the service consumes.
type BackendClient interface {
	CreateSession(ctx context.Context, form schema.FormSchema, formURL string) (assistant.CreateSessionResult, error)
	SendMessage(ctx context.Context, sessionID schema.SessionID, text string) (assistant.MessageResult, error)
	DeleteSession(ctx context.Context, sessionID schema.SessionID) (assistant.DeleteResult, error)
	Health(ctx context.Context) (assistant.HealthResult, error)
}

// ConnectionManager is the push channel port. Connect is idempotent.
type ConnectionManager interface {
	Connect(ctx context.Context) error
}

// RegistryStore persists the session registry.
type RegistryStore interface {
	Load() (persist.RegistrySnapshot, bool, error)
	Save(persist.RegistrySnapshot) error
}

// ServiceDeps captures dependencies for the core service.
type ServiceDeps struct {
	Backend   BackendClient
	ConnMgr   ConnectionManager
	Store     RegistryStore
	EventSink schema.EventSink
	Logger    pslog.Logger
}
