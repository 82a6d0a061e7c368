package core

import (
	"context"

	"pkt.systems/formvox/schema"
)

// Service is the transport-agnostic API for page tracking and session
// management across browser tabs.
type Service interface {
	UpdatePage(ctx context.Context, req schema.UpdatePageRequest) (schema.UpdatePageResponse, error)
	StartSession(ctx context.Context, req schema.StartSessionRequest) (schema.StartSessionResponse, error)
	SendMessage(ctx context.Context, req schema.SendMessageRequest) (schema.SendMessageResponse, error)
	EndSession(ctx context.Context, req schema.EndSessionRequest) (schema.EndSessionResponse, error)
	SessionStatus(ctx context.Context, req schema.SessionStatusRequest) (schema.SessionStatusResponse, error)
	ExtractedData(ctx context.Context, req schema.ExtractedDataRequest) (schema.ExtractedDataResponse, error)
	CheckBackend(ctx context.Context) (schema.CheckBackendResponse, error)
	HandleNavigation(ctx context.Context, req schema.NavigationRequest) (schema.NavigationResponse, error)
	HandleTabClosed(ctx context.Context, req schema.TabCloseRequest) (schema.TabCloseResponse, error)

	// HandleMutation queues a debounced detection rescan for the tab's
	// current document.
	HandleMutation(ctx context.Context, req schema.MutationRequest) (schema.MutationResponse, error)

	// HandleFillRequest applies a backend fill push to every tab holding a
	// live session. Wire it as the connection manager's fill callback.
	HandleFillRequest(event schema.FillRequestEvent)
}
