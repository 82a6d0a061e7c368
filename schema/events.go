package schema

import "encoding/json"

// ConnectivityEvent reports backend channel state to every context tracking an
// active session.
type ConnectivityEvent struct {
	Connected bool `json:"connected"`
}

// FillRequestEvent is a backend push asking sessions to write values into
// their pages.
type FillRequestEvent struct {
	Data map[string]string `json:"data"`
}

// FillResultEvent reports the outcome of applying a fill request to one tab.
type FillResultEvent struct {
	TabID  TabID `json:"tab_id"`
	Filled int   `json:"filled"`
}

// DetectionEvent reports a fresh detection pass for one tab.
type DetectionEvent struct {
	TabID TabID        `json:"tab_id"`
	Forms []FormSchema `json:"forms"`
}

// EventSink receives events emitted by the core service and the connection
// manager. Implementations must not block.
type EventSink interface {
	OnConnectivity(event ConnectivityEvent)
	OnFillResult(event FillResultEvent)
	OnDetection(event DetectionEvent)
}

// PushMessage is the envelope for backend channel pushes.
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// PushTypeFillRequest identifies a fill-request push.
const PushTypeFillRequest = "fill-request"
