package schema

// Session lifecycle.

// StartSessionRequest asks for a new conversation session bound to a tab.
type StartSessionRequest struct {
	TabID      TabID      `json:"tab_id"`
	FormSchema FormSchema `json:"form_schema"`
	FormURL    string     `json:"form_url"`
}

// StartSessionResponse reports the created session and the opening turn.
type StartSessionResponse struct {
	Success        bool      `json:"success"`
	SessionID      SessionID `json:"session_id"`
	Greeting       string    `json:"greeting,omitempty"`
	NextQuestions  []string  `json:"next_questions,omitempty"`
	RemainingCount int       `json:"remaining_count"`
}

// SendMessageRequest posts one user turn to the tab's session.
type SendMessageRequest struct {
	TabID TabID  `json:"tab_id"`
	Text  string `json:"text"`
}

// SendMessageResponse reports the assistant turn and extraction progress.
type SendMessageResponse struct {
	Success           bool               `json:"success"`
	Response          string             `json:"response,omitempty"`
	ExtractedValues   map[string]string  `json:"extracted_values,omitempty"`
	ConfidenceScores  map[string]float64 `json:"confidence_scores,omitempty"`
	NeedsConfirmation bool               `json:"needs_confirmation"`
	RemainingCount    int                `json:"remaining_count"`
	IsComplete        bool               `json:"is_complete"`
	NextQuestions     []string           `json:"next_questions,omitempty"`
}

// EndSessionRequest ends the tab's session.
type EndSessionRequest struct {
	TabID TabID `json:"tab_id"`
}

// EndSessionResponse reports the collected data at teardown.
type EndSessionResponse struct {
	Success         bool              `json:"success"`
	FinalData       map[string]string `json:"final_data,omitempty"`
	FieldsCollected int               `json:"fields_collected"`
}

// Reads.

// SessionStatusRequest asks whether a tab holds a session.
type SessionStatusRequest struct {
	TabID TabID `json:"tab_id"`
}

// SessionStatusResponse reports the tab's session state.
type SessionStatusResponse struct {
	HasSession      bool              `json:"has_session"`
	SessionID       SessionID         `json:"session_id,omitempty"`
	ExtractedFields map[string]string `json:"extracted_fields,omitempty"`
	IsListening     bool              `json:"is_listening"`
}

// ExtractedDataRequest asks for the values collected so far.
type ExtractedDataRequest struct {
	TabID TabID `json:"tab_id"`
}

// ExtractedDataResponse reports the collected values.
type ExtractedDataResponse struct {
	Success bool              `json:"success"`
	Data    map[string]string `json:"data,omitempty"`
}

// Backend health.

// CheckBackendResponse reports the backend health probe result.
type CheckBackendResponse struct {
	Success bool   `json:"success"`
	Healthy bool   `json:"healthy"`
	Status  string `json:"status,omitempty"`
	Version string `json:"version,omitempty"`
}

// Page updates.

// UpdatePageRequest carries a tab's current document for detection.
type UpdatePageRequest struct {
	TabID TabID  `json:"tab_id"`
	URL   string `json:"url"`
	HTML  string `json:"html"`
}

// UpdatePageResponse reports the detection result for the page.
type UpdatePageResponse struct {
	Forms []FormSchema `json:"forms"`
}

// Navigation and tab lifecycle.

// NavigationRequest reports a tab navigating to a new URL.
type NavigationRequest struct {
	TabID TabID  `json:"tab_id"`
	URL   string `json:"url"`
}

// NavigationResponse reports whether the session survived the navigation.
type NavigationResponse struct {
	SessionKept  bool `json:"session_kept"`
	SessionEnded bool `json:"session_ended"`
}

// MutationRequest signals that a tab's document changed without a full
// snapshot repost. Bursts collapse into one debounced rescan.
type MutationRequest struct {
	TabID TabID `json:"tab_id"`
}

// MutationResponse acknowledges a queued mutation signal.
type MutationResponse struct {
	Accepted bool `json:"accepted"`
}

// TabCloseRequest reports a tab going away.
type TabCloseRequest struct {
	TabID TabID `json:"tab_id"`
}

// TabCloseResponse reports the cleanup outcome.
type TabCloseResponse struct {
	SessionEnded bool `json:"session_ended"`
}
