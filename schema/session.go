package schema

import "time"

// Session is the per-tab conversational state bound to a backend-issued
// session id. ExtractedFields accumulates values merge-only across turns; the
// detected schema itself is recomputed on every pass and never persisted.
type Session struct {
	TabID           TabID             `json:"tab_id"`
	SessionID       SessionID         `json:"session_id"`
	FormURL         string            `json:"form_url"`
	ExtractedFields map[string]string `json:"extracted_fields"`
	IsListening     bool              `json:"is_listening"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Clone returns a deep copy so callers cannot mutate the registry's entry.
func (s Session) Clone() Session {
	out := s
	out.ExtractedFields = make(map[string]string, len(s.ExtractedFields))
	for k, v := range s.ExtractedFields {
		out.ExtractedFields[k] = v
	}
	return out
}

// Merge folds newly extracted values into the session. Existing keys are
// overwritten, keys absent from values are kept.
func (s *Session) Merge(values map[string]string) {
	if s.ExtractedFields == nil {
		s.ExtractedFields = make(map[string]string, len(values))
	}
	for k, v := range values {
		s.ExtractedFields[k] = v
	}
}
