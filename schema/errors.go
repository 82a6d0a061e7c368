package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidTab indicates an unparsable tab identifier.
	ErrInvalidTab = errors.New("invalid tab")
	// ErrTabNotFound indicates no page is registered for the tab.
	ErrTabNotFound = errors.New("tab not found")
	// ErrNoActiveSession indicates the tab holds no session.
	ErrNoActiveSession = errors.New("no active session")
	// ErrSessionExists indicates the tab already holds a session.
	ErrSessionExists = errors.New("session already exists")
	// ErrBackendUnavailable indicates a failed backend exchange.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrEmptyMessage indicates the user message was empty.
	ErrEmptyMessage = errors.New("empty message")
)

// NoActiveSessionError is the structured form of ErrNoActiveSession. It
// carries the offending tab and the tabs that do hold sessions so the caller
// can guide the user to restart.
type NoActiveSessionError struct {
	TabID     TabID
	KnownTabs []TabID
}

// Error implements error.
func (e *NoActiveSessionError) Error() string {
	if len(e.KnownTabs) == 0 {
		return fmt.Sprintf("no active session for tab %s (no sessions known)", e.TabID)
	}
	known := make([]string, 0, len(e.KnownTabs))
	for _, id := range e.KnownTabs {
		known = append(known, id.String())
	}
	sort.Strings(known)
	return fmt.Sprintf("no active session for tab %s (known session tabs: %s)", e.TabID, strings.Join(known, ", "))
}

// Unwrap lets errors.Is match ErrNoActiveSession.
func (e *NoActiveSessionError) Unwrap() error {
	return ErrNoActiveSession
}
