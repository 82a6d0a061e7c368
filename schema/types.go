package schema

import (
	"fmt"
	"strconv"
)

// TabID identifies the browser tab that owns a page and, at most, one session.
// Tab identifiers are numeric on the wire but serialize as string keys in the
// persisted registry.
type TabID int64

// String renders the tab id in its persisted string form.
func (id TabID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseTabID parses the string form of a tab id.
func ParseTabID(raw string) (TabID, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: tab id %q", ErrInvalidTab, raw)
	}
	return TabID(n), nil
}

// SessionID identifies a backend-issued conversation session. It is immutable
// once assigned to a Session.
type SessionID string
