package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
)

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

func TestWithTabSessionAddsFields(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture)
	ctx := pslog.ContextWithLogger(context.Background(), logger)
	log := WithTabSession(ctx, 7, "sess-1")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["tab"] != float64(7) {
		t.Fatalf("expected tab field, got %+v", entry)
	}
	if entry["session"] != "sess-1" {
		t.Fatalf("expected session field, got %+v", entry)
	}
}

func TestWithTabSkipsDuplicateMarker(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture).With("tab", 7)
	ctx := ContextWithTabLogger(context.Background(), logger, 7)
	WithTab(ctx, 7).Info("hello")

	data := capture.buf.Bytes()
	if bytes.Count(data, []byte(`"tab"`)) != 1 {
		t.Fatalf("tab field duplicated: %s", data)
	}
}

func TestWithSessionIgnoresEmpty(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture)
	WithSession(logger, "").Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["session"]; ok {
		t.Fatalf("did not expect session field, got %+v", entry)
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
