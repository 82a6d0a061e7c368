package integration_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"pkt.systems/formvox/schema"
)

const signupPage = `<html><body>
<form id="signup" action="/register" method="post">
  <label for="name">Full name</label>
  <input id="name" name="name" type="text" required>
  <label for="email">Email address</label>
  <input id="email" name="email" type="email" required>
  <label for="phone">Phone number</label>
  <input id="phone" name="phone" type="tel">
</form>
</body></html>`

func TestBridgeConversationEndToEnd(t *testing.T) {
	requireLong(t)
	_, backend := newMockAssistant(t)
	b := newBridge(t, backend.URL)

	var page schema.UpdatePageResponse
	b.post(t, "/api/tabs/42/page", map[string]string{
		"url":  "https://x.com/signup",
		"html": signupPage,
	}, &page)
	if len(page.Forms) != 1 || len(page.Forms[0].Fields) != 3 {
		t.Fatalf("detection = %+v", page.Forms)
	}

	events, unsubscribe, _, _ := b.hub.Subscribe(42)
	defer unsubscribe()

	var started schema.StartSessionResponse
	b.post(t, "/api/tabs/42/session", map[string]any{
		"form_schema": page.Forms[0],
		"form_url":    "https://x.com/signup",
	}, &started)
	if !started.Success || started.SessionID == "" {
		t.Fatalf("start = %+v", started)
	}

	for _, answer := range []string{"Sam Smith", "sam@example.com", "555-0100"} {
		var msg schema.SendMessageResponse
		b.post(t, "/api/tabs/42/message", map[string]string{"text": answer}, &msg)
		if !msg.Success {
			t.Fatalf("message %q = %+v", answer, msg)
		}
	}

	// The completed conversation triggers a socket push that the manager
	// turns into a fill and a fill-result stream event.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != "fill-result" {
				continue
			}
			if ev.Filled != 3 {
				t.Fatalf("filled = %d, want 3", ev.Filled)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for fill-result event")
		}
		break
	}

	resp, err := http.Get(b.api.URL + "/api/tabs/42/data")
	if err != nil {
		t.Fatalf("GET data: %v", err)
	}
	var data schema.ExtractedDataResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	resp.Body.Close()
	if data.Data["name"] != "Sam Smith" || data.Data["phone"] != "555-0100" {
		t.Fatalf("data = %v", data.Data)
	}

	req, _ := http.NewRequest(http.MethodDelete, b.api.URL+"/api/tabs/42/session", nil)
	endResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE session: %v", err)
	}
	var ended schema.EndSessionResponse
	if err := json.NewDecoder(endResp.Body).Decode(&ended); err != nil {
		t.Fatalf("decode end: %v", err)
	}
	endResp.Body.Close()
	if !ended.Success || ended.FieldsCollected != 3 {
		t.Fatalf("end = %+v", ended)
	}
}

func TestBridgeHealthReflectsBackend(t *testing.T) {
	requireLong(t)
	_, backend := newMockAssistant(t)
	b := newBridge(t, backend.URL)

	resp, err := http.Get(b.api.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	var health schema.CheckBackendResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	resp.Body.Close()
	if !health.Healthy || health.Status != "ok" {
		t.Fatalf("health = %+v", health)
	}

	backend.Close()
	resp, err = http.Get(b.api.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET health after close: %v", err)
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	resp.Body.Close()
	if health.Healthy {
		t.Fatalf("backend reported healthy after shutdown")
	}
}
