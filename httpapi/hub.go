package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/formvox/internal/logx"
	"pkt.systems/formvox/schema"
)

// StreamEvent is sent to SSE clients.
type StreamEvent struct {
	Seq       uint64              `json:"seq"`
	Type      string              `json:"type"`
	TabID     schema.TabID        `json:"tab_id,omitempty"`
	Connected bool                `json:"connected,omitempty"`
	Filled    int                 `json:"filled,omitempty"`
	Forms     []schema.FormSchema `json:"forms,omitempty"`
	Snapshot  *SnapshotPayload    `json:"snapshot,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// SnapshotPayload seeds client state on connect.
type SnapshotPayload struct {
	HasSession      bool              `json:"has_session"`
	SessionID       schema.SessionID  `json:"session_id,omitempty"`
	ExtractedFields map[string]string `json:"extracted_fields,omitempty"`
	IsListening     bool              `json:"is_listening"`
}

// Hub broadcasts events per tab. Fill and detection events stay on their tab;
// connectivity changes fan out to every tab with history or subscribers.
type Hub struct {
	mu          sync.Mutex
	tabs        map[schema.TabID]*tabHub
	historySize int
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int) *Hub {
	if historySize <= 0 {
		historySize = 1000
	}
	return &Hub{
		tabs:        make(map[schema.TabID]*tabHub),
		historySize: historySize,
	}
}

// OnConnectivity implements schema.EventSink.
func (h *Hub) OnConnectivity(event schema.ConnectivityEvent) {
	h.mu.Lock()
	known := make([]schema.TabID, 0, len(h.tabs))
	for tab := range h.tabs {
		known = append(known, tab)
	}
	h.mu.Unlock()
	for _, tab := range known {
		h.publish(tab, StreamEvent{
			Type:      "connectivity",
			Connected: event.Connected,
			Timestamp: time.Now(),
		})
	}
}

// OnFillResult implements schema.EventSink.
func (h *Hub) OnFillResult(event schema.FillResultEvent) {
	logx.WithTab(context.Background(), event.TabID).Trace("hub fill event", "filled", event.Filled)
	h.publish(event.TabID, StreamEvent{
		Type:      "fill-result",
		TabID:     event.TabID,
		Filled:    event.Filled,
		Timestamp: time.Now(),
	})
}

// OnDetection implements schema.EventSink.
func (h *Hub) OnDetection(event schema.DetectionEvent) {
	logx.WithTab(context.Background(), event.TabID).Trace("hub detection event", "forms", len(event.Forms))
	h.publish(event.TabID, StreamEvent{
		Type:      "detection",
		TabID:     event.TabID,
		Forms:     event.Forms,
		Timestamp: time.Now(),
	})
}

// Subscribe registers a subscriber for a tab.
func (h *Hub) Subscribe(tabID schema.TabID) (<-chan StreamEvent, func(), uint64, []StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	th := h.getOrCreateTabHubLocked(tabID)
	ch := make(chan StreamEvent, 256)
	th.subs[ch] = struct{}{}
	history := append([]StreamEvent(nil), th.history...)
	seq := th.seq
	log := logx.WithTab(context.Background(), tabID)
	log.Info("hub subscribe", "subs", len(th.subs), "history", len(history))
	unsub := func() {
		h.mu.Lock()
		delete(th.subs, ch)
		close(ch)
		remaining := len(th.subs)
		h.mu.Unlock()
		log.Info("hub unsubscribe", "subs", remaining)
	}
	return ch, unsub, seq, history
}

func (h *Hub) publish(tabID schema.TabID, event StreamEvent) {
	h.mu.Lock()
	th := h.getOrCreateTabHubLocked(tabID)
	th.seq++
	event.Seq = th.seq
	th.history = append(th.history, event)
	if len(th.history) > h.historySize {
		th.history = th.history[len(th.history)-h.historySize:]
	}
	subs := make([]chan StreamEvent, 0, len(th.subs))
	for sub := range th.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		logx.WithTab(context.Background(), tabID).Warn("hub event dropped", "type", event.Type, "dropped", dropped)
	}
}

func (h *Hub) getOrCreateTabHubLocked(tabID schema.TabID) *tabHub {
	th := h.tabs[tabID]
	if th == nil {
		th = &tabHub{
			subs: make(map[chan StreamEvent]struct{}),
		}
		h.tabs[tabID] = th
	}
	return th
}

type tabHub struct {
	seq     uint64
	history []StreamEvent
	subs    map[chan StreamEvent]struct{}
}
