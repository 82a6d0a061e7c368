package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"

	"pkt.systems/formvox/schema"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventConnectivity carries backend socket up/down transitions.
	EventConnectivity EventType = "connectivity"
	// EventFillResult carries the outcome of a fill pass on a tab.
	EventFillResult EventType = "fill-result"
	// EventDetection carries a tab's refreshed form schemas.
	EventDetection EventType = "detection"
)

// Event represents a tab-facing event emitted by the core service.
type Event struct {
	Type         EventType
	Connectivity schema.ConnectivityEvent
	FillResult   schema.FillResultEvent
	Detection    schema.DetectionEvent
}

// Bus fanouts events to per-tab subscribers. Connectivity transitions are
// broadcast to every tab; fill and detection events go to their own tab only.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.TabID]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.TabID]map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the tab and returns a channel + cancel.
func (b *Bus) Subscribe(tab schema.TabID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	tabSubs := b.subs[tab]
	if tabSubs == nil {
		tabSubs = make(map[chan Event]struct{})
		b.subs[tab] = tabSubs
	}
	tabSubs[ch] = struct{}{}
	count := len(tabSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("tab", tab).Debug("eventbus subscribe", "subs", count)
	}
	return ch, func() {
		b.mu.Lock()
		if subs := b.subs[tab]; subs != nil {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(b.subs, tab)
			}
		}
		b.mu.Unlock()
		close(ch)
		if b.log != nil {
			b.log.With("tab", tab).Debug("eventbus unsubscribe")
		}
	}
}

// OnConnectivity broadcasts a connectivity transition to every tab.
func (b *Bus) OnConnectivity(event schema.ConnectivityEvent) {
	if b == nil {
		return
	}
	b.mu.Lock()
	tabs := make([]schema.TabID, 0, len(b.subs))
	for tab := range b.subs {
		tabs = append(tabs, tab)
	}
	b.mu.Unlock()
	for _, tab := range tabs {
		b.publish(tab, Event{Type: EventConnectivity, Connectivity: event})
	}
}

// OnFillResult publishes a fill outcome to its tab.
func (b *Bus) OnFillResult(event schema.FillResultEvent) {
	b.publish(event.TabID, Event{Type: EventFillResult, FillResult: event})
}

// OnDetection publishes refreshed schemas to their tab.
func (b *Bus) OnDetection(event schema.DetectionEvent) {
	b.publish(event.TabID, Event{Type: EventDetection, Detection: event})
}

func (b *Bus) publish(tab schema.TabID, event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	tabSubs := b.subs[tab]
	subs := make([]chan Event, 0, len(tabSubs))
	for sub := range tabSubs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 && b.log != nil {
		b.log.With("tab", tab).Trace("eventbus dropped", "count", dropped)
	}
}
