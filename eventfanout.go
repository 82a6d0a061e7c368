package formvox

import (
	"pkt.systems/formvox/schema"
)

type eventFanout struct {
	sinks []schema.EventSink
}

func (f eventFanout) OnConnectivity(event schema.ConnectivityEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnConnectivity(event)
	}
}

func (f eventFanout) OnFillResult(event schema.FillResultEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnFillResult(event)
	}
}

func (f eventFanout) OnDetection(event schema.DetectionEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnDetection(event)
	}
}
