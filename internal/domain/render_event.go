package domain

import "encoding/json"

// Render event type discriminators. The payloads are opaque to the
// recorder; only these three types are ever inspected: the full
// snapshot marker (replay completeness check), plugin events (console
// log capture), and custom events (our own navigation markers).
const (
	EventTypeFullSnapshot = 2
	EventTypeCustom       = 5
	EventTypePlugin       = 6
)

// ConsolePlugin names the console-log plugin inside plugin events.
const ConsolePlugin = "console"

// RenderEvent is one timestamped unit emitted by the external DOM
// recording engine. Data is persisted and replayed verbatim.
type RenderEvent struct {
	Type      int             `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // epoch ms
}

// IsFullSnapshot reports whether the event is the distinguished full
// snapshot marker the replay side uses to validate completeness.
func (e RenderEvent) IsFullSnapshot() bool { return e.Type == EventTypeFullSnapshot }

// NavigationTrigger tags what caused a navigation marker.
type NavigationTrigger string

const (
	TriggerInitial    NavigationTrigger = "initial"
	TriggerPush       NavigationTrigger = "push"
	TriggerReplace    NavigationTrigger = "replace"
	TriggerPopState   NavigationTrigger = "popstate"
	TriggerHashChange NavigationTrigger = "hashchange"
)

// NavigationMarker is the payload of the custom render events the
// recorder injects on URL transitions.
type NavigationMarker struct {
	Tag     string            `json:"tag"`
	URL     string            `json:"url"`
	Trigger NavigationTrigger `json:"trigger"`
}

// NavigationTag is the custom-event tag carried by navigation markers.
const NavigationTag = "navigation"

// NewNavigationEvent builds the custom render event for one URL
// transition at the given epoch-ms timestamp.
func NewNavigationEvent(url string, trigger NavigationTrigger, ts int64) (RenderEvent, error) {
	data, err := json.Marshal(NavigationMarker{Tag: NavigationTag, URL: url, Trigger: trigger})
	if err != nil {
		return RenderEvent{}, err
	}
	return RenderEvent{Type: EventTypeCustom, Data: data, Timestamp: ts}, nil
}
