package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType categorizes the kind of run event.
type EventType string

const (
	EventTypeRunStatus  EventType = "run_status"
	EventTypeNodeStatus EventType = "node_status"
	EventTypeLog        EventType = "log"
	EventTypeStreamEnd  EventType = "stream_end"
)

// Event represents a single event in a run's event stream.
type Event struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Type      EventType       `json:"type"`
	NodeName  string          `json:"node_name,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventInput is used when appending new events.
type EventInput struct {
	Type     EventType   `json:"type"`
	NodeName string      `json:"node_name,omitempty"`
	Data     interface{} `json:"data,omitempty"`
}

// RunStatusEvent is the data payload for run status change events.
type RunStatusEvent struct {
	Status RunStatus `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// NodeStatusEvent is the data payload for node status change events.
type NodeStatusEvent struct {
	Status NodeStatus `json:"status"`
	Phase  Phase      `json:"phase,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// ToSSE formats the event for Server-Sent Events protocol.
// Format: id: <id>\nevent: <type>\ndata: <json>\n\n
func (e *Event) ToSSE() []byte {
	data, _ := json.Marshal(e)
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data))
}
