package events

import (
	"slices"
	"time"

	"github.com/mbhatt1/hive-sub000/internal/types"
)

// EventType identifies the kind of event.
type EventType string

// Mission lifecycle events.
const (
	EventMissionStarted   EventType = "mission.started"
	EventMissionStatus    EventType = "mission.status"
	EventMissionCompleted EventType = "mission.completed"
	EventMissionFailed    EventType = "mission.failed"
)

// Stage events, one per workflow state entered or left.
const (
	EventStageStarted   EventType = "stage.started"
	EventStageCompleted EventType = "stage.completed"
	EventStageFailed    EventType = "stage.failed"
)

// EventNotification carries a published mission notification.
const EventNotification EventType = "notification"

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// Event is one published occurrence.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	MissionID types.ID  `json:"mission_id,omitempty"`
	// Stage is the workflow state path for stage events.
	Stage   string         `json:"stage,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`
	SpanID  string         `json:"span_id,omitempty"`
	Payload any            `json:"payload,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Filter selects events for a subscription. All set fields must match.
type Filter struct {
	Types     []EventType
	MissionID types.ID
}

// Matches reports whether event satisfies the filter.
func (f *Filter) Matches(event Event) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, event.Type) {
		return false
	}
	if !f.MissionID.IsZero() && f.MissionID != event.MissionID {
		return false
	}
	return true
}

// MissionStatusPayload accompanies EventMissionStatus.
type MissionStatusPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// StagePayload accompanies stage events.
type StagePayload struct {
	Kind     string        `json:"kind"`
	Depth    int           `json:"depth"`
	Attempt  int           `json:"attempt"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// MissionFinishedPayload accompanies EventMissionCompleted and
// EventMissionFailed.
type MissionFinishedPayload struct {
	Status        string        `json:"status"`
	FindingsCount int           `json:"findings_count"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`
}
