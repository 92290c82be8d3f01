// Package events defines event types and payloads for the fragline event
// system.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle events
	EventSessionConnected EventType = "session_connected"
	EventSessionPrimed    EventType = "session_primed"
	EventSessionSpawned   EventType = "session_spawned"
	EventSessionDropped   EventType = "session_dropped"

	// File transfer events
	EventDownloadStarted  EventType = "download_started"
	EventDownloadFinished EventType = "download_finished"
	EventDownloadDenied   EventType = "download_denied"

	// Anti-automation events
	EventChallengeIssued   EventType = "challenge_issued"
	EventReconnectVerified EventType = "reconnect_verified"
	EventFilterMatched     EventType = "filter_matched"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// AllEventTypes lists every event type, in declaration order.
var AllEventTypes = []EventType{
	EventSessionConnected,
	EventSessionPrimed,
	EventSessionSpawned,
	EventSessionDropped,
	EventDownloadStarted,
	EventDownloadFinished,
	EventDownloadDenied,
	EventChallengeIssued,
	EventReconnectVerified,
	EventFilterMatched,
	EventConfigChanged,
	EventShutdown,
}

// DropKind classifies why a session was dropped.
type DropKind int

const (
	DropDisconnect DropKind = iota
	DropViolation
	DropCompression
	DropKicked
	DropTimeout
	DropChallenge
	DropReconnectFailed
	DropShutdown
)

// dropKindStrings maps DropKind values to their lowercase JSON string representation.
var dropKindStrings = map[DropKind]string{
	DropDisconnect:      "disconnect",
	DropViolation:       "violation",
	DropCompression:     "compression",
	DropKicked:          "kicked",
	DropTimeout:         "timeout",
	DropChallenge:       "challenge",
	DropReconnectFailed: "reconnect_failed",
	DropShutdown:        "shutdown",
}

// String returns the string representation of DropKind.
func (k DropKind) String() string {
	if str, ok := dropKindStrings[k]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes DropKind as a JSON string (e.g. "violation").
func (k DropKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType   `json:"type"`
	Source  string      `json:"source"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload"`
}

// SessionRef identifies the session an event is about.
type SessionRef struct {
	SessionID string `json:"session_id"`
	Slot      int    `json:"slot"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Dialect   string `json:"dialect"`
}

// Session returns the reference itself. Every payload embedding a
// SessionRef satisfies SessionScoped through it.
func (r SessionRef) Session() SessionRef {
	return r
}

// SessionScoped is implemented by payloads that concern one session.
type SessionScoped interface {
	Session() SessionRef
}

// SessionPayload accompanies connected, primed and spawned events.
type SessionPayload struct {
	SessionRef
	Userinfo string `json:"userinfo,omitempty"`
}

// SessionDroppedPayload is emitted once per dropped session.
type SessionDroppedPayload struct {
	SessionRef
	Kind     DropKind      `json:"kind"`
	Reason   string        `json:"reason"`
	Duration time.Duration `json:"duration"`
}

// DownloadPayload accompanies download events.
type DownloadPayload struct {
	SessionRef
	File     string `json:"file"`
	Category string `json:"category"`
	Size     int    `json:"size"`
	Offset   int    `json:"offset"`
	Reason   string `json:"reason,omitempty"`
}

// ChallengePayload accompanies challenge events.
type ChallengePayload struct {
	SessionRef
	Variable string `json:"variable"`
}

// FilterMatchedPayload is emitted when a client command hits a filter.
type FilterMatchedPayload struct {
	SessionRef
	Command string `json:"command"`
	Action  string `json:"action"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string      `json:"section"`
	Key     string      `json:"key"`
	Value   interface{} `json:"value"`
}
