package sync

import (
	"encoding/json"
	"time"
)

// PayloadVersion is the wire schema version stamped into every event payload.
const PayloadVersion = 1

// Event represents a single replicated action from a device.
type Event struct {
	ClientActionID  int64
	DeviceID        string
	SessionID       string
	ActionType      string
	EntityType      string
	EntityID        string
	Payload         []byte // JSON, see Payload
	ClientTimestamp time.Time
	ServerSeq       int64
}

// Payload wraps an event's row snapshots for transport. PreviousData lets a
// receiving device materialize a tombstone for a record it never saw live.
type Payload struct {
	SchemaVersion int             `json:"schema_version"`
	NewData       json.RawMessage `json:"new_data"`
	PreviousData  json.RawMessage `json:"previous_data"`
}

// PushResult is the server response to a push request.
type PushResult struct {
	Accepted int
	Acks     []Ack
	Rejected []Rejection
}

// Ack confirms a client action was accepted with a server sequence number.
type Ack struct {
	ClientActionID int64
	ServerSeq      int64
}

// Rejection explains why a client action was refused.
type Rejection struct {
	ClientActionID int64
	Reason         string
	ServerSeq      int64 // populated for "duplicate" rejections
}

// PullResult is the server response to a pull request.
type PullResult struct {
	Events        []Event
	LastServerSeq int64
	HasMore       bool
}

// ApplyResult summarises the outcome of applying a batch of remote events.
type ApplyResult struct {
	LastAppliedSeq int64
	Applied        int
	Merged         int
	Conflicts      []ConflictRecord
	Failed         []FailedEvent
}

// ConflictRecord captures a concurrent edit resolved during pull.
type ConflictRecord struct {
	EntityType string
	EntityID   string
	ServerSeq  int64
	LocalData  json.RawMessage
	RemoteData json.RawMessage
	MergedData json.RawMessage
	Resolution string
	ResolvedAt time.Time
}

// FailedEvent records a single event that could not be applied.
type FailedEvent struct {
	ServerSeq int64
	Error     error
}

// PullStats summarises one pull leg of a coordinator run.
type PullStats struct {
	Events    int
	Conflicts int
}
