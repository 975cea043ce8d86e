// Package statesync keeps circuit-breaker state consistent across worker
// processes. A Backend provides durable key/value state plus a pub/sub
// event channel; the Manager wires local breakers to it.
package statesync

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/flexiai/flexiai/core"
	"github.com/flexiai/flexiai/resilience"
)

// SchemaVersion is stamped on every published event. Receivers skip
// events from newer schemas instead of misinterpreting them.
const SchemaVersion = 1

// DefaultPrefix namespaces all keys and the event channel.
const DefaultPrefix = "flexiai"

// DefaultStateTTL bounds how long a state record outlives its last write.
const DefaultStateTTL = time.Hour

// StatePayload is the serialized breaker state carried by events and
// stored under `<prefix>:state:<provider>`. Enums are strings, timestamps
// epoch-millis, nulls explicit.
type StatePayload struct {
	State    string `json:"state"` // CLOSED | OPEN | HALF_OPEN
	Failures int    `json:"failures"`
	OpenedAt *int64 `json:"opened_at"`
}

// Event is one append-only breaker notification on `<prefix>:events`.
// Events are not acknowledged and carry enough state for an idempotent
// apply.
type Event struct {
	Version  int          `json:"v"`
	Kind     string       `json:"kind"` // opened | closed | half_open | failure | success
	Provider string       `json:"provider"`
	WorkerID string       `json:"worker_id"`
	TS       int64        `json:"ts"`
	Payload  StatePayload `json:"payload"`
}

// Encode serializes the event for the wire.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses a wire event.
func DecodeEvent(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("malformed sync event: %w", err)
	}
	return evt, nil
}

func encodePayload(p StatePayload) ([]byte, error) {
	return json.Marshal(p)
}

func decodePayload(data []byte, p *StatePayload) error {
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("malformed state record: %w", err)
	}
	return nil
}

// PayloadFromSnapshot converts breaker state to its wire form.
func PayloadFromSnapshot(snap resilience.Snapshot) StatePayload {
	p := StatePayload{
		State:    strings.ToUpper(snap.State.String()),
		Failures: snap.ConsecutiveFailures,
	}
	if snap.OpenedAt != nil {
		ms := snap.OpenedAt.UnixMilli()
		p.OpenedAt = &ms
	}
	return p
}

// Snapshot converts a wire payload back to breaker state.
func (p StatePayload) Snapshot() (resilience.Snapshot, error) {
	var state resilience.State
	switch strings.ToUpper(p.State) {
	case "CLOSED":
		state = resilience.StateClosed
	case "OPEN":
		state = resilience.StateOpen
	case "HALF_OPEN":
		state = resilience.StateHalfOpen
	default:
		return resilience.Snapshot{}, fmt.Errorf("unknown breaker state %q: %w",
			p.State, core.ErrInvalidConfiguration)
	}
	snap := resilience.Snapshot{
		State:               state,
		ConsecutiveFailures: p.Failures,
	}
	if p.OpenedAt != nil {
		t := time.UnixMilli(*p.OpenedAt)
		snap.OpenedAt = &t
	}
	return snap, nil
}
