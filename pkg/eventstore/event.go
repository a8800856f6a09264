// Package eventstore implements the append-only event log: per-aggregate
// optimistic concurrency, a monotonic global sequence, and ordered replay.
package eventstore

import (
	"encoding/json"
	"time"
)

// DomainEvent is an immutable record in an aggregate's event stream.
type DomainEvent struct {
	AggregateID   string          `json:"aggregateId"`
	EventType     string          `json:"eventType"`
	Version       int             `json:"version"`
	GlobalVersion int64           `json:"globalVersion"`
	SchemaVersion int             `json:"schemaVersion"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      map[string]any  `json:"metadata"`
}

// CorrelationID returns metadata["correlationId"], or "" if unset.
func (e DomainEvent) CorrelationID() string {
	if e.Metadata == nil {
		return ""
	}
	v, _ := e.Metadata["correlationId"].(string)
	return v
}

// NewEvent builds an uncommitted event for aggregateID. Version,
// GlobalVersion, and metadata.stored are assigned by the store at
// persistence time; SchemaVersion defaults to 1 if unset.
func NewEvent(aggregateID, eventType string, schemaVersion int, payload any) (DomainEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return DomainEvent{}, err
	}
	if schemaVersion == 0 {
		schemaVersion = 1
	}
	return DomainEvent{
		AggregateID:   aggregateID,
		EventType:     eventType,
		SchemaVersion: schemaVersion,
		Payload:       raw,
		Metadata:      map[string]any{},
	}, nil
}
