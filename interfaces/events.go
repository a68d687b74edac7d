package interfaces

import (
	"context"
	"time"
)

// EventKind names a ledger notification.
type EventKind string

const (
	EventSubmitted                  EventKind = "Submitted"
	EventDecryptionRequested        EventKind = "DecryptionRequested"
	EventDecrypted                  EventKind = "Decrypted"
	EventCounterDecryptionRequested EventKind = "CounterDecryptionRequested"
	EventCounterDecrypted           EventKind = "CounterDecrypted"
)

// Event is an append-only notification for external observers.
// Seq is assigned by the store when the event is appended to the outbox.
type Event struct {
	Seq           uint64        `json:"seq"`
	Kind          EventKind     `json:"kind"`
	ApplicationID ApplicationID `json:"applicationId,omitempty"`
	Category      string        `json:"category,omitempty"`
	RequestID     RequestID     `json:"requestId,omitempty"`
	Count         uint64        `json:"count,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// EventSink publishes events outside the process. Publish must be safe to
// retry: the relay redelivers a batch when any part of it fails.
type EventSink interface {
	Publish(ctx context.Context, events []Event) error
	Name() string
}
