package bus

import "time"

// EventType names what happened inside the worker.
type EventType string

const (
	// EventMessageProcessed follows every message the worker handled successfully.
	EventMessageProcessed EventType = "message.processed"
	// EventMessageCanceled is published when a message was dropped or
	// interrupted because its caller went away.
	EventMessageCanceled EventType = "message.canceled"
	// EventCommandExecuted follows every command the release service accepted.
	EventCommandExecuted EventType = "command.executed"
	// EventSnapshotRefreshed follows a release snapshot that updated the
	// environment cache.
	EventSnapshotRefreshed EventType = "snapshot.refreshed"
	// EventWorkerStopped is the last event of a worker that hit a fatal error.
	EventWorkerStopped EventType = "worker.stopped"
)

// Event is one entry on the bus.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	MessageID  string `json:"messageId,omitempty"`
	Seq        uint64 `json:"seq,omitempty"`
	Kind       string `json:"kind,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`

	// Payload is the command request for EventCommandExecuted and the list
	// of refreshed environment ids for EventSnapshotRefreshed.
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}
