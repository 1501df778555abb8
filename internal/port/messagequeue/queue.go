// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// Subjects may use NATS wildcards. The returned function cancels the
	// subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// SubjectEventPrefix prefixes mirrored bus events: agent.events.<type>.
const SubjectEventPrefix = "agent.events"

// SubjectAllEvents matches every mirrored bus event.
const SubjectAllEvents = SubjectEventPrefix + ".>"

// EventSubject returns the subject for a bus event type. Characters that
// NATS treats specially are replaced.
func EventSubject(eventType string) string {
	b := []byte(eventType)
	for i, c := range b {
		switch c {
		case '.', '*', '>', ' ', ':':
			b[i] = '_'
		}
	}
	return SubjectEventPrefix + "." + string(b)
}
