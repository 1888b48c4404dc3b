// Package broadcast defines the port for pushing real-time events to
// connected board clients.
package broadcast

import "context"

// Event type constants shared by the live feed and the NATS event stream.
const (
	EventTaskCreated = "task.created"
	EventTaskStatus  = "task.status"
	EventTaskMoved   = "task.moved"
	EventCardCreated = "card.created"
	EventCardUpdated = "card.updated"
	EventCardDeleted = "card.deleted"
)

// Broadcaster sends a typed event to every connected client. Delivery is
// best-effort; failures never surface to the triggering operation.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
