package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/switchboard-hq/switchboard/internal/domain/task"
	"github.com/switchboard-hq/switchboard/internal/port/broadcast"
	"github.com/switchboard-hq/switchboard/internal/port/messagequeue"
)

// envelope is the wire shape shared by the live feed and the NATS event
// stream.
type envelope struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// Events fans domain events out to the WebSocket hub and the JetStream
// event subjects, and fires the conductor tick hook. Every path here is
// best-effort: failures are logged, never returned.
type Events struct {
	hub   broadcast.Broadcaster
	queue messagequeue.Queue
}

// NewEvents creates an event fan-out. Both hub and queue may be nil, which
// turns the corresponding path into a no-op.
func NewEvents(hub broadcast.Broadcaster, queue messagequeue.Queue) *Events {
	return &Events{hub: hub, queue: queue}
}

// TaskEvent publishes a task lifecycle event.
func (e *Events) TaskEvent(ctx context.Context, eventType string, payload any) {
	e.emit(ctx, messagequeue.SubjectTaskEvents, eventType, payload)
}

// CardEvent publishes a card mutation event.
func (e *Events) CardEvent(ctx context.Context, eventType string, payload any) {
	e.emit(ctx, messagequeue.SubjectCardEvents, eventType, payload)
}

func (e *Events) emit(ctx context.Context, subject, eventType string, payload any) {
	env := envelope{
		ID:      uuid.NewString(),
		Type:    eventType,
		At:      time.Now().UTC(),
		Payload: payload,
	}

	if e.hub != nil {
		e.hub.BroadcastEvent(ctx, eventType, env)
	}

	if e.queue == nil {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("marshal event", "type", eventType, "error", err)
		return
	}
	if err := e.queue.Publish(ctx, subject, data); err != nil {
		slog.Error("publish event", "subject", subject, "type", eventType, "error", err)
	}
}

// Tick fires the out-of-process conductor trigger for a task that reached
// completed or failed. It runs detached so it can never block or fail the
// triggering request.
func (e *Events) Tick(taskID int64, status task.Status) {
	if e.queue == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		data, err := json.Marshal(map[string]any{
			"task_id": taskID,
			"status":  status,
			"at":      time.Now().UTC(),
		})
		if err != nil {
			slog.Error("marshal tick", "task_id", taskID, "error", err)
			return
		}
		if err := e.queue.Publish(ctx, messagequeue.SubjectConductorTick, data); err != nil {
			slog.Error("conductor tick failed", "task_id", taskID, "error", err)
		}
	}()
}
