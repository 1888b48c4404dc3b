// Package database defines the graph store port (interface).
package database

import (
	"context"

	"github.com/switchboard-hq/switchboard/internal/domain/card"
	"github.com/switchboard-hq/switchboard/internal/domain/task"
	"github.com/switchboard-hq/switchboard/internal/port/worker"
)

// Store is the port interface for the durable task/card graph store.
// Single-task mutations execute as one transaction each; cascade and
// delegation walks issue a sequence of such transactions, one per task.
type Store interface {
	// CreateTask validates the referenced parents and blocker, computes the
	// task's graph placement (root, depth, primary parent, resolved block),
	// and persists the row plus one parent edge per listed parent, all in
	// one transaction. Fails with ErrInvalidParent, ErrInvalidBlocker, or
	// ErrCrossTreeJoin without persisting anything.
	CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error)

	GetTask(ctx context.Context, id int64) (*task.Task, error)

	// GetTaskDetail fetches a task joined with its parent-edge list, its
	// children, and the pending tasks blocked on it.
	GetTaskDetail(ctx context.Context, id int64) (*task.Detail, error)

	ListTasks(ctx context.Context, f task.Filter) ([]task.Task, error)

	ListChildren(ctx context.Context, parentID int64) ([]task.Task, error)

	// ListBlockedOn returns the pending tasks whose blocked_by points at
	// blockerID, in creation order.
	ListBlockedOn(ctx context.Context, blockerID int64) ([]task.Task, error)

	// ListAncestors walks the primary-parent chain upward from id,
	// nearest first, up to maxLevels entries.
	ListAncestors(ctx context.Context, id int64, maxLevels int) ([]task.Task, error)

	// ListDescendants returns every task below rootID (the root excluded),
	// annotated with parent pointers for in-memory tree assembly.
	ListDescendants(ctx context.Context, rootID int64) ([]task.Task, error)

	// TreeStats aggregates per-root status counts plus the blocked count
	// (pending tasks with a non-null blocked_by).
	TreeStats(ctx context.Context) ([]task.TreeStats, error)

	// SaveTaskState persists the mutable lifecycle fields of a task:
	// status, output, blocked_by, started_at, completed_at, and prompt.
	// A status change against a row that has meanwhile gone terminal
	// fails with ErrTerminalState; writes that keep the status unchanged
	// are always allowed.
	SaveTaskState(ctx context.Context, t *task.Task) error

	// Reparent moves a task under a new parent and cascades the root and
	// depth delta to all its descendants in one transaction.
	Reparent(ctx context.Context, taskID int64, newParentID, newRoot int64, newDepth, depthDelta int) error

	// Cards.

	CreateCard(ctx context.Context, req card.CreateRequest) (*card.Card, error)
	GetCard(ctx context.Context, id int64) (*card.Card, error)
	ListCards(ctx context.Context) ([]card.Card, error)
	UpdateCard(ctx context.Context, id int64, req card.UpdateRequest) (*card.Card, error)
	DeleteCard(ctx context.Context, id int64) error

	AddCardLink(ctx context.Context, cardID int64, link card.Link) error
	RemoveCardLink(ctx context.Context, cardID int64, link card.Link) error

	// CardsForObject returns every card holding a link to the given object.
	CardsForObject(ctx context.Context, objectType string, objectID int64) ([]card.Card, error)

	// CardsForObjects is the bulk form used for tree rendering, keyed by
	// object id.
	CardsForObjects(ctx context.Context, objectType string, objectIDs []int64) (map[int64][]card.Card, error)

	// Workers (dynamic registry entries).

	UpsertWorker(ctx context.Context, w worker.Entry) error
	GetWorker(ctx context.Context, name string) (*worker.Entry, error)
	ListWorkers(ctx context.Context) ([]worker.Entry, error)
}
