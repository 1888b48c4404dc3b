package service

import (
	"context"
	"fmt"
	"time"

	"github.com/switchboard-hq/switchboard/internal/domain"
	"github.com/switchboard-hq/switchboard/internal/domain/card"
	"github.com/switchboard-hq/switchboard/internal/domain/task"
	"github.com/switchboard-hq/switchboard/internal/port/broadcast"
	"github.com/switchboard-hq/switchboard/internal/port/database"
	"github.com/switchboard-hq/switchboard/internal/port/worker"
)

// TaskService owns the task graph: creation with placement, lifecycle
// transitions and their side effects, reparenting, kill/retry, and tree
// assembly.
type TaskService struct {
	store    database.Store
	registry worker.Registry
	endpoint worker.Endpoint
	cards    *CardService
	events   *Events
	sender   string
	now      func() time.Time
}

// NewTaskService creates a new TaskService. sender is the name presented
// to workers as the dispatch originator.
func NewTaskService(store database.Store, registry worker.Registry, endpoint worker.Endpoint,
	cards *CardService, events *Events, sender string) *TaskService {
	return &TaskService{
		store:    store,
		registry: registry,
		endpoint: endpoint,
		cards:    cards,
		events:   events,
		sender:   sender,
		now:      time.Now,
	}
}

// Create validates and persists a new task. Placement (root, depth,
// primary parent, block resolution) happens inside the store transaction.
// Creation never dispatches; dispatch happens on unblock or retry.
func (s *TaskService) Create(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if req.Subject == "" {
		return nil, fmt.Errorf("task subject is required: %w", domain.ErrValidation)
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("task prompt is required: %w", domain.ErrValidation)
	}
	if req.Creator == "" {
		return nil, fmt.Errorf("task creator is required: %w", domain.ErrValidation)
	}

	t, err := s.store.CreateTask(ctx, req)
	if err != nil {
		return nil, err
	}

	s.events.TaskEvent(ctx, broadcast.EventTaskCreated, t)
	return t, nil
}

// Get returns a task by id.
func (s *TaskService) Get(ctx context.Context, id int64) (*task.Task, error) {
	return s.store.GetTask(ctx, id)
}

// TaskDetail is a task joined with its graph neighborhood and the cards
// linking to it.
type TaskDetail struct {
	*task.Detail
	Cards []card.Card `json:"cards"`
}

// Detail returns a task with its parent set, children, blocked
// dependents, and reverse card links.
func (s *TaskService) Detail(ctx context.Context, id int64) (*TaskDetail, error) {
	d, err := s.store.GetTaskDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	cards, err := s.store.CardsForObject(ctx, card.ObjectTypeTask, id)
	if err != nil {
		return nil, err
	}
	if cards == nil {
		cards = []card.Card{}
	}
	return &TaskDetail{Detail: d, Cards: cards}, nil
}

// List returns tasks matching the filter.
func (s *TaskService) List(ctx context.Context, f task.Filter) ([]task.Task, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", f.Status, domain.ErrValidation)
	}
	return s.store.ListTasks(ctx, f)
}

// Update applies a partial update: an optional reparent, an optional
// output write, and an optional status transition with its side effects.
// Output writes remain permitted on terminal tasks; status changes do not.
func (s *TaskService) Update(ctx context.Context, id int64, req task.UpdateRequest) (*task.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	// A rejected status change must not leave a partially applied update,
	// so the transition is vetted before the reparent persists anything.
	if req.Status != nil {
		if !req.Status.Valid() {
			return nil, fmt.Errorf("status %q: %w", *req.Status, domain.ErrValidation)
		}
		if t.Status.Terminal() {
			return nil, fmt.Errorf("task %d is %s: %w", t.ID, t.Status, domain.ErrTerminalState)
		}
	}

	if req.ParentTaskID != nil {
		if err := s.reparent(ctx, t, *req.ParentTaskID); err != nil {
			return nil, err
		}
		s.events.TaskEvent(ctx, broadcast.EventTaskMoved, t)
	}

	if req.Output != nil {
		t.Output = *req.Output
	}

	statusChanged := false
	if req.Status != nil {
		if err := t.ApplyStatus(*req.Status, s.now()); err != nil {
			return nil, err
		}
		statusChanged = true
	}

	if req.Output != nil || statusChanged {
		if err := s.store.SaveTaskState(ctx, t); err != nil {
			return nil, err
		}
	}

	if statusChanged {
		s.runStatusSideEffects(ctx, t)
		s.events.TaskEvent(ctx, broadcast.EventTaskStatus, t)
	}
	return t, nil
}

// runStatusSideEffects fires the per-transition side effects after the
// row has been persisted. None of these can fail the caller's request.
func (s *TaskService) runStatusSideEffects(ctx context.Context, t *task.Task) {
	switch t.Status {
	case task.StatusInProgress:
		s.cards.SyncTaskActive(ctx, t)
	case task.StatusCompleted:
		s.cards.SyncTaskTerminal(ctx, t)
		s.unblockDependents(ctx, t)
		s.events.Tick(t.ID, t.Status)
	case task.StatusFailed:
		s.cards.SyncTaskTerminal(ctx, t)
		s.cascadeFailure(ctx, t.ID)
		s.events.Tick(t.ID, t.Status)
	case task.StatusKilled:
		s.cards.SyncTaskTerminal(ctx, t)
	}
}

// Tree returns the assembled tree below rootID plus the cards linked to
// any task in it, keyed by task id.
func (s *TaskService) Tree(ctx context.Context, rootID int64) (*task.Node, map[int64][]card.Card, error) {
	root, err := s.store.GetTask(ctx, rootID)
	if err != nil {
		return nil, nil, err
	}

	descendants, err := s.store.ListDescendants(ctx, rootID)
	if err != nil {
		return nil, nil, err
	}

	all := make([]task.Task, 0, len(descendants)+1)
	all = append(all, *root)
	all = append(all, descendants...)

	ids := make([]int64, len(all))
	for i := range all {
		ids[i] = all[i].ID
	}
	cards, err := s.store.CardsForObjects(ctx, card.ObjectTypeTask, ids)
	if err != nil {
		return nil, nil, err
	}

	return task.BuildTree(rootID, all), cards, nil
}

// ListTrees returns per-root aggregate statistics.
func (s *TaskService) ListTrees(ctx context.Context) ([]task.TreeStats, error) {
	return s.store.TreeStats(ctx)
}
