package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/switchboard-hq/switchboard/internal/domain"
	"github.com/switchboard-hq/switchboard/internal/domain/task"
	"github.com/switchboard-hq/switchboard/internal/port/broadcast"
	"github.com/switchboard-hq/switchboard/internal/port/worker"
)

// ancestorContextLevels bounds the parent-chain summary prepended to an
// unblocked task's prompt.
const ancestorContextLevels = 3

// dispatch resolves the task's assignee and sends the prompt to the
// worker endpoint. Any failure comes back wrapped in domain.ErrDispatch.
func (s *TaskService) dispatch(ctx context.Context, t *task.Task) error {
	if t.Assignee == "" {
		return fmt.Errorf("task %d has no assignee: %w", t.ID, domain.ErrDispatch)
	}

	entry, err := s.registry.Resolve(ctx, t.Assignee)
	if err != nil {
		return fmt.Errorf("no worker registered for %q: %w", t.Assignee, domain.ErrDispatch)
	}
	if entry.Credential == "" {
		return fmt.Errorf("no credential on file for worker %q: %w", t.Assignee, domain.ErrDispatch)
	}

	workingDir := t.WorkingDir
	if workingDir == "" {
		workingDir = s.registry.WorkingDir(t.Assignee, t.Project)
	}

	return s.endpoint.Execute(ctx, entry.Endpoint, entry.Credential, worker.ExecuteRequest{
		Prompt:     t.Prompt,
		TaskID:     t.ID,
		Subject:    t.Subject,
		SenderName: s.sender,
		WorkingDir: workingDir,
		MaxTurns:   t.MaxTurns,
	})
}

// launchOrFail dispatches t and records the outcome: launched on success,
// failed with the reason in output on any dispatch error. The task is
// persisted either way; the dispatch error is returned for callers that
// need to report it. A dispatch failure is a real entry into failed, so
// it carries the full failure side effects: card sync, cascade to
// blocked dependents, and the tick hook.
func (s *TaskService) launchOrFail(ctx context.Context, t *task.Task) error {
	dispatchErr := s.dispatch(ctx, t)

	next := task.StatusLaunched
	if dispatchErr != nil {
		next = task.StatusFailed
		t.Output = fmt.Sprintf("Dispatch failed: %v", dispatchErr)
	}
	if err := t.ApplyStatus(next, s.now()); err != nil {
		return err
	}
	if err := s.store.SaveTaskState(ctx, t); err != nil {
		return err
	}

	s.events.TaskEvent(ctx, broadcast.EventTaskStatus, t)
	if dispatchErr != nil {
		s.cards.SyncTaskTerminal(ctx, t)
		s.cascadeFailure(ctx, t.ID)
		s.events.Tick(t.ID, t.Status)
	}
	return dispatchErr
}

// unblockDependents runs the delegation protocol after t completed: each
// pending task blocked on t gets a context-enriched prompt, its block
// cleared, and a dispatch attempt. Failures are isolated per dependent.
func (s *TaskService) unblockDependents(ctx context.Context, t *task.Task) {
	blocked, err := s.store.ListBlockedOn(ctx, t.ID)
	if err != nil {
		slog.Error("unblock: list dependents", "task_id", t.ID, "error", err)
		return
	}

	for i := range blocked {
		b := &blocked[i]
		b.Prompt = s.buildUnblockContext(ctx, t, b) + b.Prompt
		b.BlockedByTaskID = nil

		if err := s.launchOrFail(ctx, b); err != nil {
			slog.Warn("unblock: dependent not launched", "task_id", b.ID, "blocker_id", t.ID, "error", err)
			continue
		}
		slog.Info("dependent unblocked", "task_id", b.ID, "blocker_id", t.ID, "assignee", b.Assignee)
	}
}

// buildUnblockContext summarizes why b is being unblocked: the blocker's
// subject, status, and output, plus up to three levels of b's parent
// chain. The summary is prepended to b's prompt before dispatch.
func (s *TaskService) buildUnblockContext(ctx context.Context, blocker, b *task.Task) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[Context] This task was blocked on task #%d %q, which is now %s.\n",
		blocker.ID, blocker.Subject, blocker.Status)
	if blocker.Output != "" {
		fmt.Fprintf(&sb, "Its output:\n%s\n", blocker.Output)
	}

	ancestors, err := s.store.ListAncestors(ctx, b.ID, ancestorContextLevels)
	if err != nil {
		slog.Debug("unblock: ancestor context unavailable", "task_id", b.ID, "error", err)
	} else if len(ancestors) > 0 {
		sb.WriteString("Parent chain:\n")
		for _, a := range ancestors {
			fmt.Fprintf(&sb, "- #%d %s (%s)\n", a.ID, a.Subject, a.Status)
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

// Kill terminates a task from pending, launched, or in_progress. The
// assigned worker is notified best-effort; the task is marked killed
// regardless, with the kill actor and the worker's response (or its
// unreachability) recorded in output. Killing triggers no cascade, no
// delegation, and no tick.
func (s *TaskService) Kill(ctx context.Context, id int64, actor string) (*task.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Killable() {
		return nil, fmt.Errorf("task %d is %s, kill requires pending, launched, or in_progress: %w",
			t.ID, t.Status, domain.ErrTerminalState)
	}

	note := fmt.Sprintf("Killed by %s.", actor)
	if t.Assignee != "" {
		if entry, err := s.registry.Resolve(ctx, t.Assignee); err != nil {
			note += fmt.Sprintf(" Worker %q not resolvable: %v.", t.Assignee, err)
		} else if resp, err := s.endpoint.Kill(ctx, entry.Endpoint, entry.Credential, t.ID); err != nil {
			note += fmt.Sprintf(" Worker unreachable: %v.", err)
		} else if resp != "" {
			note += fmt.Sprintf(" Worker response: %s", resp)
		}
	}

	if t.Output != "" {
		t.Output += "\n"
	}
	t.Output += note
	if err := t.ApplyStatus(task.StatusKilled, s.now()); err != nil {
		return nil, err
	}
	if err := s.store.SaveTaskState(ctx, t); err != nil {
		return nil, err
	}

	s.cards.SyncTaskTerminal(ctx, t)
	s.events.TaskEvent(ctx, broadcast.EventTaskStatus, t)
	slog.Info("task killed", "task_id", t.ID, "actor", actor)
	return t, nil
}

// Retry creates a new child under a failed task, inheriting its prompt,
// working directory, and project, and dispatches it to the same assignee.
// The child is persisted even when dispatch fails; the dispatch error is
// returned so the caller knows the retry did not actually launch.
func (s *TaskService) Retry(ctx context.Context, id int64, actor string) (*task.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != task.StatusFailed {
		return nil, fmt.Errorf("task %d is %s, retry requires failed: %w", t.ID, t.Status, domain.ErrValidation)
	}

	children, err := s.store.ListChildren(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	n := len(children) + 1

	child, err := s.store.CreateTask(ctx, task.CreateRequest{
		Creator:     actor,
		Assignee:    t.Assignee,
		Subject:     fmt.Sprintf("Retry #%d: %s", n, t.Subject),
		Prompt:      t.Prompt,
		ParentIDs:   []int64{t.ID},
		WorkingDir:  t.WorkingDir,
		Project:     t.Project,
		Host:        t.Host,
		SessionName: t.SessionName,
		MaxTurns:    t.MaxTurns,
	})
	if err != nil {
		return nil, err
	}
	s.events.TaskEvent(ctx, broadcast.EventTaskCreated, child)

	if err := s.launchOrFail(ctx, child); err != nil {
		return child, fmt.Errorf("retry of task %d created task %d but did not launch: %w", t.ID, child.ID, err)
	}
	slog.Info("task retried", "task_id", t.ID, "child_id", child.ID, "attempt", n)
	return child, nil
}
