package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/switchboard-hq/switchboard/internal/domain"
	"github.com/switchboard-hq/switchboard/internal/domain/task"
)

// maxAncestorWalk bounds the cycle-check walk. Chains deeper than this
// indicate a corrupt graph.
const maxAncestorWalk = 64

// reparent moves t under newParentID, preserving tree invariants: the new
// parent must exist, must not be a descendant of t, and every descendant
// of t shifts root and depth together. t is updated in place on success.
func (s *TaskService) reparent(ctx context.Context, t *task.Task, newParentID int64) error {
	if newParentID == t.ID {
		return fmt.Errorf("task %d cannot be its own parent: %w", t.ID, domain.ErrCycle)
	}

	parent, err := s.store.GetTask(ctx, newParentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("parent task %d does not exist: %w", newParentID, domain.ErrInvalidParent)
		}
		return err
	}

	ancestors, err := s.store.ListAncestors(ctx, parent.ID, maxAncestorWalk)
	if err != nil {
		return err
	}
	for _, a := range ancestors {
		if a.ID == t.ID {
			return fmt.Errorf("task %d is an ancestor of task %d: %w", t.ID, parent.ID, domain.ErrCycle)
		}
	}

	newRoot := parent.EffectiveRoot()
	newDepth := parent.Depth + 1
	depthDelta := newDepth - t.Depth

	if err := s.store.Reparent(ctx, t.ID, parent.ID, newRoot, newDepth, depthDelta); err != nil {
		return err
	}

	t.ParentTaskID = &parent.ID
	t.RootTaskID = &newRoot
	t.Depth = newDepth
	slog.Info("task reparented", "task_id", t.ID, "new_parent_id", parent.ID, "depth_delta", depthDelta)
	return nil
}
