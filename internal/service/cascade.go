package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/switchboard-hq/switchboard/internal/domain/task"
	"github.com/switchboard-hq/switchboard/internal/port/broadcast"
)

// cascadeFailure fails every pending task transitively blocked on
// failedID. The walk is iterative with a visited set; each dependent is
// failed in its own store transaction, so a crash mid-cascade leaves a
// safely re-triggerable partial state. Tasks already past pending are
// left untouched.
func (s *TaskService) cascadeFailure(ctx context.Context, failedID int64) {
	queue := []int64{failedID}
	visited := map[int64]struct{}{failedID: {}}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		blocked, err := s.store.ListBlockedOn(ctx, id)
		if err != nil {
			slog.Error("cascade: list dependents", "task_id", id, "error", err)
			continue
		}

		for i := range blocked {
			b := &blocked[i]
			if _, ok := visited[b.ID]; ok {
				continue
			}
			visited[b.ID] = struct{}{}

			b.BlockedByTaskID = nil
			b.Output = fmt.Sprintf("Upstream task #%d failed", id)
			if err := b.ApplyStatus(task.StatusFailed, s.now()); err != nil {
				slog.Error("cascade: fail dependent", "task_id", b.ID, "error", err)
				continue
			}
			if err := s.store.SaveTaskState(ctx, b); err != nil {
				slog.Error("cascade: save dependent", "task_id", b.ID, "error", err)
				continue
			}

			s.cards.SyncTaskTerminal(ctx, b)
			s.events.TaskEvent(ctx, broadcast.EventTaskStatus, b)
			s.events.Tick(b.ID, b.Status)
			slog.Info("task failed by cascade", "task_id", b.ID, "upstream_id", id)

			queue = append(queue, b.ID)
		}
	}
}
