package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/switchboard-hq/switchboard/internal/domain"
	"github.com/switchboard-hq/switchboard/internal/domain/card"
	"github.com/switchboard-hq/switchboard/internal/domain/task"
)

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// taskColumns is the canonical select list for task rows; scanTask must
// stay in sync with it.
const taskColumns = `id, creator, assignee, subject, prompt, status, parent_task_id, root_task_id, depth,
	blocked_by_task_id, working_dir, project, host, session_name, on_complete, metadata, max_turns,
	output, started_at, completed_at, created_at`

func scanTask(row scannable) (task.Task, error) {
	var (
		t            task.Task
		status       string
		metadataJSON []byte
	)
	err := row.Scan(
		&t.ID, &t.Creator, &t.Assignee, &t.Subject, &t.Prompt, &status,
		&t.ParentTaskID, &t.RootTaskID, &t.Depth, &t.BlockedByTaskID,
		&t.WorkingDir, &t.Project, &t.Host, &t.SessionName, &t.OnComplete,
		&metadataJSON, &t.MaxTurns, &t.Output,
		&t.StartedAt, &t.CompletedAt, &t.CreatedAt,
	)
	if err != nil {
		return task.Task{}, err
	}
	t.Status = task.Status(status)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &t.Metadata); err != nil {
			return task.Task{}, fmt.Errorf("unmarshal task %d metadata: %w", t.ID, err)
		}
	}
	return t, nil
}

func collectTasks(rows pgx.Rows) ([]task.Task, error) {
	defer rows.Close()
	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// cardColumns is the canonical select list for card rows.
const cardColumns = `id, title, description, col, priority, assignee, creator, created_at, updated_at`

func scanCard(row scannable) (card.Card, error) {
	var (
		c   card.Card
		col string
	)
	err := row.Scan(&c.ID, &c.Title, &c.Description, &col, &c.Priority, &c.Assignee, &c.Creator, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return card.Card{}, err
	}
	c.Col = card.Column(col)
	c.Links = []card.Link{}
	return c, nil
}

// metadataParam marshals task metadata for a jsonb column. nil maps become
// empty objects so the column is never SQL NULL.
func metadataParam(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}

// nullTime converts a zero time to nil for nullable DB columns.
func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}

// notFoundWrap checks whether err is pgx.ErrNoRows and, if so, wraps
// domain.ErrNotFound with the given message. Otherwise it wraps the
// original error.
func notFoundWrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// execExpectOne verifies that an Exec affected exactly one row. If not
// (and err is nil), it returns domain.ErrNotFound with the given message.
func execExpectOne(tag pgconn.CommandTag, err error, format string, args ...any) error {
	if err != nil {
		return fmt.Errorf(fmt.Sprintf(format, args...)+": %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf(fmt.Sprintf(format, args...)+": %w", domain.ErrNotFound)
	}
	return nil
}
