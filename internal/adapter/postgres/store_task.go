package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/switchboard-hq/switchboard/internal/domain"
	"github.com/switchboard-hq/switchboard/internal/domain/task"
)

// maxWalkDepth bounds recursive graph walks. Acyclicity is enforced by the
// engine, not the database, so the CTEs carry their own guard.
const maxWalkDepth = 64

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateTask validates parents and blocker, computes the graph placement,
// and persists the task row plus its parent edges in one transaction.
// Structural violations never partially mutate the store.
func (s *Store) CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("create task: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	parents, err := fetchParents(ctx, tx, req.ParentIDs)
	if err != nil {
		return nil, err
	}

	var blocker *task.Task
	if req.BlockedByTaskID != nil {
		row := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, *req.BlockedByTaskID)
		b, err := scanTask(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("blocker %d: %w", *req.BlockedByTaskID, domain.ErrInvalidBlocker)
			}
			return nil, fmt.Errorf("fetch blocker %d: %w", *req.BlockedByTaskID, err)
		}
		blocker = &b
	}

	placement, err := task.PlanPlacement(parents, blocker)
	if err != nil {
		return nil, err
	}

	metadataJSON, err := metadataParam(req.Metadata)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO tasks (creator, assignee, subject, prompt, parent_task_id, root_task_id, depth,
		                    blocked_by_task_id, working_dir, project, host, session_name, on_complete,
		                    metadata, max_turns)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING `+taskColumns,
		req.Creator, req.Assignee, req.Subject, req.Prompt,
		placement.ParentTaskID, placement.RootTaskID, placement.Depth, placement.BlockedByTaskID,
		req.WorkingDir, req.Project, req.Host, req.SessionName, req.OnComplete,
		metadataJSON, req.MaxTurns)

	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	for ord, parentID := range placement.ParentIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO task_parents (task_id, parent_id, ord) VALUES ($1, $2, $3)`,
			t.ID, parentID, ord); err != nil {
			return nil, fmt.Errorf("create task %d: insert parent edge %d: %w", t.ID, parentID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("create task: commit: %w", err)
	}
	return &t, nil
}

// fetchParents loads the referenced parent rows in the caller-listed order.
// Every listed id must resolve.
func fetchParents(ctx context.Context, tx pgx.Tx, parentIDs []int64) ([]task.Task, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}

	rows, err := tx.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ANY($1)`, parentIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch parents: %w", err)
	}
	fetched, err := collectTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("fetch parents: %w", err)
	}

	byID := make(map[int64]task.Task, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	parents := make([]task.Task, 0, len(parentIDs))
	for _, id := range parentIDs {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("parent %d: %w", id, domain.ErrInvalidParent)
		}
		parents = append(parents, p)
	}
	return parents, nil
}

func (s *Store) GetTask(ctx context.Context, id int64) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get task %d", id)
	}
	return &t, nil
}

// GetTaskDetail fetches a task joined with its ordered parent-edge list,
// its children, and the pending tasks blocked on it.
func (s *Store) GetTaskDetail(ctx context.Context, id int64) (*task.Detail, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &task.Detail{Task: *t, ParentIDs: []int64{}, Children: []task.Task{}, BlockedDependents: []task.Task{}}

	rows, err := s.pool.Query(ctx, `SELECT parent_id FROM task_parents WHERE task_id = $1 ORDER BY ord`, id)
	if err != nil {
		return nil, fmt.Errorf("get task %d parents: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var pid int64
		if err := rows.Scan(&pid); err != nil {
			return nil, fmt.Errorf("get task %d parents: %w", id, err)
		}
		d.ParentIDs = append(d.ParentIDs, pid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get task %d parents: %w", id, err)
	}

	children, err := s.ListChildren(ctx, id)
	if err != nil {
		return nil, err
	}
	if children != nil {
		d.Children = children
	}

	blocked, err := s.ListBlockedOn(ctx, id)
	if err != nil {
		return nil, err
	}
	if blocked != nil {
		d.BlockedDependents = blocked
	}

	return d, nil
}

func (s *Store) ListTasks(ctx context.Context, f task.Filter) ([]task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var (
		conds []string
		args  []any
	)
	if f.Assignee != "" {
		args = append(args, f.Assignee)
		conds = append(conds, fmt.Sprintf("assignee = $%d", len(args)))
	}
	if f.Creator != "" {
		args = append(args, f.Creator)
		conds = append(conds, fmt.Sprintf("creator = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (s *Store) ListChildren(ctx context.Context, parentID int64) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE parent_task_id = $1 ORDER BY created_at, id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children of %d: %w", parentID, err)
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("list children of %d: %w", parentID, err)
	}
	return tasks, nil
}

// ListBlockedOn returns the pending tasks blocked on blockerID in creation
// order.
func (s *Store) ListBlockedOn(ctx context.Context, blockerID int64) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE blocked_by_task_id = $1 AND status = 'pending'
		 ORDER BY created_at, id`, blockerID)
	if err != nil {
		return nil, fmt.Errorf("list blocked on %d: %w", blockerID, err)
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("list blocked on %d: %w", blockerID, err)
	}
	return tasks, nil
}

// ListAncestors walks the primary-parent chain upward from id, nearest
// first, up to maxLevels entries.
func (s *Store) ListAncestors(ctx context.Context, id int64, maxLevels int) ([]task.Task, error) {
	if maxLevels <= 0 || maxLevels > maxWalkDepth {
		maxLevels = maxWalkDepth
	}
	rows, err := s.pool.Query(ctx,
		`WITH RECURSIVE chain AS (
		     SELECT `+taskColumns+`, 1 AS lvl
		     FROM tasks WHERE id = (SELECT parent_task_id FROM tasks WHERE id = $1)
		     UNION ALL
		     SELECT `+prefixedTaskColumns("t")+`, c.lvl + 1
		     FROM tasks t JOIN chain c ON t.id = c.parent_task_id
		     WHERE c.lvl < $2
		 )
		 SELECT `+taskColumns+` FROM chain ORDER BY lvl`, id, maxLevels)
	if err != nil {
		return nil, fmt.Errorf("list ancestors of %d: %w", id, err)
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("list ancestors of %d: %w", id, err)
	}
	return tasks, nil
}

// ListDescendants returns every task below rootID (the root itself
// excluded), ordered so parents precede their children.
func (s *Store) ListDescendants(ctx context.Context, rootID int64) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`WITH RECURSIVE sub AS (
		     SELECT `+taskColumns+`, 1 AS lvl FROM tasks WHERE parent_task_id = $1
		     UNION ALL
		     SELECT `+prefixedTaskColumns("t")+`, s.lvl + 1
		     FROM tasks t JOIN sub s ON t.parent_task_id = s.id
		     WHERE s.lvl < $2
		 )
		 SELECT `+taskColumns+` FROM sub ORDER BY lvl, created_at, id`, rootID, maxWalkDepth)
	if err != nil {
		return nil, fmt.Errorf("list descendants of %d: %w", rootID, err)
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("list descendants of %d: %w", rootID, err)
	}
	return tasks, nil
}

// TreeStats aggregates per-root status counts plus the blocked count.
func (s *Store) TreeStats(ctx context.Context) ([]task.TreeStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT COALESCE(root_task_id, id) AS root_id,
		        status,
		        COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'pending' AND blocked_by_task_id IS NOT NULL)
		 FROM tasks
		 GROUP BY 1, 2`)
	if err != nil {
		return nil, fmt.Errorf("tree stats: %w", err)
	}
	defer rows.Close()

	byRoot := make(map[int64]*task.TreeStats)
	for rows.Next() {
		var (
			rootID  int64
			status  string
			count   int
			blocked int
		)
		if err := rows.Scan(&rootID, &status, &count, &blocked); err != nil {
			return nil, fmt.Errorf("tree stats: %w", err)
		}
		st, ok := byRoot[rootID]
		if !ok {
			st = &task.TreeStats{RootTaskID: rootID, Counts: make(map[task.Status]int)}
			byRoot[rootID] = st
		}
		st.Counts[task.Status(status)] += count
		st.Total += count
		st.Blocked += blocked
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tree stats: %w", err)
	}

	if len(byRoot) == 0 {
		return []task.TreeStats{}, nil
	}

	ids := make([]int64, 0, len(byRoot))
	for id := range byRoot {
		ids = append(ids, id)
	}
	subjectRows, err := s.pool.Query(ctx, `SELECT id, subject FROM tasks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("tree stats subjects: %w", err)
	}
	defer subjectRows.Close()
	for subjectRows.Next() {
		var (
			id      int64
			subject string
		)
		if err := subjectRows.Scan(&id, &subject); err != nil {
			return nil, fmt.Errorf("tree stats subjects: %w", err)
		}
		byRoot[id].Subject = subject
	}
	if err := subjectRows.Err(); err != nil {
		return nil, fmt.Errorf("tree stats subjects: %w", err)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	stats := make([]task.TreeStats, 0, len(ids))
	for _, id := range ids {
		stats = append(stats, *byRoot[id])
	}
	return stats, nil
}

// SaveTaskState persists the mutable lifecycle fields of a task. The
// caller's terminal check happens on an unlocked read, so the UPDATE
// re-checks it: a status change against a row that has meanwhile gone
// terminal matches zero rows and comes back as ErrTerminalState.
// Writes that keep the status unchanged (output edits) pass regardless.
func (s *Store) SaveTaskState(ctx context.Context, t *task.Task) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks
		 SET status = $2, output = $3, prompt = $4, blocked_by_task_id = $5, started_at = $6, completed_at = $7
		 WHERE id = $1
		   AND (status = $2 OR status NOT IN ('completed', 'failed', 'killed'))`,
		t.ID, string(t.Status), t.Output, t.Prompt, t.BlockedByTaskID,
		nullTime(t.StartedAt), nullTime(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("save task %d: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		if err := s.pool.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1`, t.ID).Scan(&status); err != nil {
			return notFoundWrap(err, "save task %d", t.ID)
		}
		return fmt.Errorf("task %d is %s: %w", t.ID, status, domain.ErrTerminalState)
	}
	return nil
}

// Reparent moves a task under a new parent and shifts all its descendants
// to the new root with the given depth delta, in one transaction. The
// task's parent-edge set is replaced with the single new parent so the
// edge list can never span trees.
func (s *Store) Reparent(ctx context.Context, taskID, newParentID, newRoot int64, newDepth, depthDelta int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reparent task %d: begin: %w", taskID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE tasks SET parent_task_id = $2, root_task_id = $3, depth = $4 WHERE id = $1`,
		taskID, newParentID, newRoot, newDepth)
	if err := execExpectOne(tag, err, "reparent task %d", taskID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM task_parents WHERE task_id = $1`, taskID); err != nil {
		return fmt.Errorf("reparent task %d: clear parent edges: %w", taskID, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO task_parents (task_id, parent_id, ord) VALUES ($1, $2, 0)`,
		taskID, newParentID); err != nil {
		return fmt.Errorf("reparent task %d: insert parent edge: %w", taskID, err)
	}

	if _, err := tx.Exec(ctx,
		`WITH RECURSIVE sub AS (
		     SELECT id, 1 AS lvl FROM tasks WHERE parent_task_id = $1
		     UNION ALL
		     SELECT t.id, s.lvl + 1 FROM tasks t JOIN sub s ON t.parent_task_id = s.id
		     WHERE s.lvl < $4
		 )
		 UPDATE tasks SET root_task_id = $2, depth = depth + $3
		 WHERE id IN (SELECT id FROM sub)`,
		taskID, newRoot, depthDelta, maxWalkDepth); err != nil {
		return fmt.Errorf("reparent task %d: shift descendants: %w", taskID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reparent task %d: commit: %w", taskID, err)
	}
	return nil
}

// prefixedTaskColumns qualifies the task select list with a table alias
// for use inside joins.
func prefixedTaskColumns(alias string) string {
	return alias + `.id, ` + alias + `.creator, ` + alias + `.assignee, ` + alias + `.subject, ` +
		alias + `.prompt, ` + alias + `.status, ` + alias + `.parent_task_id, ` + alias + `.root_task_id, ` +
		alias + `.depth, ` + alias + `.blocked_by_task_id, ` + alias + `.working_dir, ` + alias + `.project, ` +
		alias + `.host, ` + alias + `.session_name, ` + alias + `.on_complete, ` + alias + `.metadata, ` +
		alias + `.max_turns, ` + alias + `.output, ` + alias + `.started_at, ` + alias + `.completed_at, ` +
		alias + `.created_at`
}
