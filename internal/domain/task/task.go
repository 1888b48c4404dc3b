// Package task defines the Task entity, its lifecycle state machine, and
// the graph-placement rules for the dependency tree.
package task

import (
	"fmt"
	"time"

	"github.com/switchboard-hq/switchboard/internal/domain"
)

// Status represents the lifecycle state of a task. The set is closed:
// values outside the six named states are rejected at the boundary.
type Status string

const (
	StatusPending    Status = "pending"
	StatusLaunched   Status = "launched"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusKilled     Status = "killed"
)

// Valid reports whether s is one of the six named states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusLaunched, StatusInProgress, StatusCompleted, StatusFailed, StatusKilled:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal state. Once a task is terminal
// its status can never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusKilled:
		return true
	}
	return false
}

// Task is a unit of delegated work. ParentTaskID is the primary parent;
// the complete parent set (multi-parent joins) lives in the parent-edge
// list. RootTaskID is nil for a task that is its own root.
type Task struct {
	ID              int64          `json:"id"`
	Creator         string         `json:"creator"`
	Assignee        string         `json:"assignee,omitempty"`
	Subject         string         `json:"subject"`
	Prompt          string         `json:"prompt"`
	Status          Status         `json:"status"`
	ParentTaskID    *int64         `json:"parent_task_id,omitempty"`
	RootTaskID      *int64         `json:"root_task_id,omitempty"`
	Depth           int            `json:"depth"`
	BlockedByTaskID *int64         `json:"blocked_by_task_id,omitempty"`
	WorkingDir      string         `json:"working_dir,omitempty"`
	Project         string         `json:"project,omitempty"`
	Host            string         `json:"host,omitempty"`
	SessionName     string         `json:"session_name,omitempty"`
	OnComplete      string         `json:"on_complete,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	MaxTurns        *int           `json:"max_turns,omitempty"`
	Output          string         `json:"output,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// EffectiveRoot returns the root of the tree this task belongs to. A task
// with no recorded root is its own root.
func (t *Task) EffectiveRoot() int64 {
	if t.RootTaskID != nil {
		return *t.RootTaskID
	}
	return t.ID
}

// Killable reports whether the task may still be killed.
func (t *Task) Killable() bool {
	switch t.Status {
	case StatusPending, StatusLaunched, StatusInProgress:
		return true
	}
	return false
}

// ApplyStatus validates and applies a status transition, stamping
// started_at on first entry to in_progress and completed_at on entry to
// any terminal state. Terminal tasks reject all further status changes.
func (t *Task) ApplyStatus(s Status, now time.Time) error {
	if !s.Valid() {
		return fmt.Errorf("status %q: %w", s, domain.ErrValidation)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("task %d is %s: %w", t.ID, t.Status, domain.ErrTerminalState)
	}
	if s == StatusInProgress && t.StartedAt == nil {
		t.StartedAt = &now
	}
	if s.Terminal() {
		t.CompletedAt = &now
	}
	t.Status = s
	return nil
}

// CreateRequest holds the fields needed to create a new task. ParentIDs is
// ordered; the first entry is the primary parent.
type CreateRequest struct {
	Creator         string         `json:"creator"`
	Assignee        string         `json:"assignee,omitempty"`
	Subject         string         `json:"subject"`
	Prompt          string         `json:"prompt"`
	ParentIDs       []int64        `json:"parent_ids,omitempty"`
	BlockedByTaskID *int64         `json:"blocked_by_task_id,omitempty"`
	WorkingDir      string         `json:"working_dir,omitempty"`
	Project         string         `json:"project,omitempty"`
	Host            string         `json:"host,omitempty"`
	SessionName     string         `json:"session_name,omitempty"`
	OnComplete      string         `json:"on_complete,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	MaxTurns        *int           `json:"max_turns,omitempty"`
}

// UpdateRequest holds the mutable fields of a task. Nil pointers leave the
// field untouched. ParentTaskID triggers the reparenting algorithm.
type UpdateRequest struct {
	Status       *Status `json:"status,omitempty"`
	Output       *string `json:"output,omitempty"`
	ParentTaskID *int64  `json:"parent_task_id,omitempty"`
}

// Filter narrows a task listing. Empty fields match everything.
type Filter struct {
	Assignee string
	Creator  string
	Status   Status
}

// Placement is the computed graph position for a new task.
type Placement struct {
	ParentIDs       []int64 // ordered, first is primary; empty for a new root
	ParentTaskID    *int64  // primary parent
	RootTaskID      *int64  // nil when the task is its own root
	Depth           int
	BlockedByTaskID *int64 // nil when the block resolved at creation time
}

// PlanPlacement computes where a new task sits in the graph. parents are
// the resolved parent rows in caller-listed order; blocker is the resolved
// blocking task, or nil. Callers must have already verified that every
// referenced id resolved (ErrInvalidParent / ErrInvalidBlocker).
//
// With no parents the task becomes its own root at depth 0. With parents,
// all must share one effective root (ErrCrossTreeJoin otherwise), the new
// root is the primary parent's, and depth is 1 + max over parent depths so
// a join node reflects its deepest contributing branch. A blocker with no
// explicit parent becomes the default primary parent; a blocker that has
// already completed clears the block but still serves as that default.
func PlanPlacement(parents []Task, blocker *Task) (Placement, error) {
	if len(parents) == 0 && blocker != nil {
		parents = []Task{*blocker}
	}

	var p Placement
	if blocker != nil && blocker.Status != StatusCompleted {
		id := blocker.ID
		p.BlockedByTaskID = &id
	}

	if len(parents) == 0 {
		return p, nil
	}

	root := parents[0].EffectiveRoot()
	maxDepth := parents[0].Depth
	for i := range parents[1:] {
		parent := &parents[i+1]
		if parent.EffectiveRoot() != root {
			return Placement{}, fmt.Errorf("parent %d is in tree %d, parent %d is in tree %d: %w",
				parents[0].ID, root, parent.ID, parent.EffectiveRoot(), domain.ErrCrossTreeJoin)
		}
		if parent.Depth > maxDepth {
			maxDepth = parent.Depth
		}
	}

	primary := parents[0].ID
	p.ParentTaskID = &primary
	p.RootTaskID = &root
	p.Depth = maxDepth + 1
	p.ParentIDs = make([]int64, len(parents))
	for i := range parents {
		p.ParentIDs[i] = parents[i].ID
	}
	return p, nil
}

// Detail is a task joined with its graph neighborhood, as returned by the
// single-task fetch.
type Detail struct {
	Task
	ParentIDs         []int64 `json:"parent_ids"`
	Children          []Task  `json:"children"`
	BlockedDependents []Task  `json:"blocked_dependents"`
}

// Node is one task in an assembled tree.
type Node struct {
	Task
	Children []*Node `json:"children"`
}

// BuildTree reassembles a flat descendant list (annotated with primary
// parent pointers) into a tree rooted at rootID.
func BuildTree(rootID int64, tasks []Task) *Node {
	nodes := make(map[int64]*Node, len(tasks))
	order := make([]int64, 0, len(tasks))
	for i := range tasks {
		nodes[tasks[i].ID] = &Node{Task: tasks[i], Children: []*Node{}}
		order = append(order, tasks[i].ID)
	}
	root, ok := nodes[rootID]
	if !ok {
		return nil
	}
	for _, id := range order {
		n := nodes[id]
		if n.ID == rootID || n.ParentTaskID == nil {
			continue
		}
		if parent, ok := nodes[*n.ParentTaskID]; ok {
			parent.Children = append(parent.Children, n)
		}
	}
	return root
}

// TreeStats is the per-root aggregate returned by the trees listing.
// Blocked counts pending tasks that still carry a blocked_by reference.
type TreeStats struct {
	RootTaskID int64          `json:"root_task_id"`
	Subject    string         `json:"subject"`
	Total      int            `json:"total"`
	Counts     map[Status]int `json:"counts"`
	Blocked    int            `json:"blocked"`
}
