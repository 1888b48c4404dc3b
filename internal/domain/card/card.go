// Package card defines the kanban Card entity and the column ordering the
// sync state machine relies on.
package card

import (
	"time"
)

// Column is a board column. Columns are totally ordered:
// backlog < todo < in_progress < done < archived.
type Column string

const (
	ColBacklog    Column = "backlog"
	ColTodo       Column = "todo"
	ColInProgress Column = "in_progress"
	ColDone       Column = "done"
	ColArchived   Column = "archived"
)

// columnRank maps each column to its position in the total order.
var columnRank = map[Column]int{
	ColBacklog:    0,
	ColTodo:       1,
	ColInProgress: 2,
	ColDone:       3,
	ColArchived:   4,
}

// Valid reports whether c is a known column.
func (c Column) Valid() bool {
	_, ok := columnRank[c]
	return ok
}

// Rank returns the column's position in the total order, or -1 for an
// unknown column.
func (c Column) Rank() int {
	r, ok := columnRank[c]
	if !ok {
		return -1
	}
	return r
}

// ObjectTypeTask is the link object type that participates in the sync
// state machine. Links of other types are carried but never synced on.
const ObjectTypeTask = "task"

// Link is a typed reference from a card to another entity.
type Link struct {
	ObjectType string `json:"object_type"`
	ObjectID   int64  `json:"object_id"`
}

// Card is a board item tracking one or more linked objects. Its column
// mirrors the aggregate status of its linked tasks.
type Card struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Col         Column    `json:"col"`
	Priority    int       `json:"priority"`
	Assignee    string    `json:"assignee,omitempty"`
	Creator     string    `json:"creator"`
	Links       []Link    `json:"links"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasTaskLink reports whether the card links the given task.
func (c *Card) HasTaskLink(taskID int64) bool {
	for _, l := range c.Links {
		if l.ObjectType == ObjectTypeTask && l.ObjectID == taskID {
			return true
		}
	}
	return false
}

// TaskLinkIDs returns the ids of all tasks the card links to.
func (c *Card) TaskLinkIDs() []int64 {
	var ids []int64
	for _, l := range c.Links {
		if l.ObjectType == ObjectTypeTask {
			ids = append(ids, l.ObjectID)
		}
	}
	return ids
}

// CreateRequest holds the fields needed to create a card.
type CreateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Col         Column `json:"col,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
	Creator     string `json:"creator"`
	Links       []Link `json:"links,omitempty"`
}

// UpdateRequest holds direct card edits. Nil pointers leave the field
// untouched.
type UpdateRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Col         *Column `json:"col,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	Assignee    *string `json:"assignee,omitempty"`
}
