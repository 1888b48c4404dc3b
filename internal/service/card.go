package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/switchboard-hq/switchboard/internal/domain"
	"github.com/switchboard-hq/switchboard/internal/domain/card"
	"github.com/switchboard-hq/switchboard/internal/domain/task"
	"github.com/switchboard-hq/switchboard/internal/port/broadcast"
	"github.com/switchboard-hq/switchboard/internal/port/database"
)

// CardService handles board card CRUD and the task-driven column sync
// state machine.
type CardService struct {
	store  database.Store
	events *Events
}

// NewCardService creates a new CardService.
func NewCardService(store database.Store, events *Events) *CardService {
	return &CardService{store: store, events: events}
}

// Create validates and persists a new card.
func (s *CardService) Create(ctx context.Context, req card.CreateRequest) (*card.Card, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("card title is required: %w", domain.ErrValidation)
	}
	if req.Creator == "" {
		return nil, fmt.Errorf("card creator is required: %w", domain.ErrValidation)
	}
	if req.Col != "" && !req.Col.Valid() {
		return nil, fmt.Errorf("unknown column %q: %w", req.Col, domain.ErrValidation)
	}

	c, err := s.store.CreateCard(ctx, req)
	if err != nil {
		return nil, err
	}
	s.events.CardEvent(ctx, broadcast.EventCardCreated, c)
	return c, nil
}

// Get returns a card with its links.
func (s *CardService) Get(ctx context.Context, id int64) (*card.Card, error) {
	return s.store.GetCard(ctx, id)
}

// List returns all cards ordered by priority.
func (s *CardService) List(ctx context.Context) ([]card.Card, error) {
	return s.store.ListCards(ctx)
}

// Update applies direct edits to a card. Manual column moves are allowed
// into any valid column, including out of archived.
func (s *CardService) Update(ctx context.Context, id int64, req card.UpdateRequest) (*card.Card, error) {
	if req.Col != nil && !req.Col.Valid() {
		return nil, fmt.Errorf("unknown column %q: %w", *req.Col, domain.ErrValidation)
	}

	c, err := s.store.UpdateCard(ctx, id, req)
	if err != nil {
		return nil, err
	}
	s.events.CardEvent(ctx, broadcast.EventCardUpdated, c)
	return c, nil
}

// Delete removes a card and its links.
func (s *CardService) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteCard(ctx, id); err != nil {
		return err
	}
	s.events.CardEvent(ctx, broadcast.EventCardDeleted, map[string]int64{"id": id})
	return nil
}

// AddLink attaches a link to a card.
func (s *CardService) AddLink(ctx context.Context, cardID int64, l card.Link) error {
	if l.ObjectType == "" {
		return fmt.Errorf("link object_type is required: %w", domain.ErrValidation)
	}
	return s.store.AddCardLink(ctx, cardID, l)
}

// RemoveLink detaches a link from a card.
func (s *CardService) RemoveLink(ctx context.Context, cardID int64, l card.Link) error {
	return s.store.RemoveCardLink(ctx, cardID, l)
}

// CardsForTasks returns the cards linked to each of the given tasks.
func (s *CardService) CardsForTasks(ctx context.Context, taskIDs []int64) (map[int64][]card.Card, error) {
	return s.store.CardsForObjects(ctx, card.ObjectTypeTask, taskIDs)
}

// CardsForObject is the reverse link lookup: every card referencing the
// given object. Always returns a non-nil slice for JSON rendering.
func (s *CardService) CardsForObject(ctx context.Context, objectType string, objectID int64) ([]card.Card, error) {
	cards, err := s.store.CardsForObject(ctx, objectType, objectID)
	if err != nil {
		return nil, err
	}
	if cards == nil {
		cards = []card.Card{}
	}
	return cards, nil
}

// SyncTaskActive runs the forward-to-active rule: every card linked to t
// that is not already in_progress and not archived moves to in_progress,
// and its assignee is overwritten with the task's (last mover wins).
// Archived cards are frozen in both directions.
func (s *CardService) SyncTaskActive(ctx context.Context, t *task.Task) {
	cards, err := s.store.CardsForObject(ctx, card.ObjectTypeTask, t.ID)
	if err != nil {
		slog.Error("card sync: load linked cards", "task_id", t.ID, "error", err)
		return
	}

	for i := range cards {
		c := &cards[i]
		if c.Col == card.ColInProgress || c.Col == card.ColArchived {
			continue
		}
		col := card.ColInProgress
		updated, err := s.store.UpdateCard(ctx, c.ID, card.UpdateRequest{
			Col:      &col,
			Assignee: &t.Assignee,
		})
		if err != nil {
			slog.Error("card sync: move to in_progress", "card_id", c.ID, "task_id", t.ID, "error", err)
			continue
		}
		slog.Info("card moved", "card_id", c.ID, "col", col, "task_id", t.ID)
		s.events.CardEvent(ctx, broadcast.EventCardUpdated, updated)
	}
}

// SyncTaskTerminal runs the forward-to-done rule for a task that just
// reached a terminal status: each linked card moves to done when every
// task it links is terminal and at least one of them completed. Cards
// whose linked tasks all ended without a single completion stay put.
func (s *CardService) SyncTaskTerminal(ctx context.Context, t *task.Task) {
	cards, err := s.store.CardsForObject(ctx, card.ObjectTypeTask, t.ID)
	if err != nil {
		slog.Error("card sync: load linked cards", "task_id", t.ID, "error", err)
		return
	}

	for i := range cards {
		c := &cards[i]
		if c.Col == card.ColDone || c.Col == card.ColArchived {
			continue
		}
		done, err := s.allLinkedTasksDone(ctx, c)
		if err != nil {
			slog.Error("card sync: aggregate linked tasks", "card_id", c.ID, "error", err)
			continue
		}
		if !done {
			continue
		}
		col := card.ColDone
		updated, err := s.store.UpdateCard(ctx, c.ID, card.UpdateRequest{Col: &col})
		if err != nil {
			slog.Error("card sync: move to done", "card_id", c.ID, "error", err)
			continue
		}
		slog.Info("card moved", "card_id", c.ID, "col", col, "task_id", t.ID)
		s.events.CardEvent(ctx, broadcast.EventCardUpdated, updated)
	}
}

// allLinkedTasksDone re-reads the current status of every task the card
// links to and reports whether all are terminal with at least one
// completed.
func (s *CardService) allLinkedTasksDone(ctx context.Context, c *card.Card) (bool, error) {
	ids := c.TaskLinkIDs()
	if len(ids) == 0 {
		return false, nil
	}

	anyCompleted := false
	for _, id := range ids {
		linked, err := s.store.GetTask(ctx, id)
		if err != nil {
			return false, fmt.Errorf("linked task %d: %w", id, err)
		}
		if !linked.Status.Terminal() {
			return false, nil
		}
		if linked.Status == task.StatusCompleted {
			anyCompleted = true
		}
	}
	return anyCompleted, nil
}
