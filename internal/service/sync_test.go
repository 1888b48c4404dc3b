package service

import (
	"context"
	"testing"

	"github.com/switchboard-hq/switchboard/internal/domain/card"
	"github.com/switchboard-hq/switchboard/internal/domain/task"
)

// linkCard creates a card in the given column linked to the given tasks.
func linkCard(t *testing.T, svc *TaskService, col card.Column, taskIDs ...int64) *card.Card {
	t.Helper()
	links := make([]card.Link, len(taskIDs))
	for i, id := range taskIDs {
		links[i] = card.Link{ObjectType: card.ObjectTypeTask, ObjectID: id}
	}
	c, err := svc.cards.Create(context.Background(), card.CreateRequest{
		Title: "tracking card", Creator: "alice", Col: col, Links: links,
	})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	return c
}

func cardCol(t *testing.T, svc *TaskService, id int64) card.Column {
	t.Helper()
	c, err := svc.cards.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	return c.Col
}

func TestSyncForwardToActive(t *testing.T) {
	svc := newTestTaskService(newMockStore(), nil, nil)

	created := mustCreate(t, svc, task.CreateRequest{Subject: "work", Assignee: "charlie"})
	k := linkCard(t, svc, card.ColBacklog, created.ID)

	if _, err := svc.Update(context.Background(), created.ID, task.UpdateRequest{
		Status: statusPtr(task.StatusInProgress),
	}); err != nil {
		t.Fatalf("start: %v", err)
	}

	got, _ := svc.cards.Get(context.Background(), k.ID)
	if got.Col != card.ColInProgress {
		t.Fatalf("expected card in_progress, got %q", got.Col)
	}
	if got.Assignee != "charlie" {
		t.Fatalf("expected assignee overwritten with the task's, got %q", got.Assignee)
	}
}

func TestSyncActiveReopensDoneCard(t *testing.T) {
	svc := newTestTaskService(newMockStore(), nil, nil)

	t1 := mustCreate(t, svc, task.CreateRequest{Subject: "first", Assignee: "charlie"})
	k := linkCard(t, svc, card.ColBacklog, t1.ID)

	if _, err := svc.Update(context.Background(), t1.ID, task.UpdateRequest{
		Status: statusPtr(task.StatusCompleted),
	}); err != nil {
		t.Fatalf("complete first: %v", err)
	}
	if got := cardCol(t, svc, k.ID); got != card.ColDone {
		t.Fatalf("expected done after completion, got %q", got)
	}

	// A newly linked active task reopens the card.
	t2 := mustCreate(t, svc, task.CreateRequest{Subject: "follow-up", Assignee: "dana"})
	if err := svc.cards.AddLink(context.Background(), k.ID, card.Link{
		ObjectType: card.ObjectTypeTask, ObjectID: t2.ID,
	}); err != nil {
		t.Fatalf("add link: %v", err)
	}
	if _, err := svc.Update(context.Background(), t2.ID, task.UpdateRequest{
		Status: statusPtr(task.StatusInProgress),
	}); err != nil {
		t.Fatalf("start follow-up: %v", err)
	}

	got, _ := svc.cards.Get(context.Background(), k.ID)
	if got.Col != card.ColInProgress {
		t.Fatalf("expected done card reopened to in_progress, got %q", got.Col)
	}
	if got.Assignee != "dana" {
		t.Fatalf("expected last mover's assignee, got %q", got.Assignee)
	}
}

func TestSyncArchivedCardFrozen(t *testing.T) {
	svc := newTestTaskService(newMockStore(), nil, nil)

	created := mustCreate(t, svc, task.CreateRequest{Subject: "work", Assignee: "charlie"})
	k := linkCard(t, svc, card.ColArchived, created.ID)

	if _, err := svc.Update(context.Background(), created.ID, task.UpdateRequest{
		Status: statusPtr(task.StatusInProgress),
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := cardCol(t, svc, k.ID); got != card.ColArchived {
		t.Fatalf("archived card must not move on active, got %q", got)
	}

	if _, err := svc.Update(context.Background(), created.ID, task.UpdateRequest{
		Status: statusPtr(task.StatusCompleted),
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := cardCol(t, svc, k.ID); got != card.ColArchived {
		t.Fatalf("archived card must not move on terminal, got %q", got)
	}
}

func TestSyncDonePolicy(t *testing.T) {
	svc := newTestTaskService(newMockStore(), nil, nil)

	t1 := mustCreate(t, svc, task.CreateRequest{Subject: "first"})
	t2 := mustCreate(t, svc, task.CreateRequest{Subject: "second"})
	k := linkCard(t, svc, card.ColTodo, t1.ID, t2.ID)

	// One terminal, one still pending: not done.
	if _, err := svc.Update(context.Background(), t1.ID, task.UpdateRequest{
		Status: statusPtr(task.StatusCompleted),
	}); err != nil {
		t.Fatalf("complete first: %v", err)
	}
	if got := cardCol(t, svc, k.ID); got == card.ColDone {
		t.Fatal("card must not reach done while a linked task is non-terminal")
	}

	// Both terminal with at least one completed: done.
	if _, err := svc.Update(context.Background(), t2.ID, task.UpdateRequest{
		Status: statusPtr(task.StatusFailed),
	}); err != nil {
		t.Fatalf("fail second: %v", err)
	}
	if got := cardCol(t, svc, k.ID); got != card.ColDone {
		t.Fatalf("expected done with all terminal and one completed, got %q", got)
	}
}

func TestSyncAllFailedNeverDone(t *testing.T) {
	svc := newTestTaskService(newMockStore(), nil, nil)

	t1 := mustCreate(t, svc, task.CreateRequest{Subject: "first"})
	t2 := mustCreate(t, svc, task.CreateRequest{Subject: "second"})
	k := linkCard(t, svc, card.ColTodo, t1.ID, t2.ID)

	for _, id := range []int64{t1.ID, t2.ID} {
		if _, err := svc.Update(context.Background(), id, task.UpdateRequest{
			Status: statusPtr(task.StatusFailed),
		}); err != nil {
			t.Fatalf("fail %d: %v", id, err)
		}
	}

	if got := cardCol(t, svc, k.ID); got != card.ColTodo {
		t.Fatalf("all-failed card must stay put, got %q", got)
	}
}

func TestSyncIndependentCards(t *testing.T) {
	svc := newTestTaskService(newMockStore(), nil, nil)

	shared := mustCreate(t, svc, task.CreateRequest{Subject: "shared"})
	other := mustCreate(t, svc, task.CreateRequest{Subject: "other"})

	solo := linkCard(t, svc, card.ColTodo, shared.ID)
	pair := linkCard(t, svc, card.ColTodo, shared.ID, other.ID)

	if _, err := svc.Update(context.Background(), shared.ID, task.UpdateRequest{
		Status: statusPtr(task.StatusCompleted),
	}); err != nil {
		t.Fatalf("complete shared: %v", err)
	}

	if got := cardCol(t, svc, solo.ID); got != card.ColDone {
		t.Fatalf("solo card should be done, got %q", got)
	}
	if got := cardCol(t, svc, pair.ID); got != card.ColTodo {
		t.Fatalf("pair card should wait for its other task, got %q", got)
	}
}

// Full board scenario: backlog card follows its task through the
// lifecycle and reopens when a new linked task goes active.
func TestSyncBoardScenario(t *testing.T) {
	svc := newTestTaskService(newMockStore(), nil, nil)

	tk := mustCreate(t, svc, task.CreateRequest{Subject: "T", Assignee: "charlie"})
	k := linkCard(t, svc, card.ColBacklog, tk.ID)

	if _, err := svc.Update(context.Background(), tk.ID, task.UpdateRequest{
		Status: statusPtr(task.StatusInProgress),
	}); err != nil {
		t.Fatalf("T in_progress: %v", err)
	}
	got, _ := svc.cards.Get(context.Background(), k.ID)
	if got.Col != card.ColInProgress || got.Assignee != "charlie" {
		t.Fatalf("after T active: %+v", got)
	}

	if _, err := svc.Update(context.Background(), tk.ID, task.UpdateRequest{
		Status: statusPtr(task.StatusCompleted),
	}); err != nil {
		t.Fatalf("T completed: %v", err)
	}
	if col := cardCol(t, svc, k.ID); col != card.ColDone {
		t.Fatalf("after T completed expected done, got %q", col)
	}

	t2 := mustCreate(t, svc, task.CreateRequest{Subject: "T2", Assignee: "dana"})
	if err := svc.cards.AddLink(context.Background(), k.ID, card.Link{
		ObjectType: card.ObjectTypeTask, ObjectID: t2.ID,
	}); err != nil {
		t.Fatalf("link T2: %v", err)
	}
	if _, err := svc.Update(context.Background(), t2.ID, task.UpdateRequest{
		Status: statusPtr(task.StatusInProgress),
	}); err != nil {
		t.Fatalf("T2 in_progress: %v", err)
	}
	if col := cardCol(t, svc, k.ID); col != card.ColInProgress {
		t.Fatalf("after T2 active expected in_progress, got %q", col)
	}
}
