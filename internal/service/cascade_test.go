package service

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/switchboard-hq/switchboard/internal/domain/task"
)

func TestCascadeFailsChain(t *testing.T) {
	store := newMockStore()
	svc := newTestTaskService(store, nil, nil)

	a := mustCreate(t, svc, task.CreateRequest{Subject: "A"})
	b := mustCreate(t, svc, task.CreateRequest{Subject: "B", BlockedByTaskID: &a.ID})
	c := mustCreate(t, svc, task.CreateRequest{Subject: "C", BlockedByTaskID: &b.ID})

	if _, err := svc.Update(context.Background(), a.ID, task.UpdateRequest{
		Status: statusPtr(task.StatusFailed),
	}); err != nil {
		t.Fatalf("fail A: %v", err)
	}

	gotB, _ := svc.Get(context.Background(), b.ID)
	gotC, _ := svc.Get(context.Background(), c.ID)

	if gotB.Status != task.StatusFailed || gotC.Status != task.StatusFailed {
		t.Fatalf("expected B and C failed, got %q and %q", gotB.Status, gotC.Status)
	}
	if !strings.Contains(gotB.Output, "Upstream task #") || !strings.Contains(gotB.Output, "failed") {
		t.Fatalf("expected upstream citation in B output, got %q", gotB.Output)
	}
	// Each task cites its direct upstream, not the origin.
	wantC := "Upstream task #" + strconv.FormatInt(b.ID, 10) + " failed"
	if gotC.Output != wantC {
		t.Fatalf("expected %q, got %q", wantC, gotC.Output)
	}
	if gotB.BlockedByTaskID != nil || gotC.BlockedByTaskID != nil {
		t.Fatal("expected blocks cleared on cascade")
	}
	if gotB.CompletedAt == nil || gotC.CompletedAt == nil {
		t.Fatal("expected completed_at stamped on cascade-failed tasks")
	}
}

func TestCascadeSkipsStartedTasks(t *testing.T) {
	store := newMockStore()
	svc := newTestTaskService(store, nil, nil)

	a := mustCreate(t, svc, task.CreateRequest{Subject: "A"})
	b := mustCreate(t, svc, task.CreateRequest{Subject: "B", BlockedByTaskID: &a.ID})

	// B started anyway; cascade must not touch it.
	if _, err := svc.Update(context.Background(), b.ID, task.UpdateRequest{
		Status: statusPtr(task.StatusInProgress),
	}); err != nil {
		t.Fatalf("start B: %v", err)
	}
	if _, err := svc.Update(context.Background(), a.ID, task.UpdateRequest{
		Status: statusPtr(task.StatusFailed),
	}); err != nil {
		t.Fatalf("fail A: %v", err)
	}

	gotB, _ := svc.Get(context.Background(), b.ID)
	if gotB.Status != task.StatusInProgress {
		t.Fatalf("cascade must only remove pending work, got %q", gotB.Status)
	}
}

func TestCascadeFansOut(t *testing.T) {
	store := newMockStore()
	svc := newTestTaskService(store, nil, nil)

	a := mustCreate(t, svc, task.CreateRequest{Subject: "A"})
	deps := make([]*task.Task, 3)
	for i := range deps {
		deps[i] = mustCreate(t, svc, task.CreateRequest{Subject: "dep", BlockedByTaskID: &a.ID})
	}

	if _, err := svc.Update(context.Background(), a.ID, task.UpdateRequest{
		Status: statusPtr(task.StatusFailed),
	}); err != nil {
		t.Fatalf("fail A: %v", err)
	}

	for _, d := range deps {
		got, _ := svc.Get(context.Background(), d.ID)
		if got.Status != task.StatusFailed {
			t.Fatalf("expected dependent %d failed, got %q", d.ID, got.Status)
		}
	}
}
