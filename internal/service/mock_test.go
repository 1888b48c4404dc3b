package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/switchboard-hq/switchboard/internal/domain"
	"github.com/switchboard-hq/switchboard/internal/domain/card"
	"github.com/switchboard-hq/switchboard/internal/domain/task"
	"github.com/switchboard-hq/switchboard/internal/port/messagequeue"
	"github.com/switchboard-hq/switchboard/internal/port/worker"
)

// mockStore is an in-memory implementation of database.Store.
type mockStore struct {
	mu         sync.Mutex
	nextTaskID int64
	nextCardID int64
	tasks      map[int64]*task.Task
	parents    map[int64][]int64 // ordered parent edges
	cards      map[int64]*card.Card
	workers    map[string]worker.Entry
}

func newMockStore() *mockStore {
	return &mockStore{
		tasks:   make(map[int64]*task.Task),
		parents: make(map[int64][]int64),
		cards:   make(map[int64]*card.Card),
		workers: make(map[string]worker.Entry),
	}
}

func (m *mockStore) CreateTask(_ context.Context, req task.CreateRequest) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parents := make([]task.Task, 0, len(req.ParentIDs))
	for _, id := range req.ParentIDs {
		p, ok := m.tasks[id]
		if !ok {
			return nil, fmt.Errorf("parent %d: %w", id, domain.ErrInvalidParent)
		}
		parents = append(parents, *p)
	}

	var blocker *task.Task
	if req.BlockedByTaskID != nil {
		b, ok := m.tasks[*req.BlockedByTaskID]
		if !ok {
			return nil, fmt.Errorf("blocker %d: %w", *req.BlockedByTaskID, domain.ErrInvalidBlocker)
		}
		blocker = b
	}

	placement, err := task.PlanPlacement(parents, blocker)
	if err != nil {
		return nil, err
	}

	m.nextTaskID++
	t := &task.Task{
		ID:              m.nextTaskID,
		Creator:         req.Creator,
		Assignee:        req.Assignee,
		Subject:         req.Subject,
		Prompt:          req.Prompt,
		Status:          task.StatusPending,
		ParentTaskID:    placement.ParentTaskID,
		RootTaskID:      placement.RootTaskID,
		Depth:           placement.Depth,
		BlockedByTaskID: placement.BlockedByTaskID,
		WorkingDir:      req.WorkingDir,
		Project:         req.Project,
		Host:            req.Host,
		SessionName:     req.SessionName,
		OnComplete:      req.OnComplete,
		Metadata:        req.Metadata,
		MaxTurns:        req.MaxTurns,
	}
	m.tasks[t.ID] = t
	m.parents[t.ID] = placement.ParentIDs
	copied := *t
	return &copied, nil
}

func (m *mockStore) GetTask(_ context.Context, id int64) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, domain.ErrNotFound)
	}
	copied := *t
	return &copied, nil
}

func (m *mockStore) GetTaskDetail(ctx context.Context, id int64) (*task.Detail, error) {
	t, err := m.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	children, _ := m.ListChildren(ctx, id)
	blocked, _ := m.ListBlockedOn(ctx, id)
	m.mu.Lock()
	parentIDs := append([]int64{}, m.parents[id]...)
	m.mu.Unlock()
	return &task.Detail{Task: *t, ParentIDs: parentIDs, Children: children, BlockedDependents: blocked}, nil
}

func (m *mockStore) ListTasks(_ context.Context, f task.Filter) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.sortedTasks() {
		if f.Assignee != "" && t.Assignee != f.Assignee {
			continue
		}
		if f.Creator != "" && t.Creator != f.Creator {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (m *mockStore) ListChildren(_ context.Context, parentID int64) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.sortedTasks() {
		for _, pid := range m.parents[t.ID] {
			if pid == parentID {
				out = append(out, *t)
				break
			}
		}
	}
	return out, nil
}

func (m *mockStore) ListBlockedOn(_ context.Context, blockerID int64) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.sortedTasks() {
		if t.Status == task.StatusPending && t.BlockedByTaskID != nil && *t.BlockedByTaskID == blockerID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockStore) ListAncestors(_ context.Context, id int64, maxLevels int) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, domain.ErrNotFound)
	}
	for t.ParentTaskID != nil && len(out) < maxLevels {
		p, ok := m.tasks[*t.ParentTaskID]
		if !ok {
			break
		}
		out = append(out, *p)
		t = p
	}
	return out, nil
}

func (m *mockStore) ListDescendants(_ context.Context, rootID int64) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	frontier := []int64{rootID}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, t := range m.sortedTasks() {
			if t.ParentTaskID != nil && *t.ParentTaskID == id {
				out = append(out, *t)
				frontier = append(frontier, t.ID)
			}
		}
	}
	return out, nil
}

func (m *mockStore) TreeStats(_ context.Context) ([]task.TreeStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byRoot := make(map[int64]*task.TreeStats)
	for _, t := range m.sortedTasks() {
		root := t.EffectiveRoot()
		st, ok := byRoot[root]
		if !ok {
			st = &task.TreeStats{RootTaskID: root, Counts: make(map[task.Status]int)}
			byRoot[root] = st
		}
		st.Total++
		st.Counts[t.Status]++
		if t.Status == task.StatusPending && t.BlockedByTaskID != nil {
			st.Blocked++
		}
		if t.ID == root {
			st.Subject = t.Subject
		}
	}
	var out []task.TreeStats
	for _, st := range byRoot {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RootTaskID < out[j].RootTaskID })
	return out, nil
}

func (m *mockStore) SaveTaskState(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.tasks[t.ID]
	if !ok {
		return fmt.Errorf("task %d: %w", t.ID, domain.ErrNotFound)
	}
	if stored.Status.Terminal() && stored.Status != t.Status {
		return fmt.Errorf("task %d is %s: %w", t.ID, stored.Status, domain.ErrTerminalState)
	}
	stored.Status = t.Status
	stored.Output = t.Output
	stored.Prompt = t.Prompt
	stored.BlockedByTaskID = t.BlockedByTaskID
	stored.StartedAt = t.StartedAt
	stored.CompletedAt = t.CompletedAt
	return nil
}

func (m *mockStore) Reparent(_ context.Context, taskID int64, newParentID, newRoot int64, newDepth, depthDelta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %d: %w", taskID, domain.ErrNotFound)
	}
	t.ParentTaskID = &newParentID
	t.RootTaskID = &newRoot
	t.Depth = newDepth
	m.parents[taskID] = []int64{newParentID}

	frontier := []int64{taskID}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, d := range m.tasks {
			if d.ParentTaskID != nil && *d.ParentTaskID == id && d.ID != taskID {
				d.RootTaskID = &newRoot
				d.Depth += depthDelta
				frontier = append(frontier, d.ID)
			}
		}
	}
	return nil
}

func (m *mockStore) CreateCard(_ context.Context, req card.CreateRequest) (*card.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCardID++
	col := req.Col
	if col == "" {
		col = card.ColBacklog
	}
	c := &card.Card{
		ID:          m.nextCardID,
		Title:       req.Title,
		Description: req.Description,
		Col:         col,
		Priority:    req.Priority,
		Assignee:    req.Assignee,
		Creator:     req.Creator,
		Links:       append([]card.Link{}, req.Links...),
	}
	m.cards[c.ID] = c
	copied := *c
	return &copied, nil
}

func (m *mockStore) GetCard(_ context.Context, id int64) (*card.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	if !ok {
		return nil, fmt.Errorf("card %d: %w", id, domain.ErrNotFound)
	}
	copied := *c
	copied.Links = append([]card.Link{}, c.Links...)
	return &copied, nil
}

func (m *mockStore) ListCards(_ context.Context) ([]card.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id := range m.cards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []card.Card
	for _, id := range ids {
		out = append(out, *m.cards[id])
	}
	return out, nil
}

func (m *mockStore) UpdateCard(_ context.Context, id int64, req card.UpdateRequest) (*card.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	if !ok {
		return nil, fmt.Errorf("card %d: %w", id, domain.ErrNotFound)
	}
	if req.Title != nil {
		c.Title = *req.Title
	}
	if req.Description != nil {
		c.Description = *req.Description
	}
	if req.Col != nil {
		c.Col = *req.Col
	}
	if req.Priority != nil {
		c.Priority = *req.Priority
	}
	if req.Assignee != nil {
		c.Assignee = *req.Assignee
	}
	copied := *c
	copied.Links = append([]card.Link{}, c.Links...)
	return &copied, nil
}

func (m *mockStore) DeleteCard(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cards[id]; !ok {
		return fmt.Errorf("card %d: %w", id, domain.ErrNotFound)
	}
	delete(m.cards, id)
	return nil
}

func (m *mockStore) AddCardLink(_ context.Context, cardID int64, l card.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[cardID]
	if !ok {
		return fmt.Errorf("card %d: %w", cardID, domain.ErrNotFound)
	}
	c.Links = append(c.Links, l)
	return nil
}

func (m *mockStore) RemoveCardLink(_ context.Context, cardID int64, l card.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[cardID]
	if !ok {
		return fmt.Errorf("card %d: %w", cardID, domain.ErrNotFound)
	}
	for i, existing := range c.Links {
		if existing == l {
			c.Links = append(c.Links[:i], c.Links[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("link %s/%d on card %d: %w", l.ObjectType, l.ObjectID, cardID, domain.ErrNotFound)
}

func (m *mockStore) CardsForObject(_ context.Context, objectType string, objectID int64) ([]card.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id := range m.cards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []card.Card
	for _, id := range ids {
		c := m.cards[id]
		for _, l := range c.Links {
			if l.ObjectType == objectType && l.ObjectID == objectID {
				copied := *c
				copied.Links = append([]card.Link{}, c.Links...)
				out = append(out, copied)
				break
			}
		}
	}
	return out, nil
}

func (m *mockStore) CardsForObjects(ctx context.Context, objectType string, objectIDs []int64) (map[int64][]card.Card, error) {
	out := make(map[int64][]card.Card)
	for _, id := range objectIDs {
		cards, err := m.CardsForObject(ctx, objectType, id)
		if err != nil {
			return nil, err
		}
		if len(cards) > 0 {
			out[id] = cards
		}
	}
	return out, nil
}

func (m *mockStore) UpsertWorker(_ context.Context, w worker.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[w.Name] = w
	return nil
}

func (m *mockStore) GetWorker(_ context.Context, name string) (*worker.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[name]
	if !ok {
		return nil, fmt.Errorf("worker %s: %w", name, domain.ErrNotFound)
	}
	copied := w
	return &copied, nil
}

func (m *mockStore) ListWorkers(_ context.Context) ([]worker.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name := range m.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	var out []worker.Entry
	for _, name := range names {
		out = append(out, m.workers[name])
	}
	return out, nil
}

// sortedTasks returns the stored tasks in creation (id) order. Callers
// must hold m.mu.
func (m *mockStore) sortedTasks() []*task.Task {
	var ids []int64
	for id := range m.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.tasks[id])
	}
	return out
}

// mockRegistry implements worker.Registry.
type mockRegistry struct {
	entries  map[string]worker.Entry
	workDirs map[string]map[string]string
}

func (r *mockRegistry) Resolve(_ context.Context, name string) (worker.Entry, error) {
	e, ok := r.entries[name]
	if !ok {
		return worker.Entry{}, fmt.Errorf("worker %s: %w", name, domain.ErrNotFound)
	}
	return e, nil
}

func (r *mockRegistry) WorkingDir(workerName, project string) string {
	return r.workDirs[workerName][project]
}

// mockEndpoint implements worker.Endpoint and records dispatch calls.
type mockEndpoint struct {
	executed   []worker.ExecuteRequest
	executeErr error
	killed     []int64
	killResp   string
	killErr    error
}

func (e *mockEndpoint) Execute(_ context.Context, _, _ string, req worker.ExecuteRequest) error {
	if e.executeErr != nil {
		return e.executeErr
	}
	e.executed = append(e.executed, req)
	return nil
}

func (e *mockEndpoint) Kill(_ context.Context, _, _ string, taskID int64) (string, error) {
	if e.killErr != nil {
		return "", e.killErr
	}
	e.killed = append(e.killed, taskID)
	return e.killResp, nil
}

// mockQueue implements messagequeue.Queue.
type mockQueue struct {
	mu        sync.Mutex
	published []struct {
		subject string
		data    []byte
	}
	publishErr error
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	if q.publishErr != nil {
		return q.publishErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, struct {
		subject string
		data    []byte
	}{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Drain() error { return nil }
func (q *mockQueue) Close() error { return nil }

// mockHub implements broadcast.Broadcaster.
type mockHub struct {
	mu     sync.Mutex
	events []string
}

func (h *mockHub) BroadcastEvent(_ context.Context, eventType string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
}

// newTestTaskService wires a TaskService over the in-memory store with
// the given registry and endpoint mocks.
func newTestTaskService(store *mockStore, registry *mockRegistry, endpoint *mockEndpoint) *TaskService {
	if registry == nil {
		registry = &mockRegistry{entries: map[string]worker.Entry{}}
	}
	if endpoint == nil {
		endpoint = &mockEndpoint{}
	}
	events := NewEvents(&mockHub{}, nil)
	cards := NewCardService(store, events)
	return NewTaskService(store, registry, endpoint, cards, events, "switchboard")
}
