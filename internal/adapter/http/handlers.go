package http

import (
	"net/http"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/switchboard-hq/switchboard/internal/domain/card"
	"github.com/switchboard-hq/switchboard/internal/domain/task"
	"github.com/switchboard-hq/switchboard/internal/port/worker"
	"github.com/switchboard-hq/switchboard/internal/service"
)

// Handlers bundles the services the HTTP surface exposes.
type Handlers struct {
	tasks    *service.TaskService
	cards    *service.CardService
	registry *service.RegistryService
	pool     *pgxpool.Pool
}

// NewHandlers creates the handler set. pool may be nil (health then skips
// the database probe).
func NewHandlers(tasks *service.TaskService, cards *service.CardService,
	registry *service.RegistryService, pool *pgxpool.Pool) *Handlers {
	return &Handlers{tasks: tasks, cards: cards, registry: registry, pool: pool}
}

// Health reports liveness, probing the database when available.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.pool != nil {
		if err := h.pool.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Tasks ---

func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.CreateRequest](w, r)
	if !ok {
		return
	}

	created, err := h.tasks.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "parent or blocker not found")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := task.Filter{
		Assignee: q.Get("assignee"),
		Creator:  q.Get("creator"),
		Status:   task.Status(q.Get("status")),
	}

	tasks, err := h.tasks.List(r.Context(), f)
	if err != nil {
		writeDomainError(w, err, "tasks not found")
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	detail, err := h.tasks.Detail(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	req, ok := readJSON[task.UpdateRequest](w, r)
	if !ok {
		return
	}

	updated, err := h.tasks.Update(r.Context(), id, req)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type actorRequest struct {
	Actor string `json:"actor"`
}

func (h *Handlers) KillTask(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	req, ok := readJSON[actorRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Actor, "actor") {
		return
	}

	killed, err := h.tasks.Kill(r.Context(), id, req.Actor)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, killed)
}

// retryResponse reports a retry whose child was created but did not
// actually launch.
type retryResponse struct {
	Error string     `json:"error"`
	Task  *task.Task `json:"task"`
}

func (h *Handlers) RetryTask(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	req, ok := readJSON[actorRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Actor, "actor") {
		return
	}

	child, err := h.tasks.Retry(r.Context(), id, req.Actor)
	if err != nil {
		if child != nil {
			writeJSON(w, http.StatusBadGateway, retryResponse{Error: err.Error(), Task: child})
			return
		}
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusCreated, child)
}

// --- Trees ---

// treeResponse joins the assembled tree with the cards linked to any
// task in it, keyed by task id.
type treeResponse struct {
	Tree  *task.Node             `json:"tree"`
	Cards map[string][]card.Card `json:"cards"`
}

func (h *Handlers) GetTree(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	node, cards, err := h.tasks.Tree(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}

	keyed := make(map[string][]card.Card, len(cards))
	for taskID, linked := range cards {
		keyed[strconv.FormatInt(taskID, 10)] = linked
	}
	writeJSON(w, http.StatusOK, treeResponse{Tree: node, Cards: keyed})
}

func (h *Handlers) ListTrees(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tasks.ListTrees(r.Context())
	if err != nil {
		writeDomainError(w, err, "trees not found")
		return
	}
	if stats == nil {
		stats = []task.TreeStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Cards ---

func (h *Handlers) CreateCard(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[card.CreateRequest](w, r)
	if !ok {
		return
	}

	created, err := h.cards.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "card not found")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) ListCards(w http.ResponseWriter, r *http.Request) {
	// Reverse link lookup when an object is given, full listing otherwise.
	q := r.URL.Query()
	if objectType := q.Get("object_type"); objectType != "" {
		objectID, err := strconv.ParseInt(q.Get("object_id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid object_id")
			return
		}
		cards, err := h.cards.CardsForObject(r.Context(), objectType, objectID)
		if err != nil {
			writeDomainError(w, err, "cards not found")
			return
		}
		writeJSON(w, http.StatusOK, cards)
		return
	}

	cards, err := h.cards.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "cards not found")
		return
	}
	if cards == nil {
		cards = []card.Card{}
	}
	writeJSON(w, http.StatusOK, cards)
}

func (h *Handlers) GetCard(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	c, err := h.cards.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "card not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handlers) UpdateCard(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	req, ok := readJSON[card.UpdateRequest](w, r)
	if !ok {
		return
	}

	updated, err := h.cards.Update(r.Context(), id, req)
	if err != nil {
		writeDomainError(w, err, "card not found")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handlers) DeleteCard(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.cards.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err, "card not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) AddCardLink(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	link, ok := readJSON[card.Link](w, r)
	if !ok {
		return
	}

	if err := h.cards.AddLink(r.Context(), id, link); err != nil {
		writeDomainError(w, err, "card not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) RemoveCardLink(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	link, ok := readJSON[card.Link](w, r)
	if !ok {
		return
	}

	if err := h.cards.RemoveLink(r.Context(), id, link); err != nil {
		writeDomainError(w, err, "card or link not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Workers ---

type registerWorkerRequest struct {
	Name       string `json:"name"`
	Endpoint   string `json:"endpoint"`
	Credential string `json:"credential"`
}

func (h *Handlers) RegisterWorker(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[registerWorkerRequest](w, r)
	if !ok {
		return
	}

	entry := worker.Entry{Name: req.Name, Endpoint: req.Endpoint, Credential: req.Credential}
	if err := h.registry.Register(r.Context(), entry); err != nil {
		writeDomainError(w, err, "worker not found")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handlers) ListWorkers(w http.ResponseWriter, r *http.Request) {
	entries, err := h.registry.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "workers not found")
		return
	}
	if entries == nil {
		entries = []worker.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
