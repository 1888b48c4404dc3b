package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/switchboard-hq/switchboard/internal/config"
	"github.com/switchboard-hq/switchboard/internal/domain"
	"github.com/switchboard-hq/switchboard/internal/port/cache"
	"github.com/switchboard-hq/switchboard/internal/port/database"
	"github.com/switchboard-hq/switchboard/internal/port/worker"
)

// RegistryService resolves worker names to endpoints and credentials.
// Dynamic registrations in the store take precedence over static config;
// resolved entries are cached for a short TTL.
type RegistryService struct {
	store    database.Store
	cache    cache.Cache
	cacheTTL time.Duration
	static   map[string]config.Worker
}

// NewRegistryService creates a registry over the store with the given
// static fallback entries. c may be nil to disable caching.
func NewRegistryService(store database.Store, c cache.Cache, ttl time.Duration, workers []config.Worker) *RegistryService {
	static := make(map[string]config.Worker, len(workers))
	for _, w := range workers {
		static[w.Name] = w
	}
	return &RegistryService{store: store, cache: c, cacheTTL: ttl, static: static}
}

// cachedEntry keeps the credential across the cache round-trip; the public
// Entry JSON shape deliberately drops it.
type cachedEntry struct {
	Name       string `json:"name"`
	Endpoint   string `json:"endpoint"`
	Credential string `json:"credential"`
}

func cacheKey(name string) string { return "worker:" + name }

// Resolve returns the entry for the named worker: cache, then dynamic
// store registration, then static config.
func (s *RegistryService) Resolve(ctx context.Context, name string) (worker.Entry, error) {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, cacheKey(name)); err == nil && ok {
			var ce cachedEntry
			if err := json.Unmarshal(data, &ce); err == nil {
				return worker.Entry{Name: ce.Name, Endpoint: ce.Endpoint, Credential: ce.Credential}, nil
			}
		}
	}

	entry, err := s.lookup(ctx, name)
	if err != nil {
		return worker.Entry{}, err
	}

	if s.cache != nil {
		data, err := json.Marshal(cachedEntry{Name: entry.Name, Endpoint: entry.Endpoint, Credential: entry.Credential})
		if err == nil {
			if err := s.cache.Set(ctx, cacheKey(name), data, s.cacheTTL); err != nil {
				slog.Debug("registry cache set failed", "worker", name, "error", err)
			}
		}
	}
	return entry, nil
}

func (s *RegistryService) lookup(ctx context.Context, name string) (worker.Entry, error) {
	dyn, err := s.store.GetWorker(ctx, name)
	if err == nil {
		return *dyn, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return worker.Entry{}, err
	}

	if w, ok := s.static[name]; ok {
		return worker.Entry{Name: w.Name, Endpoint: w.Endpoint, Credential: w.Credential}, nil
	}
	return worker.Entry{}, fmt.Errorf("worker %s: %w", name, domain.ErrNotFound)
}

// WorkingDir returns the configured default working directory for the
// given worker and project, or "".
func (s *RegistryService) WorkingDir(workerName, project string) string {
	w, ok := s.static[workerName]
	if !ok || project == "" {
		return ""
	}
	return w.WorkDirs[project]
}

// Register stores a dynamic registration and invalidates the cache entry.
func (s *RegistryService) Register(ctx context.Context, entry worker.Entry) error {
	if entry.Name == "" || entry.Endpoint == "" {
		return fmt.Errorf("worker name and endpoint are required: %w", domain.ErrValidation)
	}
	if err := s.store.UpsertWorker(ctx, entry); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cacheKey(entry.Name)); err != nil {
			slog.Debug("registry cache invalidate failed", "worker", entry.Name, "error", err)
		}
	}
	slog.Info("worker registered", "worker", entry.Name, "endpoint", entry.Endpoint)
	return nil
}

// List returns every known worker, dynamic registrations shadowing static
// config entries of the same name. Credentials never leave this layer.
func (s *RegistryService) List(ctx context.Context) ([]worker.Entry, error) {
	dyn, err := s.store.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(dyn))
	entries := make([]worker.Entry, 0, len(dyn)+len(s.static))
	for _, w := range dyn {
		seen[w.Name] = struct{}{}
		entries = append(entries, w)
	}
	for name, w := range s.static {
		if _, ok := seen[name]; ok {
			continue
		}
		entries = append(entries, worker.Entry{Name: w.Name, Endpoint: w.Endpoint, Credential: w.Credential})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
