package postgres

import (
	"context"
	"fmt"

	"github.com/switchboard-hq/switchboard/internal/port/worker"
)

// UpsertWorker records a dynamic registry entry, replacing any previous
// registration under the same name.
func (s *Store) UpsertWorker(ctx context.Context, w worker.Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO workers (name, endpoint, credential)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET endpoint = $2, credential = $3, registered_at = now()`,
		w.Name, w.Endpoint, w.Credential)
	if err != nil {
		return fmt.Errorf("upsert worker %s: %w", w.Name, err)
	}
	return nil
}

func (s *Store) GetWorker(ctx context.Context, name string) (*worker.Entry, error) {
	var w worker.Entry
	err := s.pool.QueryRow(ctx,
		`SELECT name, endpoint, credential FROM workers WHERE name = $1`, name).
		Scan(&w.Name, &w.Endpoint, &w.Credential)
	if err != nil {
		return nil, notFoundWrap(err, "get worker %s", name)
	}
	return &w, nil
}

func (s *Store) ListWorkers(ctx context.Context) ([]worker.Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, endpoint, credential FROM workers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var workers []worker.Entry
	for rows.Next() {
		var w worker.Entry
		if err := rows.Scan(&w.Name, &w.Endpoint, &w.Credential); err != nil {
			return nil, fmt.Errorf("list workers: %w", err)
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}
