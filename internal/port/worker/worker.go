// Package worker defines the ports for resolving and calling remote
// execution workers.
package worker

import "context"

// Entry is a registered worker: where to reach it and what credential to
// present. Dynamic registrations take precedence over static config.
type Entry struct {
	Name       string `json:"name"`
	Endpoint   string `json:"endpoint"`
	Credential string `json:"-"`
}

// Registry resolves worker identities to endpoints and credentials.
type Registry interface {
	// Resolve returns the entry for the named worker, or domain.ErrNotFound.
	Resolve(ctx context.Context, name string) (Entry, error)

	// WorkingDir returns the default working directory for the given
	// worker and project, or "" when none is configured.
	WorkingDir(workerName, project string) string
}

// ExecuteRequest is the payload dispatched to a worker endpoint.
type ExecuteRequest struct {
	Prompt     string `json:"prompt"`
	TaskID     int64  `json:"task_id"`
	Subject    string `json:"subject"`
	SenderName string `json:"sender_name"`
	WorkingDir string `json:"working_dir,omitempty"`
	MaxTurns   *int   `json:"max_turns,omitempty"`
}

// Endpoint is the outbound client port for worker endpoints. Both calls
// are best-effort: non-2xx and transport errors come back wrapped in
// domain.ErrDispatch, never as panics or unhandled failures.
type Endpoint interface {
	// Execute POSTs the prompt to {endpoint}/tasks/execute.
	Execute(ctx context.Context, endpoint, credential string, req ExecuteRequest) error

	// Kill POSTs to {endpoint}/tasks/{id}/kill and returns the worker's
	// response body (or an error describing its unreachability).
	Kill(ctx context.Context, endpoint, credential string, taskID int64) (string, error)
}
