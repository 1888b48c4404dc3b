// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates a request failed input validation.
var ErrValidation = errors.New("validation failed")

// ErrInvalidParent indicates a referenced parent task does not exist.
var ErrInvalidParent = errors.New("invalid parent task")

// ErrInvalidBlocker indicates a referenced blocking task does not exist.
var ErrInvalidBlocker = errors.New("invalid blocking task")

// ErrCrossTreeJoin indicates a multi-parent creation spans more than one tree.
var ErrCrossTreeJoin = errors.New("parents belong to different trees")

// ErrCycle indicates a reparent would make a task its own ancestor.
var ErrCycle = errors.New("reparent would create a cycle")

// ErrTerminalState indicates a status change on an already-terminal task.
var ErrTerminalState = errors.New("task is in a terminal state")

// ErrForbidden indicates the caller lacks authority over the entity.
var ErrForbidden = errors.New("forbidden")

// ErrDispatch indicates a worker dispatch failed: unreachable endpoint,
// missing credential, or a non-success response. Dispatch failures are
// recovered locally (the affected task is failed with the reason recorded),
// never surfaced as request errors.
var ErrDispatch = errors.New("dispatch failed")
