// Package store persists cash requests. Postgres is the production backend;
// Memory has identical semantics and backs tests and local runs.
package store

import "errors"

var (
	ErrNotFound           = errors.New("store: request not found")
	ErrDuplicateReference = errors.New("store: reference already taken")
	ErrLiveCancellation   = errors.New("store: original already has a live cancellation")
	ErrStatusMismatch     = errors.New("store: stored status differs from expected")
)
