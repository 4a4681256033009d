// Package storage provides abstractions for the engine's durable state.
package storage

import (
	"context"

	"github.com/pairledger/pairledger/internal/models"
)

// Store defines the interface for the durable record store.
// This abstraction allows swapping storage backends (SQLite, flat files,
// platform key-value stores) without changing the engine.
//
// Every mutating operation re-serializes the full collection under one
// storage key (read-modify-write); implementations must make each call
// atomic so a list-then-save sequence never races with a concurrent write
// from the same process. Concurrent writers across processes are out of
// scope.
type Store interface {
	// SavePayment persists a locally created payment in pending state.
	// An identifier is assigned if absent; the payment is updated in place.
	SavePayment(ctx context.Context, p *models.Payment) error

	// ListPayments returns all locally pending payments. Timestamps are
	// always integral epoch milliseconds, even if a record was persisted
	// with a string-encoded timestamp.
	ListPayments(ctx context.Context) ([]models.Payment, error)

	// UpdatePayment merges the patch into the pending payment with the
	// given id. Returns an error if no such payment exists.
	UpdatePayment(ctx context.Context, id string, patch models.PaymentPatch) error

	// DeletePayment removes the pending payment with the given id.
	// Deleting a missing id is a no-op.
	DeletePayment(ctx context.Context, id string) error

	// ClearPayments empties the pending payment set.
	ClearPayments(ctx context.Context) error

	// Queue returns the persisted upload queue, oldest first.
	Queue(ctx context.Context) ([]string, error)

	// PutQueue replaces the persisted upload queue.
	PutQueue(ctx context.Context, ids []string) error

	// RetryStatus returns the persisted retry-status map.
	RetryStatus(ctx context.Context) (map[string]bool, error)

	// PutRetryStatus replaces the persisted retry-status map.
	PutRetryStatus(ctx context.Context, status map[string]bool) error

	// AppendHistory appends one upload attempt record. History is
	// append-only; implementations may cap its length by dropping the
	// oldest entries.
	AppendHistory(ctx context.Context, entry models.HistoryEntry) error

	// History returns the upload history, oldest first.
	History(ctx context.Context) ([]models.HistoryEntry, error)

	// SaveSnapshot persists the last-known remote record set.
	SaveSnapshot(ctx context.Context, snap models.RemoteSnapshot) error

	// Snapshot returns the last-known remote record set, or a zero
	// snapshot if none was ever saved.
	Snapshot(ctx context.Context) (models.RemoteSnapshot, error)

	// Close releases any resources held by the store.
	Close() error
}
