// Package service wires the engine components into one explicitly
// constructed object with a defined initialization and teardown lifecycle.
// The UI layer talks to the Engine; nothing in the engine is a module-level
// global.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pairledger/pairledger/internal/bus"
	"github.com/pairledger/pairledger/internal/metrics"
	"github.com/pairledger/pairledger/internal/models"
	"github.com/pairledger/pairledger/internal/reconciler"
	"github.com/pairledger/pairledger/internal/remote"
	"github.com/pairledger/pairledger/internal/storage"
	"github.com/pairledger/pairledger/internal/uploader"
)

var (
	// ErrUnknownPayer is returned when a record names a payer that is not
	// one of the two configured participants.
	ErrUnknownPayer = errors.New("payer is not a configured participant")

	// ErrNonPositiveAmount is returned for a zero or negative amount.
	ErrNonPositiveAmount = errors.New("amount must be positive")

	// ErrBadAmountKind is returned for an amount kind other than total or
	// specific.
	ErrBadAmountKind = errors.New("amount kind must be total or specific")
)

// Engine owns the engine components and exposes the operations the UI
// layer consumes.
type Engine struct {
	store        storage.Store
	client       *remote.Client
	coord        *uploader.Coordinator
	bus          *bus.Bus
	participants [2]string
	now          func() time.Time
}

// New constructs the engine. The caller owns the store's lifetime via
// Engine.Close.
func New(store storage.Store, client *remote.Client, coord *uploader.Coordinator, b *bus.Bus, participants [2]string) *Engine {
	return &Engine{
		store:        store,
		client:       client,
		coord:        coord,
		bus:          b,
		participants: participants,
		now:          time.Now,
	}
}

// CreateRecord validates and persists a new payment in pending state,
// queues it for upload, and notifies observers.
func (e *Engine) CreateRecord(ctx context.Context, p models.Payment) (models.Payment, error) {
	if err := e.validate(p); err != nil {
		return models.Payment{}, err
	}

	if err := e.store.SavePayment(ctx, &p); err != nil {
		return models.Payment{}, fmt.Errorf("failed to persist record: %w", err)
	}
	if err := e.coord.Enqueue(ctx, p.ID); err != nil {
		// The record is saved; a later scheduler pass will pick it up once
		// the queue write succeeds again.
		slog.Error("Failed to enqueue new record", "record_id", p.ID, "error", err)
	}

	slog.Info("Record created", "record_id", p.ID, "who_paid", p.WhoPaid, "amount", p.Amount)
	e.bus.Publish(bus.TopicRecordsChanged)
	return p, nil
}

// UpdateRecord merges a correction into a still-pending record. This path
// only exists before the first successful upload; once a record is remote
// it is the source of truth.
func (e *Engine) UpdateRecord(ctx context.Context, id string, patch models.PaymentPatch) error {
	if patch.Amount != nil && *patch.Amount <= 0 {
		return ErrNonPositiveAmount
	}
	if patch.WhoPaid != nil && *patch.WhoPaid != e.participants[0] && *patch.WhoPaid != e.participants[1] {
		return ErrUnknownPayer
	}
	if patch.AmountKind != nil && *patch.AmountKind != models.AmountTotal && *patch.AmountKind != models.AmountSpecific {
		return ErrBadAmountKind
	}

	if err := e.store.UpdatePayment(ctx, id, patch); err != nil {
		return err
	}
	e.bus.Publish(bus.TopicRecordsChanged)
	return nil
}

// ListPending returns all locally pending records.
func (e *Engine) ListPending(ctx context.Context) ([]models.Payment, error) {
	return e.store.ListPayments(ctx)
}

// Refresh fetches the remote record set and persists it as the last-known
// snapshot. Observers are notified on success.
func (e *Engine) Refresh(ctx context.Context) (models.RemoteSnapshot, error) {
	records, err := e.client.List(ctx)
	if err != nil {
		metrics.RemoteFetches.WithLabelValues("failed").Inc()
		return models.RemoteSnapshot{}, fmt.Errorf("failed to fetch remote records: %w", err)
	}

	snap := models.RemoteSnapshot{Records: records, FetchedAt: e.now().UnixMilli()}
	if err := e.store.SaveSnapshot(ctx, snap); err != nil {
		slog.Error("Failed to persist remote snapshot", "error", err)
	}
	metrics.RemoteFetches.WithLabelValues("success").Inc()
	e.bus.Publish(bus.TopicRecordsChanged)
	return snap, nil
}

// Overview merges the last-known remote snapshot with the locally pending
// records into the display model. It performs no network calls, so it works
// offline; call Refresh first for current data.
func (e *Engine) Overview(ctx context.Context) (reconciler.Summary, error) {
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return reconciler.Summary{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	local, err := e.store.ListPayments(ctx)
	if err != nil {
		return reconciler.Summary{}, fmt.Errorf("failed to list pending records: %w", err)
	}
	return reconciler.Merge(snap.Records, local, e.participants), nil
}

// ManualUpload uploads one specific pending record on user request. It
// returns uploader.ErrUploadInFlight when another upload is in progress so
// the UI can show a rejection.
func (e *Engine) ManualUpload(ctx context.Context, id string) error {
	return e.coord.ManualUpload(ctx, id)
}

// DeleteRemote removes a record from the remote ledger and notifies
// observers. The snapshot catches up on the next Refresh.
func (e *Engine) DeleteRemote(ctx context.Context, id string) error {
	if err := e.client.Delete(ctx, id); err != nil {
		return err
	}
	e.bus.Publish(bus.TopicRecordsChanged)
	return nil
}

// History returns the upload attempt log, oldest first.
func (e *Engine) History(ctx context.Context) ([]models.HistoryEntry, error) {
	return e.store.History(ctx)
}

// Subscribe registers an observer for record-set changes and returns its
// unsubscribe function.
func (e *Engine) Subscribe(h bus.Handler) func() {
	return e.bus.Subscribe(bus.TopicRecordsChanged, h)
}

// Close releases the engine's resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

func (e *Engine) validate(p models.Payment) error {
	if p.WhoPaid != e.participants[0] && p.WhoPaid != e.participants[1] {
		return fmt.Errorf("%w: %q", ErrUnknownPayer, p.WhoPaid)
	}
	if p.Amount <= 0 {
		return ErrNonPositiveAmount
	}
	if p.AmountKind != models.AmountTotal && p.AmountKind != models.AmountSpecific {
		return fmt.Errorf("%w: %q", ErrBadAmountKind, p.AmountKind)
	}
	return nil
}
