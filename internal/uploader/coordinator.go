// Package uploader owns the upload queue and the retry state machine.
//
// Lifecycle of a record: pending → uploading → uploaded (deleted locally)
// or failed → queued → pending. At most one record may be uploading at any
// instant, system-wide; the coordinator enforces this single-flight gate
// around every state transition with one mutex, treating each
// read-check-write of queue and retry-status as one logical step.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pairledger/pairledger/internal/bus"
	"github.com/pairledger/pairledger/internal/metrics"
	"github.com/pairledger/pairledger/internal/models"
	"github.com/pairledger/pairledger/internal/remote"
	"github.com/pairledger/pairledger/internal/storage"
)

// ErrUploadInFlight is returned when an upload is rejected because another
// record is currently uploading. Manual uploads surface this to the user;
// background callers treat it as a benign skip.
var ErrUploadInFlight = errors.New("another upload is in flight")

// errAlreadyUploading signals that the requested record itself is already
// in flight, which callers treat as a no-op.
var errAlreadyUploading = errors.New("record is already uploading")

// ErrRecordNotFound is returned by ManualUpload for an unknown identifier.
var ErrRecordNotFound = errors.New("record not found")

// Coordinator decides which one locally pending record (if any) may be
// uploading, tracks records queued for retry, and records outcome history.
type Coordinator struct {
	// mu serializes all queue and retry-status transitions.
	mu sync.Mutex

	store         storage.Store
	client        *remote.Client
	bus           *bus.Bus
	createTimeout time.Duration
	now           func() time.Time
}

// New creates a coordinator. createTimeout bounds each create call; zero
// uses the client default.
func New(store storage.Store, client *remote.Client, b *bus.Bus, createTimeout time.Duration) *Coordinator {
	return &Coordinator{
		store:         store,
		client:        client,
		bus:           b,
		createTimeout: createTimeout,
		now:           time.Now,
	}
}

// Enqueue appends the identifier to the tail of the upload queue if it is
// not already present. A record that is currently uploading is never
// queued.
func (c *Coordinator) Enqueue(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueueLocked(ctx, id)
}

func (c *Coordinator) enqueueLocked(ctx context.Context, id string) error {
	status, err := c.store.RetryStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read retry status: %w", err)
	}
	if status[id] {
		return nil
	}

	queue, err := c.store.Queue(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}
	for _, queued := range queue {
		if queued == id {
			return nil
		}
	}

	queue = append(queue, id)
	if err := c.store.PutQueue(ctx, queue); err != nil {
		return fmt.Errorf("failed to persist queue: %w", err)
	}
	metrics.QueueDepth.Set(float64(len(queue)))
	return nil
}

// DequeueNext returns the head of the queue, but only when no record has
// retry-status true anywhere. On success the identifier is atomically
// removed from the queue and marked as uploading.
func (c *Coordinator) DequeueNext(ctx context.Context) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, err := c.store.RetryStatus(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to read retry status: %w", err)
	}
	for _, inFlight := range status {
		if inFlight {
			return "", false, nil
		}
	}

	queue, err := c.store.Queue(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to read queue: %w", err)
	}
	if len(queue) == 0 {
		return "", false, nil
	}

	// Mark in-flight before shortening the queue so a storage failure in
	// between never strands the record outside both structures: either it
	// is still queued, or it is flagged and ReleaseInFlight re-queues it.
	id := queue[0]
	status[id] = true
	if err := c.store.PutRetryStatus(ctx, status); err != nil {
		return "", false, fmt.Errorf("failed to persist retry status: %w", err)
	}
	if err := c.store.PutQueue(ctx, queue[1:]); err != nil {
		status[id] = false
		if clearErr := c.store.PutRetryStatus(ctx, status); clearErr != nil {
			slog.Error("Failed to roll back retry status", "record_id", id, "error", clearErr)
		}
		return "", false, fmt.Errorf("failed to persist queue: %w", err)
	}
	metrics.QueueDepth.Set(float64(len(queue) - 1))
	return id, true, nil
}

// DrainOne dequeues the next record through the single-flight gate and
// attempts its upload. A queue entry whose record no longer exists locally
// is dropped.
func (c *Coordinator) DrainOne(ctx context.Context) error {
	id, ok, err := c.DequeueNext(ctx)
	if err != nil || !ok {
		return err
	}

	rec, found, err := c.findPayment(ctx, id)
	if err != nil {
		c.release(ctx, id)
		return err
	}
	if !found {
		slog.Debug("Dropping stale queue entry", "record_id", id)
		c.release(ctx, id)
		return nil
	}

	return c.attempt(ctx, rec)
}

// AttemptUpload uploads one record, acquiring its in-flight flag first.
// If the record is already uploading from a different concurrent caller
// the call is a no-op.
func (c *Coordinator) AttemptUpload(ctx context.Context, rec models.Payment) error {
	switch err := c.acquire(ctx, rec.ID); {
	case errors.Is(err, errAlreadyUploading):
		slog.Debug("Skipping upload, record already in flight", "record_id", rec.ID)
		return nil
	case err != nil:
		return err
	}
	return c.attempt(ctx, rec)
}

// ManualUpload is the user-triggered path: it bypasses queue ordering but
// still obeys the single-flight gate, returning ErrUploadInFlight when any
// upload is in progress.
func (c *Coordinator) ManualUpload(ctx context.Context, id string) error {
	rec, found, err := c.findPayment(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}

	switch err := c.acquire(ctx, id); {
	case errors.Is(err, errAlreadyUploading), errors.Is(err, ErrUploadInFlight):
		metrics.UploadConflicts.Inc()
		slog.Info("Manual upload rejected, another upload in flight", "record_id", id)
		return ErrUploadInFlight
	case err != nil:
		return err
	}
	return c.attempt(ctx, rec)
}

// ReleaseInFlight clears every in-flight flag and re-enqueues those records
// so a future wake cycle can resume them. Called on background suspend so
// no record is ever left permanently in uploading state.
func (c *Coordinator) ReleaseInFlight(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, err := c.store.RetryStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read retry status: %w", err)
	}

	var released []string
	for id, inFlight := range status {
		if inFlight {
			released = append(released, id)
			status[id] = false
		}
	}
	if len(released) == 0 {
		return nil, nil
	}

	if err := c.store.PutRetryStatus(ctx, status); err != nil {
		return nil, fmt.Errorf("failed to persist retry status: %w", err)
	}
	for _, id := range released {
		if err := c.enqueueLocked(ctx, id); err != nil {
			return released, err
		}
	}
	slog.Info("Released in-flight records", "record_ids", released)
	return released, nil
}

// acquire marks id as uploading. Returns errAlreadyUploading if the record
// is already in flight, ErrUploadInFlight if a different record is.
func (c *Coordinator) acquire(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, err := c.store.RetryStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read retry status: %w", err)
	}
	if status[id] {
		return errAlreadyUploading
	}
	for _, inFlight := range status {
		if inFlight {
			return ErrUploadInFlight
		}
	}

	status[id] = true
	if err := c.store.PutRetryStatus(ctx, status); err != nil {
		return fmt.Errorf("failed to persist retry status: %w", err)
	}

	// Keep the queue invariant: a record never sits in the queue while it
	// is the one uploading.
	queue, err := c.store.Queue(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}
	kept := queue[:0]
	for _, queued := range queue {
		if queued != id {
			kept = append(kept, queued)
		}
	}
	if len(kept) != len(queue) {
		if err := c.store.PutQueue(ctx, kept); err != nil {
			return fmt.Errorf("failed to persist queue: %w", err)
		}
		metrics.QueueDepth.Set(float64(len(kept)))
	}
	return nil
}

// release clears the in-flight flag for id without re-queueing.
func (c *Coordinator) release(ctx context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, err := c.store.RetryStatus(ctx)
	if err != nil {
		slog.Error("Failed to read retry status during release", "record_id", id, "error", err)
		return
	}
	status[id] = false
	if err := c.store.PutRetryStatus(ctx, status); err != nil {
		slog.Error("Failed to clear retry status", "record_id", id, "error", err)
	}
}

// attempt performs one upload for a record whose in-flight flag is held.
// On success the record is deleted locally and observers are notified; on
// failure the record is re-queued at the tail and a history entry records
// the error.
func (c *Coordinator) attempt(ctx context.Context, rec models.Payment) error {
	created, err := c.client.Create(ctx, rec, c.createTimeout)
	if err != nil {
		c.mu.Lock()
		c.clearStatusLocked(ctx, rec.ID)
		if enqErr := c.enqueueLocked(ctx, rec.ID); enqErr != nil {
			slog.Error("Failed to re-enqueue after failed upload", "record_id", rec.ID, "error", enqErr)
		}
		c.mu.Unlock()

		c.appendHistory(ctx, rec, models.OutcomeFailed, err.Error())
		metrics.UploadAttempts.WithLabelValues("failed").Inc()
		slog.Warn("Upload failed, record re-queued", "record_id", rec.ID, "error", err)
		return err
	}

	if err := c.store.DeletePayment(ctx, rec.ID); err != nil {
		// The record now exists remotely; the local copy will be dropped
		// by dedup until a later delete succeeds.
		slog.Error("Failed to delete uploaded record locally", "record_id", rec.ID, "error", err)
	}

	c.mu.Lock()
	c.clearStatusLocked(ctx, rec.ID)
	c.mu.Unlock()

	c.appendHistory(ctx, rec, models.OutcomeSuccess, "")
	metrics.UploadAttempts.WithLabelValues("success").Inc()
	slog.Info("Record uploaded", "record_id", rec.ID, "remote_id", created.ID)
	c.bus.Publish(bus.TopicRecordsChanged)
	return nil
}

func (c *Coordinator) clearStatusLocked(ctx context.Context, id string) {
	status, err := c.store.RetryStatus(ctx)
	if err != nil {
		slog.Error("Failed to read retry status", "record_id", id, "error", err)
		return
	}
	status[id] = false
	if err := c.store.PutRetryStatus(ctx, status); err != nil {
		slog.Error("Failed to clear retry status", "record_id", id, "error", err)
	}
}

func (c *Coordinator) appendHistory(ctx context.Context, rec models.Payment, outcome models.UploadOutcome, detail string) {
	entry := models.HistoryEntry{
		RecordID:        rec.ID,
		AttemptedAt:     c.now().UnixMilli(),
		PaymentDatetime: rec.PaymentDatetime,
		Title:           rec.Title,
		Amount:          rec.Amount,
		Outcome:         outcome,
		Error:           detail,
	}
	if err := c.store.AppendHistory(ctx, entry); err != nil {
		// History is observability only; losing an entry never affects
		// the retry state machine.
		slog.Error("Failed to append history entry", "record_id", rec.ID, "error", err)
	}
}

func (c *Coordinator) findPayment(ctx context.Context, id string) (models.Payment, bool, error) {
	payments, err := c.store.ListPayments(ctx)
	if err != nil {
		return models.Payment{}, false, fmt.Errorf("failed to list payments: %w", err)
	}
	for _, p := range payments {
		if p.ID == id {
			return p, true, nil
		}
	}
	return models.Payment{}, false, nil
}
