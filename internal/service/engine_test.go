package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pairledger/pairledger/internal/bus"
	"github.com/pairledger/pairledger/internal/models"
	"github.com/pairledger/pairledger/internal/remote"
	"github.com/pairledger/pairledger/internal/storage/sqlite"
	"github.com/pairledger/pairledger/internal/uploader"
)

const tolerance = 0.01

// fakeLedger serves the remote ledger API from an in-memory record list.
type fakeLedger struct {
	mu      sync.Mutex
	down    bool
	records []models.Payment
	deleted []string
}

func (f *fakeLedger) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeLedger) add(p models.Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, p)
}

func (f *fakeLedger) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if f.down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		switch {
		case r.Method == http.MethodGet:
			raws := make([]json.RawMessage, 0, len(f.records))
			for _, p := range f.records {
				b, _ := json.Marshal(p)
				raws = append(raws, b)
			}
			json.NewEncoder(w).Encode(map[string]any{"records": raws})
		case r.Method == http.MethodPost:
			var p models.Payment
			_ = json.NewDecoder(r.Body).Decode(&p)
			f.records = append(f.records, p)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(p)
		case r.Method == http.MethodDelete:
			f.deleted = append(f.deleted, filepath.Base(r.URL.Path))
			w.WriteHeader(http.StatusNoContent)
		}
	})
}

func newTestEngine(t *testing.T) (*Engine, *fakeLedger) {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ledger := &fakeLedger{}
	server := httptest.NewServer(ledger.handler())
	t.Cleanup(server.Close)

	client := remote.NewClient(server.URL)
	b := bus.New()
	coord := uploader.New(store, client, b, time.Second)
	return New(store, client, coord, b, [2]string{"ana", "ben"}), ledger
}

func TestCreateRecordValidation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		payment models.Payment
		wantErr error
	}{
		{
			name:    "unknown payer",
			payment: models.Payment{Title: "Rent", WhoPaid: "carl", Amount: 100, AmountKind: models.AmountTotal},
			wantErr: ErrUnknownPayer,
		},
		{
			name:    "zero amount",
			payment: models.Payment{Title: "Rent", WhoPaid: "ana", Amount: 0, AmountKind: models.AmountTotal},
			wantErr: ErrNonPositiveAmount,
		},
		{
			name:    "negative amount",
			payment: models.Payment{Title: "Rent", WhoPaid: "ana", Amount: -5, AmountKind: models.AmountTotal},
			wantErr: ErrNonPositiveAmount,
		},
		{
			name:    "bad amount kind",
			payment: models.Payment{Title: "Rent", WhoPaid: "ana", Amount: 100, AmountKind: "half"},
			wantErr: ErrBadAmountKind,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.CreateRecord(ctx, tt.payment)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateRecord = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateRecordPersistsAndQueues(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	notified := 0
	eng.Subscribe(func() { notified++ })

	created, err := eng.CreateRecord(ctx, models.Payment{
		Title: "Groceries", WhoPaid: "ana", Amount: 42.5, AmountKind: models.AmountTotal,
	})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	if created.ID == "" {
		t.Error("created record has no identifier")
	}
	if created.PaymentDatetime == 0 {
		t.Error("created record has no timestamp")
	}
	if notified != 1 {
		t.Errorf("notified = %d, want 1", notified)
	}

	pending, err := eng.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != created.ID {
		t.Errorf("pending = %v, want the created record", pending)
	}

	queue, _ := eng.store.Queue(ctx)
	if len(queue) != 1 || queue[0] != created.ID {
		t.Errorf("queue = %v, want [%s]", queue, created.ID)
	}
}

func TestUpdateRecordPatchesPending(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := eng.CreateRecord(ctx, models.Payment{
		Title: "Dinner", WhoPaid: "ana", Amount: 30, AmountKind: models.AmountTotal,
	})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	amount := 35.0
	title := "Dinner out"
	if err := eng.UpdateRecord(ctx, created.ID, models.PaymentPatch{Amount: &amount, Title: &title}); err != nil {
		t.Fatalf("UpdateRecord failed: %v", err)
	}

	pending, _ := eng.ListPending(ctx)
	if pending[0].Amount != 35 || pending[0].Title != "Dinner out" {
		t.Errorf("patched record = %+v", pending[0])
	}

	bad := -1.0
	if err := eng.UpdateRecord(ctx, created.ID, models.PaymentPatch{Amount: &bad}); !errors.Is(err, ErrNonPositiveAmount) {
		t.Errorf("UpdateRecord with negative amount = %v, want ErrNonPositiveAmount", err)
	}
	payer := "carl"
	if err := eng.UpdateRecord(ctx, created.ID, models.PaymentPatch{WhoPaid: &payer}); !errors.Is(err, ErrUnknownPayer) {
		t.Errorf("UpdateRecord with unknown payer = %v, want ErrUnknownPayer", err)
	}
}

func TestRefreshStoresSnapshot(t *testing.T) {
	eng, ledger := newTestEngine(t)
	ctx := context.Background()

	ledger.add(models.Payment{ID: "r1", Title: "Rent", WhoPaid: "ana", Amount: 800, AmountKind: models.AmountTotal, PaymentDatetime: 1700000000000})

	snap, err := eng.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(snap.Records) != 1 || snap.Records[0].ID != "r1" {
		t.Errorf("snapshot records = %v, want [r1]", snap.Records)
	}
	if snap.FetchedAt == 0 {
		t.Error("snapshot has no fetch timestamp")
	}

	stored, err := eng.store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(stored.Records) != 1 {
		t.Errorf("persisted snapshot records = %d, want 1", len(stored.Records))
	}
}

func TestOverviewWorksOfflineFromLastSnapshot(t *testing.T) {
	eng, ledger := newTestEngine(t)
	ctx := context.Background()

	ledger.add(models.Payment{ID: "r1", Title: "Rent", WhoPaid: "ana", Amount: 800, AmountKind: models.AmountTotal, PaymentDatetime: 1700000000000})
	if _, err := eng.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// The ledger goes away; Overview still answers from the snapshot.
	ledger.setDown(true)
	if _, err := eng.Refresh(ctx); err == nil {
		t.Fatal("Refresh should fail while the ledger is down")
	}

	summary, err := eng.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview failed: %v", err)
	}
	if math.Abs(summary.TotalBalance-400) > tolerance {
		t.Errorf("TotalBalance = %v, want 400", summary.TotalBalance)
	}
}

func TestOverviewIncludesPendingWithoutBalance(t *testing.T) {
	eng, ledger := newTestEngine(t)
	ctx := context.Background()

	ledger.add(models.Payment{ID: "r1", Title: "Rent", WhoPaid: "ana", Amount: 800, AmountKind: models.AmountTotal, PaymentDatetime: 1700000000000})
	if _, err := eng.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	ledger.setDown(true)
	if _, err := eng.CreateRecord(ctx, models.Payment{
		Title: "Groceries", WhoPaid: "ben", Amount: 60, AmountKind: models.AmountTotal, PaymentDatetime: 1700000100000,
	}); err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	summary, err := eng.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview failed: %v", err)
	}

	var shown int
	for _, m := range summary.Months {
		shown += len(m.Records)
	}
	if shown != 2 {
		t.Errorf("displayed records = %d, want 2 (remote + pending)", shown)
	}
	// The pending record must not move the balance until confirmed remotely.
	if math.Abs(summary.TotalBalance-400) > tolerance {
		t.Errorf("TotalBalance = %v, want 400", summary.TotalBalance)
	}
}

func TestDeleteRemoteNotifies(t *testing.T) {
	eng, ledger := newTestEngine(t)
	ctx := context.Background()

	notified := 0
	eng.Subscribe(func() { notified++ })

	if err := eng.DeleteRemote(ctx, "r1"); err != nil {
		t.Fatalf("DeleteRemote failed: %v", err)
	}
	if len(ledger.deleted) != 1 || ledger.deleted[0] != "r1" {
		t.Errorf("deleted = %v, want [r1]", ledger.deleted)
	}
	if notified != 1 {
		t.Errorf("notified = %d, want 1", notified)
	}
}

func TestManualUploadSyncsThenRefreshMovesBalance(t *testing.T) {
	eng, ledger := newTestEngine(t)
	ctx := context.Background()

	created, err := eng.CreateRecord(ctx, models.Payment{
		Title: "Cinema", WhoPaid: "ana", Amount: 24, AmountKind: models.AmountTotal,
	})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	if err := eng.ManualUpload(ctx, created.ID); err != nil {
		t.Fatalf("ManualUpload failed: %v", err)
	}

	pending, _ := eng.ListPending(ctx)
	if len(pending) != 0 {
		t.Errorf("pending = %v, want empty after upload", pending)
	}
	if len(ledger.records) != 1 {
		t.Fatalf("ledger records = %d, want 1", len(ledger.records))
	}

	if _, err := eng.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	summary, err := eng.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview failed: %v", err)
	}
	if math.Abs(summary.TotalBalance-12) > tolerance {
		t.Errorf("TotalBalance = %v, want 12", summary.TotalBalance)
	}

	history, err := eng.History(ctx)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 || history[0].Outcome != models.OutcomeSuccess {
		t.Errorf("history = %+v, want one success entry", history)
	}
}
