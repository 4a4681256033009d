package reconciler

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/pairledger/pairledger/internal/models"
)

var participants = [2]string{"ana", "ben"}

// millis builds an epoch-millis timestamp for a UTC date.
func millis(year int, month time.Month, day int) int64 {
	return time.Date(year, month, day, 12, 0, 0, 0, time.UTC).UnixMilli()
}

func TestBalanceContributions(t *testing.T) {
	tests := []struct {
		name   string
		record models.Payment
		want   float64
	}{
		{
			name:   "total amount by participant 0 contributes half positive",
			record: models.Payment{ID: "r1", WhoPaid: "ana", Amount: 100, AmountKind: models.AmountTotal, PaymentDatetime: millis(2026, 1, 10)},
			want:   50,
		},
		{
			name:   "specific amount by participant 1 contributes full negative",
			record: models.Payment{ID: "r2", WhoPaid: "ben", Amount: 40, AmountKind: models.AmountSpecific, PaymentDatetime: millis(2026, 1, 11)},
			want:   -40,
		},
		{
			name:   "specific amount by participant 0 contributes full positive",
			record: models.Payment{ID: "r3", WhoPaid: "ana", Amount: 25, AmountKind: models.AmountSpecific, PaymentDatetime: millis(2026, 1, 12)},
			want:   25,
		},
		{
			name:   "total amount by participant 1 contributes half negative",
			record: models.Payment{ID: "r4", WhoPaid: "ben", Amount: 30, AmountKind: models.AmountTotal, PaymentDatetime: millis(2026, 1, 13)},
			want:   -15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary := Merge([]models.Payment{tt.record}, nil, participants)
			if math.Abs(summary.TotalBalance-tt.want) > 0.01 {
				t.Errorf("TotalBalance = %v, want %v", summary.TotalBalance, tt.want)
			}
		})
	}
}

func TestLocalRecordsDoNotAffectBalance(t *testing.T) {
	remote := []models.Payment{
		{ID: "r1", WhoPaid: "ana", Amount: 100, AmountKind: models.AmountTotal, PaymentDatetime: millis(2026, 2, 1)},
	}
	local := []models.Payment{
		{ID: "l1", WhoPaid: "ben", Amount: 999, AmountKind: models.AmountSpecific, PaymentDatetime: millis(2026, 2, 2)},
	}

	summary := Merge(remote, local, participants)

	if math.Abs(summary.TotalBalance-50) > 0.01 {
		t.Errorf("TotalBalance = %v, want 50 (local pending must not count)", summary.TotalBalance)
	}
	// But the pending record is still displayed.
	if len(summary.Months) != 1 || len(summary.Months[0].Records) != 2 {
		t.Fatalf("display set = %+v", summary.Months)
	}
	if math.Abs(summary.Months[0].Balance-50) > 0.01 {
		t.Errorf("bucket balance = %v, want 50", summary.Months[0].Balance)
	}
}

func TestDedupRemoteWins(t *testing.T) {
	remote := []models.Payment{
		{ID: "x", Title: "remote copy", WhoPaid: "ana", Amount: 20, AmountKind: models.AmountSpecific, PaymentDatetime: millis(2026, 3, 1)},
	}
	local := []models.Payment{
		{ID: "x", Title: "stale local copy", WhoPaid: "ana", Amount: 20, AmountKind: models.AmountSpecific, PaymentDatetime: millis(2026, 3, 1)},
		{ID: "y", Title: "still pending", WhoPaid: "ben", Amount: 5, AmountKind: models.AmountSpecific, PaymentDatetime: millis(2026, 3, 2)},
	}

	summary := Merge(remote, local, participants)

	var all []models.Payment
	for _, m := range summary.Months {
		all = append(all, m.Records...)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 records after dedup, got %d", len(all))
	}
	seen := 0
	for _, p := range all {
		if p.ID == "x" {
			seen++
			if p.Title != "remote copy" {
				t.Errorf("duplicate resolved to %q, want the remote copy", p.Title)
			}
		}
	}
	if seen != 1 {
		t.Errorf("id x appears %d times, want 1", seen)
	}
}

func TestMonthGrouping(t *testing.T) {
	remote := []models.Payment{
		{ID: "jan-old", WhoPaid: "ana", Amount: 10, AmountKind: models.AmountSpecific, PaymentDatetime: millis(2026, 1, 5)},
		{ID: "jan-new", WhoPaid: "ben", Amount: 20, AmountKind: models.AmountSpecific, PaymentDatetime: millis(2026, 1, 20)},
		{ID: "mar", WhoPaid: "ana", Amount: 30, AmountKind: models.AmountSpecific, PaymentDatetime: millis(2026, 3, 2)},
	}

	summary := Merge(remote, nil, participants)

	if len(summary.Months) != 2 {
		t.Fatalf("Expected 2 buckets, got %d", len(summary.Months))
	}

	// March bucket first (most recent record), January second.
	if summary.Months[0].Month != time.March || summary.Months[0].Year != 2026 {
		t.Errorf("first bucket = %v %d", summary.Months[0].Month, summary.Months[0].Year)
	}
	if summary.Months[1].Month != time.January {
		t.Errorf("second bucket = %v", summary.Months[1].Month)
	}

	// Within January: newest first.
	jan := summary.Months[1]
	if jan.Records[0].ID != "jan-new" || jan.Records[1].ID != "jan-old" {
		t.Errorf("january order = [%s %s], want [jan-new jan-old]", jan.Records[0].ID, jan.Records[1].ID)
	}

	// Per-bucket balances: jan = +10 - 20 = -10, mar = +30.
	if math.Abs(jan.Balance-(-10)) > 0.01 {
		t.Errorf("january balance = %v, want -10", jan.Balance)
	}
	if math.Abs(summary.Months[0].Balance-30) > 0.01 {
		t.Errorf("march balance = %v, want 30", summary.Months[0].Balance)
	}
	if math.Abs(summary.TotalBalance-20) > 0.01 {
		t.Errorf("TotalBalance = %v, want 20", summary.TotalBalance)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	remote := []models.Payment{
		{ID: "r1", WhoPaid: "ana", Amount: 100, AmountKind: models.AmountTotal, PaymentDatetime: millis(2026, 4, 1)},
		{ID: "r2", WhoPaid: "ben", Amount: 40, AmountKind: models.AmountSpecific, PaymentDatetime: millis(2026, 4, 1)},
		{ID: "r3", WhoPaid: "ben", Amount: 12, AmountKind: models.AmountTotal, PaymentDatetime: millis(2026, 5, 9)},
	}
	local := []models.Payment{
		{ID: "r2", WhoPaid: "ben", Amount: 40, AmountKind: models.AmountSpecific, PaymentDatetime: millis(2026, 4, 1)},
		{ID: "l1", WhoPaid: "ana", Amount: 7, AmountKind: models.AmountSpecific, PaymentDatetime: millis(2026, 5, 10)},
	}

	first := Merge(remote, local, participants)
	second := Merge(remote, local, participants)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Merge is not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	remote := []models.Payment{
		{ID: "b", WhoPaid: "ana", Amount: 1, AmountKind: models.AmountSpecific, PaymentDatetime: millis(2026, 6, 1)},
		{ID: "a", WhoPaid: "ana", Amount: 2, AmountKind: models.AmountSpecific, PaymentDatetime: millis(2026, 6, 2)},
	}
	local := []models.Payment{
		{ID: "c", WhoPaid: "ben", Amount: 3, AmountKind: models.AmountSpecific, PaymentDatetime: millis(2026, 6, 3)},
	}
	remoteCopy := append([]models.Payment(nil), remote...)
	localCopy := append([]models.Payment(nil), local...)

	Merge(remote, local, participants)

	if !reflect.DeepEqual(remote, remoteCopy) {
		t.Errorf("remote input mutated: %+v", remote)
	}
	if !reflect.DeepEqual(local, localCopy) {
		t.Errorf("local input mutated: %+v", local)
	}
}

func TestMergeEmptyInputs(t *testing.T) {
	summary := Merge(nil, nil, participants)
	if summary.TotalBalance != 0 {
		t.Errorf("TotalBalance = %v, want 0", summary.TotalBalance)
	}
	if len(summary.Months) != 0 {
		t.Errorf("Months = %+v, want empty", summary.Months)
	}
}
