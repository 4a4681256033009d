// Package reconciler merges the authoritative remote record set with
// locally pending records into one de-duplicated, time-ordered view with
// balance aggregates.
//
// Merge is a pure function: the same two input lists always produce the
// same output, and the inputs are never mutated.
package reconciler

import (
	"sort"
	"time"

	"github.com/pairledger/pairledger/internal/models"
)

// MonthGroup is one calendar month-year bucket of the merged view.
type MonthGroup struct {
	// Year and Month identify the bucket (UTC calendar).
	Year  int
	Month time.Month

	// Records in the bucket, newest first. Includes locally pending
	// records that have no remote counterpart yet.
	Records []models.Payment

	// Balance is the bucket's aggregate, computed from remote-confirmed
	// records only.
	Balance float64
}

// Summary is the merged display model.
type Summary struct {
	// TotalBalance is computed exclusively from remote records. Positive
	// means participant-1 owes participant-0.
	TotalBalance float64

	// Months are the buckets, ordered by their most recent record's
	// timestamp, descending.
	Months []MonthGroup
}

// Merge combines the remote record set and the locally pending set.
//
// Balance comes only from remote records so a pending record never counts
// twice once it is confirmed remotely. Local records whose identifier
// already exists remotely are dropped from the display set (remote wins).
func Merge(remote, local []models.Payment, participants [2]string) Summary {
	remoteIDs := make(map[string]bool, len(remote))
	for _, p := range remote {
		remoteIDs[p.ID] = true
	}

	display := make([]models.Payment, 0, len(remote)+len(local))
	display = append(display, remote...)
	for _, p := range local {
		if !remoteIDs[p.ID] {
			display = append(display, p)
		}
	}

	type bucketKey struct {
		year  int
		month time.Month
	}
	buckets := make(map[bucketKey]*MonthGroup)
	var order []bucketKey

	for _, p := range display {
		t := time.UnixMilli(p.PaymentDatetime).UTC()
		key := bucketKey{year: t.Year(), month: t.Month()}
		group, ok := buckets[key]
		if !ok {
			group = &MonthGroup{Year: key.year, Month: key.month}
			buckets[key] = group
			order = append(order, key)
		}
		group.Records = append(group.Records, p)
		if remoteIDs[p.ID] {
			group.Balance += contribution(p, participants)
		}
	}

	var total float64
	for _, p := range remote {
		total += contribution(p, participants)
	}

	months := make([]MonthGroup, 0, len(order))
	for _, key := range order {
		group := buckets[key]
		sort.SliceStable(group.Records, func(i, j int) bool {
			a, b := group.Records[i], group.Records[j]
			if a.PaymentDatetime != b.PaymentDatetime {
				return a.PaymentDatetime > b.PaymentDatetime
			}
			return a.ID < b.ID // deterministic tie-break
		})
		months = append(months, *group)
	}
	sort.SliceStable(months, func(i, j int) bool {
		a, b := newestTimestamp(months[i]), newestTimestamp(months[j])
		if a != b {
			return a > b
		}
		if months[i].Year != months[j].Year {
			return months[i].Year > months[j].Year
		}
		return months[i].Month > months[j].Month
	})

	return Summary{TotalBalance: total, Months: months}
}

// contribution is one record's signed effect on the balance. A total amount
// is split 50/50; a specific amount is already the payer's share. Records
// paid by participant-0 push the balance positive, anyone else negative.
func contribution(p models.Payment, participants [2]string) float64 {
	share := p.Amount
	if p.AmountKind == models.AmountTotal {
		share = p.Amount / 2
	}
	if p.WhoPaid == participants[0] {
		return share
	}
	return -share
}

func newestTimestamp(g MonthGroup) int64 {
	if len(g.Records) == 0 {
		return 0
	}
	// Records are already sorted newest first.
	return g.Records[0].PaymentDatetime
}
