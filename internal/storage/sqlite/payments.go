package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pairledger/pairledger/internal/models"
)

// SavePayment persists a payment in pending state, assigning an identifier
// and timestamp if absent.
func (s *SQLiteStore) SavePayment(ctx context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.PaymentDatetime == 0 {
		p.PaymentDatetime = time.Now().UnixMilli()
	}

	payments, err := s.loadPayments(ctx)
	if err != nil {
		return err
	}

	replaced := false
	for i := range payments {
		if payments[i].ID == p.ID {
			payments[i] = *p
			replaced = true
			break
		}
	}
	if !replaced {
		payments = append(payments, *p)
	}

	return s.putJSON(ctx, keyPayments, payments)
}

// ListPayments returns all locally pending payments. The tolerant payment
// decoder guarantees integral numeric timestamps even for records persisted
// with string-encoded fields.
func (s *SQLiteStore) ListPayments(ctx context.Context) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadPayments(ctx)
}

// UpdatePayment merges the patch into the pending payment with the given id.
func (s *SQLiteStore) UpdatePayment(ctx context.Context, id string, patch models.PaymentPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payments, err := s.loadPayments(ctx)
	if err != nil {
		return err
	}

	for i := range payments {
		if payments[i].ID == id {
			patch.Apply(&payments[i])
			return s.putJSON(ctx, keyPayments, payments)
		}
	}
	return fmt.Errorf("payment not found: %s", id)
}

// DeletePayment removes the pending payment with the given id, if present.
func (s *SQLiteStore) DeletePayment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payments, err := s.loadPayments(ctx)
	if err != nil {
		return err
	}

	kept := payments[:0]
	for _, p := range payments {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	return s.putJSON(ctx, keyPayments, kept)
}

// ClearPayments empties the pending payment set.
func (s *SQLiteStore) ClearPayments(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putJSON(ctx, keyPayments, []models.Payment{})
}

func (s *SQLiteStore) loadPayments(ctx context.Context) ([]models.Payment, error) {
	var payments []models.Payment
	if _, err := s.getJSON(ctx, keyPayments, &payments); err != nil {
		return nil, err
	}
	return payments, nil
}
