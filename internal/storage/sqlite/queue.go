package sqlite

import (
	"context"

	"github.com/pairledger/pairledger/internal/models"
)

// Queue returns the persisted upload queue, oldest first.
func (s *SQLiteStore) Queue(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	if _, err := s.getJSON(ctx, keyQueue, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// PutQueue replaces the persisted upload queue.
func (s *SQLiteStore) PutQueue(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ids == nil {
		ids = []string{}
	}
	return s.putJSON(ctx, keyQueue, ids)
}

// RetryStatus returns the persisted retry-status map.
func (s *SQLiteStore) RetryStatus(ctx context.Context) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := make(map[string]bool)
	if _, err := s.getJSON(ctx, keyRetryStatus, &status); err != nil {
		return nil, err
	}
	return status, nil
}

// PutRetryStatus replaces the persisted retry-status map.
func (s *SQLiteStore) PutRetryStatus(ctx context.Context, status map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status == nil {
		status = map[string]bool{}
	}
	return s.putJSON(ctx, keyRetryStatus, status)
}

// AppendHistory appends one upload attempt record, trimming to the newest
// historyCap entries.
func (s *SQLiteStore) AppendHistory(ctx context.Context, entry models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var history []models.HistoryEntry
	if _, err := s.getJSON(ctx, keyHistory, &history); err != nil {
		return err
	}

	history = append(history, entry)
	if len(history) > historyCap {
		history = history[len(history)-historyCap:]
	}
	return s.putJSON(ctx, keyHistory, history)
}

// History returns the upload history, oldest first.
func (s *SQLiteStore) History(ctx context.Context) ([]models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var history []models.HistoryEntry
	if _, err := s.getJSON(ctx, keyHistory, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// SaveSnapshot persists the last-known remote record set.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap models.RemoteSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putJSON(ctx, keySnapshot, snap)
}

// Snapshot returns the last-known remote record set, or a zero snapshot if
// none was ever saved.
func (s *SQLiteStore) Snapshot(ctx context.Context) (models.RemoteSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap models.RemoteSnapshot
	if _, err := s.getJSON(ctx, keySnapshot, &snap); err != nil {
		return models.RemoteSnapshot{}, err
	}
	return snap, nil
}
