package models

// UploadOutcome is the result of one upload attempt.
type UploadOutcome string

const (
	// OutcomeSuccess indicates the record was accepted by the remote ledger.
	OutcomeSuccess UploadOutcome = "success"

	// OutcomeFailed indicates the attempt failed and the record was
	// re-queued for a future try.
	OutcomeFailed UploadOutcome = "failed"
)

// HistoryEntry is one append-only log record of an upload attempt.
// History is written purely for observability; nothing reads it back for
// control flow.
type HistoryEntry struct {
	// RecordID is the identifier of the payment that was attempted.
	RecordID string `json:"recordId"`

	// AttemptedAt is when the attempt happened, epoch milliseconds.
	AttemptedAt int64 `json:"attemptedAt"`

	// PaymentDatetime is the original record's payment timestamp.
	PaymentDatetime int64 `json:"paymentDatetime"`

	// Title and Amount are copied from the record so the log stays
	// readable after the record itself is deleted.
	Title  string  `json:"title"`
	Amount float64 `json:"amount"`

	// Outcome is success or failed.
	Outcome UploadOutcome `json:"outcome"`

	// Error holds the failure detail when Outcome is failed.
	Error string `json:"error,omitempty"`
}
