package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// AmountKind describes how a payment's amount should be interpreted.
type AmountKind string

const (
	// AmountTotal means the amount is the full bill, split 50/50.
	AmountTotal AmountKind = "total"

	// AmountSpecific means the amount is already this payer's share.
	AmountSpecific AmountKind = "specific"
)

// Payment represents one shared-expense record.
type Payment struct {
	// ID is the unique identifier for the record (UUID format).
	// Assigned by the store on first save; stable afterwards, and unique
	// across the local and remote record sets.
	ID string `json:"id"`

	// Title is an optional human-readable description.
	Title string `json:"title"`

	// WhoPaid is the name of the paying participant, one of the two
	// configured participants.
	WhoPaid string `json:"whoPaid"`

	// Amount is the payment amount. Positive, currency-agnostic.
	Amount float64 `json:"amount"`

	// AmountKind says whether Amount is the whole bill or one share.
	AmountKind AmountKind `json:"amountType"`

	// PaymentDatetime is the payment date-time in integral milliseconds
	// since the Unix epoch.
	PaymentDatetime int64 `json:"paymentDatetime"`

	// ReceiptPath is an opaque local file path supplied by the image
	// capture subsystem. The engine stores and uploads it untouched.
	ReceiptPath string `json:"receiptPath,omitempty"`
}

// PaymentPatch is a partial update for a pending payment. Nil fields are
// left unchanged.
type PaymentPatch struct {
	Title           *string     `json:"title,omitempty"`
	WhoPaid         *string     `json:"whoPaid,omitempty"`
	Amount          *float64    `json:"amount,omitempty"`
	AmountKind      *AmountKind `json:"amountType,omitempty"`
	PaymentDatetime *int64      `json:"paymentDatetime,omitempty"`
	ReceiptPath     *string     `json:"receiptPath,omitempty"`
}

// Apply merges the patch into p.
func (patch PaymentPatch) Apply(p *Payment) {
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.WhoPaid != nil {
		p.WhoPaid = *patch.WhoPaid
	}
	if patch.Amount != nil {
		p.Amount = *patch.Amount
	}
	if patch.AmountKind != nil {
		p.AmountKind = *patch.AmountKind
	}
	if patch.PaymentDatetime != nil {
		p.PaymentDatetime = *patch.PaymentDatetime
	}
	if patch.ReceiptPath != nil {
		p.ReceiptPath = *patch.ReceiptPath
	}
}

// UnmarshalJSON decodes a payment tolerantly: numbers stored as strings are
// coerced, missing or malformed fields fall back to zero values. A zero
// PaymentDatetime signals "unknown" and is substituted by the caller.
func (p *Payment) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.ID = flexString(raw["id"])
	p.Title = flexString(raw["title"])
	p.WhoPaid = flexString(raw["whoPaid"])
	p.Amount = flexFloat(raw["amount"])
	p.AmountKind = AmountKind(flexString(raw["amountType"]))
	p.PaymentDatetime = flexInt64(raw["paymentDatetime"])
	p.ReceiptPath = flexString(raw["receiptPath"])
	return nil
}

// flexString decodes a JSON string, or stringifies a bare number.
// Anything else becomes "".
func flexString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

// flexFloat decodes a JSON number, or a numeric string. Anything else
// becomes 0.
func flexFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return 0
}

// flexInt64 decodes an integral epoch-millis value from a JSON number or a
// numeric string, truncating any fractional part. Anything else becomes 0.
func flexInt64(raw json.RawMessage) int64 {
	return int64(flexFloat(raw))
}
