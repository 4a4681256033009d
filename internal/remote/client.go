// Package remote implements the HTTP client for the remote ledger service.
//
// The client performs single create/list/delete calls with bounded
// timeouts. It never retries; retry policy belongs exclusively to the
// upload coordinator, which avoids double-retry amplification.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pairledger/pairledger/internal/models"
)

// DefaultCreateTimeout bounds a create call when the caller does not
// override it.
const DefaultCreateTimeout = 5 * time.Second

// Client talks to the remote ledger over HTTP with JSON bodies.
type Client struct {
	baseURL       string
	http          *http.Client
	createTimeout time.Duration
	tokens        *TokenSource // nil disables the Authorization header
	now           func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithCreateTimeout overrides the default create timeout.
func WithCreateTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.createTimeout = d
		}
	}
}

// WithTokenSource enables signed bearer tokens on outbound requests.
func WithTokenSource(ts *TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a ledger client for the given service root,
// e.g. "https://ledger.example.com".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          &http.Client{},
		createTimeout: DefaultCreateTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// createPayload is the wire body for POST /records.
type createPayload struct {
	Title           string            `json:"title"`
	WhoPaid         string            `json:"whoPaid"`
	Amount          float64           `json:"amount"`
	AmountType      models.AmountKind `json:"amountType"`
	PaymentDatetime int64             `json:"paymentDatetime"`
	ReceiptPath     string            `json:"receiptPath,omitempty"`
}

// Create posts a new record. The call is aborted with ErrTimeout if no
// response arrives within timeout (the configured default when timeout is
// zero). Non-2xx responses surface as *HTTPError. On success the submitted
// record is returned, carrying the server-assigned identifier when the
// response echoes one.
func (c *Client) Create(ctx context.Context, p models.Payment, timeout time.Duration) (*models.Payment, error) {
	if timeout <= 0 {
		timeout = c.createTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(createPayload{
		Title:           p.Title,
		WhoPaid:         p.WhoPaid,
		Amount:          p.Amount,
		AmountType:      p.AmountKind,
		PaymentDatetime: p.PaymentDatetime,
		ReceiptPath:     p.ReceiptPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/records", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	// Some deployments echo only the assigned identifier, or nothing
	// useful at all. Take the identifier when present and keep the
	// submitted record for everything else.
	created := p
	var echo struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &echo); err != nil {
		slog.Debug("Create echo not decodable, using submitted record", "error", err)
	} else if echo.ID != "" {
		created.ID = echo.ID
	}
	return &created, nil
}

// listResponse is the wire body for GET /records. The records field is
// kept raw so a missing or non-array value can be treated as zero records
// instead of failing the fetch.
type listResponse struct {
	Records json.RawMessage `json:"records"`
}

// List fetches all remote records. Individual malformed records are decoded
// with safe defaults (empty text, zero amount, current time) rather than
// failing the whole fetch.
func (c *Client) List(ctx context.Context) ([]models.Payment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/records", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode record list: %w", err)
	}

	var raws []json.RawMessage
	if len(resp.Records) > 0 {
		if err := json.Unmarshal(resp.Records, &raws); err != nil {
			slog.Warn("Remote records field is not an array, treating as zero records", "error", err)
			raws = nil
		}
	}

	records := make([]models.Payment, 0, len(raws))
	for i, raw := range raws {
		var p models.Payment
		if err := json.Unmarshal(raw, &p); err != nil {
			slog.Warn("Malformed remote record, substituting defaults", "index", i, "error", err)
			p = models.Payment{}
		}
		if p.PaymentDatetime == 0 {
			p.PaymentDatetime = c.now().UnixMilli()
		}
		records = append(records, p)
	}
	return records, nil
}

// Delete removes a remote record. Non-2xx responses surface as *HTTPError;
// the response body is ignored on success.
func (c *Client) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/records/"+url.PathEscape(id), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	_, err = c.do(req)
	return err
}

// do executes the request, mapping deadline expiry to ErrTimeout and non-2xx
// statuses to *HTTPError, and returns the response body.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to mint device token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s %s", ErrTimeout, req.Method, req.URL.Path)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
