package remote

import (
	"errors"
	"fmt"
)

// ErrTimeout indicates a request exceeded its deadline before the remote
// ledger responded.
var ErrTimeout = errors.New("remote ledger request timed out")

// HTTPError is returned when the remote ledger rejects a request with a
// non-2xx status.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("remote ledger returned %d: %s", e.Status, e.Body)
}
