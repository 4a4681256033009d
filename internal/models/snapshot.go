package models

// RemoteSnapshot is the most recent successfully fetched remote record set.
// It is persisted so the engine can serve reads while offline.
type RemoteSnapshot struct {
	// Records is the remote record set as of FetchedAt.
	Records []Payment `json:"records"`

	// FetchedAt is when the fetch succeeded, epoch milliseconds.
	FetchedAt int64 `json:"fetchedAt"`
}
