// Package models defines the core domain models for the pairledger sync engine.
//
// # Models
//
//   - Payment: one shared-expense record, created locally and eventually
//     confirmed on the remote ledger
//   - HistoryEntry: append-only log of upload attempts and their outcomes
//   - RemoteSnapshot: the last successfully fetched remote record set,
//     kept so the engine can serve reads while offline
//   - PaymentPatch: partial update applied to a pending record before its
//     first successful upload
//
// # Design Principles
//
//  1. **Two participants only**: the payer on a record is one of exactly two
//     configured names; the engine validates this at creation time.
//  2. **Remote wins**: once a record exists remotely it is the source of
//     truth; the local copy is deleted after a successful upload.
//  3. **Tolerant decoding**: records arrive from local storage and from the
//     remote ledger with fields that may be missing, or numbers encoded as
//     strings. Decoding coerces to safe defaults instead of failing, so one
//     malformed record never poisons a whole list.
package models
