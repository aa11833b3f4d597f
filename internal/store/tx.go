package store

import (
	"context"
	"database/sql"

	"github.com/roach88/gatescan/internal/model"
)

// Tx is a write transaction opened by Update. Its methods mirror the Store
// operations the validation engine needs, so a lookup, a count update and a
// log append commit together or not at all.
//
// A Tx must not be used after the Update callback returns.
type Tx struct {
	tx *sql.Tx
}

// FindTicketByPayload looks up a ticket inside the transaction.
func (t *Tx) FindTicketByPayload(ctx context.Context, payload string) (model.Ticket, error) {
	return findTicketByPayload(ctx, t.tx, payload)
}

// SetScanCount sets a ticket's scan count inside the transaction.
func (t *Tx) SetScanCount(ctx context.Context, ticketID string, newCount int) error {
	return setScanCount(ctx, t.tx, ticketID, newCount)
}

// AppendLog appends a ledger entry inside the transaction.
func (t *Tx) AppendLog(ctx context.Context, entry model.LogEntry) (int64, error) {
	return appendLog(ctx, t.tx, entry)
}

// Update runs fn inside a single write transaction. The transaction commits
// if fn returns nil and rolls back otherwise; fn's error is returned
// unchanged.
//
// Readers on other goroutines wait for the single connection, so they never
// observe a partially applied Update.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	db, release, err := s.conn("update")
	if err != nil {
		return err
	}
	defer release()

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return ioFailure("update: begin tx", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return ioFailure("update: commit", err)
	}
	return nil
}
