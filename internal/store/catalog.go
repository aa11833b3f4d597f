package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/gatescan/internal/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx so reads and writes can
// run standalone or inside an Update transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ReplaceCatalog clears and repopulates the campaigns and tickets tables in a
// single transaction. Either the whole new catalog is visible afterwards or,
// on any failure, the old one is left untouched.
//
// The ledger is not touched: scan progress recorded against the old catalog
// survives only as log rows.
func (s *Store) ReplaceCatalog(ctx context.Context, campaigns []model.Campaign, tickets []model.Ticket) error {
	db, release, err := s.conn("replace catalog")
	if err != nil {
		return err
	}
	defer release()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return ioFailure("replace catalog: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM campaigns`); err != nil {
		return ioFailure("replace catalog: clear campaigns", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tickets`); err != nil {
		return ioFailure("replace catalog: clear tickets", err)
	}

	campaignStmt, err := tx.PrepareContext(ctx, `INSERT INTO campaigns (id, name) VALUES (?, ?)`)
	if err != nil {
		return ioFailure("replace catalog: prepare campaigns", err)
	}
	defer campaignStmt.Close()

	for _, c := range campaigns {
		if _, err := campaignStmt.ExecContext(ctx, c.ID, c.Name); err != nil {
			return ioFailure(fmt.Sprintf("replace catalog: insert campaign %s", c.ID), err)
		}
	}

	ticketStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tickets (ticket_id, qr_payload, max_scans, scan_count, status)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return ioFailure("replace catalog: prepare tickets", err)
	}
	defer ticketStmt.Close()

	for _, t := range tickets {
		if _, err := ticketStmt.ExecContext(ctx, t.TicketID, t.QRPayload, t.MaxScans, t.ScanCount, t.Status); err != nil {
			return ioFailure(fmt.Sprintf("replace catalog: insert ticket %s", t.TicketID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ioFailure("replace catalog: commit", err)
	}

	s.logger.Info("catalog replaced", "campaigns", len(campaigns), "tickets", len(tickets))
	return nil
}

// FindTicketByPayload looks up a ticket by its exact QR payload.
// Returns ErrNotFound if no ticket matches.
func (s *Store) FindTicketByPayload(ctx context.Context, payload string) (model.Ticket, error) {
	db, release, err := s.conn("find ticket")
	if err != nil {
		return model.Ticket{}, err
	}
	defer release()

	return findTicketByPayload(ctx, db, payload)
}

// TicketByID looks up a ticket by id. Returns ErrNotFound if absent.
func (s *Store) TicketByID(ctx context.Context, ticketID string) (model.Ticket, error) {
	db, release, err := s.conn("ticket by id")
	if err != nil {
		return model.Ticket{}, err
	}
	defer release()

	row := db.QueryRowContext(ctx, `
		SELECT ticket_id, qr_payload, max_scans, scan_count, status
		FROM tickets
		WHERE ticket_id = ?
	`, ticketID)
	return scanTicketRow(row, "ticket by id")
}

// SetScanCount stores a caller-computed scan count. The value is set, not
// added: the validation engine owns the arithmetic.
// Returns ErrNotFound if the ticket does not exist.
func (s *Store) SetScanCount(ctx context.Context, ticketID string, newCount int) error {
	db, release, err := s.conn("set scan count")
	if err != nil {
		return err
	}
	defer release()

	return setScanCount(ctx, db, ticketID, newCount)
}

// Tickets returns the whole cached ticket set ordered by ticket id.
func (s *Store) Tickets(ctx context.Context) ([]model.Ticket, error) {
	db, release, err := s.conn("list tickets")
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.QueryContext(ctx, `
		SELECT ticket_id, qr_payload, max_scans, scan_count, status
		FROM tickets
		ORDER BY ticket_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, ioFailure("list tickets", err)
	}
	defer rows.Close()

	tickets := []model.Ticket{}
	for rows.Next() {
		var t model.Ticket
		if err := rows.Scan(&t.TicketID, &t.QRPayload, &t.MaxScans, &t.ScanCount, &t.Status); err != nil {
			return nil, ioFailure("list tickets: scan", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, ioFailure("list tickets: iterate", err)
	}
	return tickets, nil
}

// Campaigns returns the cached campaigns ordered by id.
func (s *Store) Campaigns(ctx context.Context) ([]model.Campaign, error) {
	db, release, err := s.conn("list campaigns")
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.QueryContext(ctx, `SELECT id, name FROM campaigns ORDER BY id COLLATE BINARY ASC`)
	if err != nil {
		return nil, ioFailure("list campaigns", err)
	}
	defer rows.Close()

	campaigns := []model.Campaign{}
	for rows.Next() {
		var c model.Campaign
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, ioFailure("list campaigns: scan", err)
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, ioFailure("list campaigns: iterate", err)
	}
	return campaigns, nil
}

func findTicketByPayload(ctx context.Context, q querier, payload string) (model.Ticket, error) {
	row := q.QueryRowContext(ctx, `
		SELECT ticket_id, qr_payload, max_scans, scan_count, status
		FROM tickets
		WHERE qr_payload = ?
	`, payload)
	return scanTicketRow(row, "find ticket")
}

func setScanCount(ctx context.Context, q querier, ticketID string, newCount int) error {
	result, err := q.ExecContext(ctx, `UPDATE tickets SET scan_count = ? WHERE ticket_id = ?`, newCount, ticketID)
	if err != nil {
		return ioFailure(fmt.Sprintf("set scan count %s", ticketID), err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return ioFailure(fmt.Sprintf("set scan count %s: rows affected", ticketID), err)
	}
	if n == 0 {
		return fmt.Errorf("set scan count %s: %w", ticketID, ErrNotFound)
	}
	return nil
}

func scanTicketRow(row *sql.Row, op string) (model.Ticket, error) {
	var t model.Ticket
	err := row.Scan(&t.TicketID, &t.QRPayload, &t.MaxScans, &t.ScanCount, &t.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Ticket{}, ErrNotFound
	}
	if err != nil {
		return model.Ticket{}, ioFailure(op, err)
	}
	return t, nil
}
