package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/gatescan/internal/model"
)

// AppendLog inserts a ledger entry with synced=false and returns its id.
// A missing ScanID is filled with a fresh UUIDv7.
func (s *Store) AppendLog(ctx context.Context, entry model.LogEntry) (int64, error) {
	db, release, err := s.conn("append log")
	if err != nil {
		return 0, err
	}
	defer release()

	return appendLog(ctx, db, entry)
}

// UnsyncedLogs returns all ledger rows with synced=false in insertion order.
// Returns an empty slice (not nil) when the ledger is drained.
func (s *Store) UnsyncedLogs(ctx context.Context) ([]model.LogEntry, error) {
	return s.readLogs(ctx, "unsynced logs", `
		SELECT id, scan_id, ticket_id, campaign_id, timestamp, synced
		FROM validation_logs
		WHERE synced = 0
		ORDER BY id ASC
	`)
}

// Logs returns the whole ledger in insertion order.
func (s *Store) Logs(ctx context.Context) ([]model.LogEntry, error) {
	return s.readLogs(ctx, "all logs", `
		SELECT id, scan_id, ticket_id, campaign_id, timestamp, synced
		FROM validation_logs
		ORDER BY id ASC
	`)
}

// MarkAllSynced flips every currently unsynced row to synced and returns the
// number of rows changed.
//
// Rows appended between a caller's UnsyncedLogs read and this call are
// flipped too. Callers acknowledging an upload should use MarkSyncedThrough.
func (s *Store) MarkAllSynced(ctx context.Context) (int64, error) {
	db, release, err := s.conn("mark all synced")
	if err != nil {
		return 0, err
	}
	defer release()

	result, err := db.ExecContext(ctx, `UPDATE validation_logs SET synced = 1 WHERE synced = 0`)
	if err != nil {
		return 0, ioFailure("mark all synced", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, ioFailure("mark all synced: rows affected", err)
	}
	s.logger.Info("ledger marked synced", "rows", n)
	return n, nil
}

// MarkSyncedThrough flips unsynced rows with id <= maxID to synced and returns
// the number of rows changed. Ids are never reused, so rows appended after
// the caller read the ledger are left unsynced.
func (s *Store) MarkSyncedThrough(ctx context.Context, maxID int64) (int64, error) {
	db, release, err := s.conn("mark synced")
	if err != nil {
		return 0, err
	}
	defer release()

	result, err := db.ExecContext(ctx, `UPDATE validation_logs SET synced = 1 WHERE synced = 0 AND id <= ?`, maxID)
	if err != nil {
		return 0, ioFailure("mark synced", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, ioFailure("mark synced: rows affected", err)
	}
	s.logger.Info("ledger marked synced", "rows", n, "through_id", maxID)
	return n, nil
}

// Stats returns ticket, scan and unsynced-scan counts from one consistent
// read.
func (s *Store) Stats(ctx context.Context) (model.Stats, error) {
	db, release, err := s.conn("stats")
	if err != nil {
		return model.Stats{}, err
	}
	defer release()

	var st model.Stats
	err = db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM tickets),
			(SELECT COUNT(*) FROM validation_logs),
			(SELECT COUNT(*) FROM validation_logs WHERE synced = 0)
	`).Scan(&st.TotalTickets, &st.TotalScans, &st.UnsyncedScans)
	if err != nil {
		return model.Stats{}, ioFailure("stats", err)
	}
	return st, nil
}

// ClearAll deletes every campaign, ticket and ledger row in one transaction.
// Device metadata is kept.
func (s *Store) ClearAll(ctx context.Context) error {
	db, release, err := s.conn("clear all")
	if err != nil {
		return err
	}
	defer release()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return ioFailure("clear all: begin tx", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"campaigns", "tickets", "validation_logs"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return ioFailure("clear all: "+table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ioFailure("clear all: commit", err)
	}

	s.logger.Info("offline data cleared")
	return nil
}

func (s *Store) readLogs(ctx context.Context, op, query string) ([]model.LogEntry, error) {
	db, release, err := s.conn(op)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, ioFailure(op, err)
	}
	defer rows.Close()

	entries := []model.LogEntry{}
	for rows.Next() {
		var (
			e         model.LogEntry
			timestamp string
			synced    int
		)
		if err := rows.Scan(&e.ID, &e.ScanID, &e.TicketID, &e.CampaignID, &timestamp, &synced); err != nil {
			return nil, ioFailure(op+": scan", err)
		}
		ts, err := model.ParseTimestamp(timestamp)
		if err != nil {
			return nil, ioFailure(fmt.Sprintf("%s: log %d timestamp", op, e.ID), err)
		}
		e.Timestamp = ts
		e.Synced = synced != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ioFailure(op+": iterate", err)
	}
	return entries, nil
}

func appendLog(ctx context.Context, q querier, entry model.LogEntry) (int64, error) {
	scanID := entry.ScanID
	if scanID == "" {
		scanID = uuid.Must(uuid.NewV7()).String()
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO validation_logs (scan_id, ticket_id, campaign_id, timestamp, synced)
		VALUES (?, ?, ?, ?, 0)
	`,
		scanID,
		entry.TicketID,
		entry.CampaignID,
		model.FormatTimestamp(entry.Timestamp),
	)
	if err != nil {
		return 0, ioFailure(fmt.Sprintf("append log for ticket %s", entry.TicketID), err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, ioFailure("append log: last insert id", err)
	}
	return id, nil
}
