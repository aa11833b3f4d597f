package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/gatescan/internal/model"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestTicket creates a ticket whose payload is derived from its id.
func createTestTicket(id string, scanCount, maxScans int) model.Ticket {
	return model.Ticket{
		TicketID:  id,
		QRPayload: "qr:" + id,
		MaxScans:  maxScans,
		ScanCount: scanCount,
		Status:    "active",
	}
}

// createTestEntry creates an unsynced ledger entry at a fixed time.
func createTestEntry(ticketID string, minute int) model.LogEntry {
	return model.LogEntry{
		ScanID:     fmt.Sprintf("scan-%s-%d", ticketID, minute),
		TicketID:   ticketID,
		CampaignID: model.OfflineCampaignID,
		Timestamp:  time.Date(2026, 3, 1, 12, minute, 0, 0, time.UTC),
	}
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		t.Fatalf("table_info(%s) failed: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid       int
			name      string
			typ       string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &pk); err != nil {
			t.Fatalf("scan table_info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
