package model

import (
	"errors"
	"fmt"
	"time"
)

// OfflineCampaignID is the campaign marker written on every offline ledger
// entry. The authority resolves the real campaign from the ticket.
const OfflineCampaignID = "offline"

// TimestampLayout is the ISO-8601 layout used for ledger timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Campaign is a downloaded campaign. Immutable once stored.
type Campaign struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Ticket is the cached copy of a server ticket.
//
// Invariant: 0 <= ScanCount <= MaxScans and MaxScans >= 1.
type Ticket struct {
	TicketID  string `json:"ticketId"`
	QRPayload string `json:"qrPayload"`
	MaxScans  int    `json:"maxScans"`
	ScanCount int    `json:"scanCount"`
	Status    string `json:"status"`
}

// Remaining returns how many scans the ticket still allows.
func (t Ticket) Remaining() int {
	if t.ScanCount >= t.MaxScans {
		return 0
	}
	return t.MaxScans - t.ScanCount
}

// Exhausted reports whether the ticket has no scans left.
func (t Ticket) Exhausted() bool {
	return t.ScanCount >= t.MaxScans
}

// Validate checks the ticket invariant and required fields.
func (t Ticket) Validate() error {
	if t.TicketID == "" {
		return errors.New("ticket id is required")
	}
	if t.QRPayload == "" {
		return fmt.Errorf("ticket %s: qr payload is required", t.TicketID)
	}
	if t.MaxScans < 1 {
		return fmt.Errorf("ticket %s: max scans must be >= 1, got %d", t.TicketID, t.MaxScans)
	}
	if t.ScanCount < 0 || t.ScanCount > t.MaxScans {
		return fmt.Errorf("ticket %s: scan count %d outside [0, %d]", t.TicketID, t.ScanCount, t.MaxScans)
	}
	return nil
}

// LogEntry is one row of the validation ledger.
type LogEntry struct {
	// ID is the store-assigned insertion sequence. Zero until appended.
	ID         int64     `json:"id,omitempty"`
	ScanID     string    `json:"scanId"`
	TicketID   string    `json:"ticketId"`
	CampaignID string    `json:"campaignId"`
	Timestamp  time.Time `json:"timestamp"`
	Synced     bool      `json:"synced"`
}

// FormatTimestamp renders a ledger timestamp in UTC ISO-8601.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a ledger timestamp. RFC 3339 without fractional
// seconds is accepted too.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Catalog is a full snapshot of the offline dataset.
type Catalog struct {
	Campaigns []Campaign `json:"campaigns"`
	Tickets   []Ticket   `json:"tickets"`
}

// Validate checks every ticket and the uniqueness of ids and payloads.
// Offline lookup relies on payloads being globally unique.
func (c Catalog) Validate() error {
	campaigns := make(map[string]struct{}, len(c.Campaigns))
	for _, cp := range c.Campaigns {
		if cp.ID == "" {
			return errors.New("campaign id is required")
		}
		if _, dup := campaigns[cp.ID]; dup {
			return fmt.Errorf("duplicate campaign id %q", cp.ID)
		}
		campaigns[cp.ID] = struct{}{}
	}

	ids := make(map[string]struct{}, len(c.Tickets))
	payloads := make(map[string]string, len(c.Tickets))
	for _, t := range c.Tickets {
		if err := t.Validate(); err != nil {
			return err
		}
		if _, dup := ids[t.TicketID]; dup {
			return fmt.Errorf("duplicate ticket id %q", t.TicketID)
		}
		ids[t.TicketID] = struct{}{}
		if other, dup := payloads[t.QRPayload]; dup {
			return fmt.Errorf("tickets %s and %s share a qr payload", other, t.TicketID)
		}
		payloads[t.QRPayload] = t.TicketID
	}
	return nil
}

// Stats are the local store counters shown to the operator.
type Stats struct {
	TotalTickets  int `json:"totalTickets"`
	TotalScans    int `json:"totalScans"`
	UnsyncedScans int `json:"unsyncedScans"`
}
