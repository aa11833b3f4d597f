package engine

import (
	"fmt"
	"strings"

	"github.com/roach88/gatescan/internal/model"
)

// Verdict is the business result of a scan.
type Verdict string

const (
	VerdictAccepted      Verdict = "accepted"
	VerdictAcceptedFinal Verdict = "accepted_final"
	VerdictRejected      Verdict = "rejected"
)

// Reason explains a rejection.
type Reason string

const (
	ReasonNotFound    Reason = "not_found"
	ReasonAlreadyUsed Reason = "already_used"

	// ReasonDenied is an online rejection. The message comes from the
	// authority.
	ReasonDenied Reason = "denied"
)

// Tier is the three-level feedback signal rendered for every outcome.
type Tier string

const (
	TierSuccess Tier = "success"
	TierWarning Tier = "warning"
	TierError   Tier = "error"
)

// Source records which authority decided an outcome.
type Source string

const (
	SourceOffline Source = "offline"
	SourceOnline  Source = "online"
)

// Operator-facing messages for offline outcomes.
const (
	MessageNotFound     = "Ticket not found in offline database"
	MessageDeniedOnline = "Validation failed"
)

// Customer is the ticket holder as reported by the authority on an online
// scan.
type Customer struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Name returns the display name.
func (c Customer) Name() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Outcome is the result of one scan. Rejections are Outcomes, not errors:
// they are expected and frequent, and need feedback rather than recovery.
type Outcome struct {
	Verdict   Verdict   `json:"verdict"`
	Reason    Reason    `json:"reason,omitempty"`
	TicketID  string    `json:"ticketId,omitempty"`
	ScanCount int       `json:"scanCount"`
	MaxScans  int       `json:"maxScans"`
	Message   string    `json:"message"`
	Customer  *Customer `json:"customer,omitempty"`
	Source    Source    `json:"source"`

	// ScanID is the ledger scanId of an offline accept.
	ScanID string `json:"scanId,omitempty"`
}

// Tier maps the verdict to the feedback signal: success for a plain
// accept, warning for the last permitted scan, error for any rejection.
func (o Outcome) Tier() Tier {
	switch o.Verdict {
	case VerdictAccepted:
		return TierSuccess
	case VerdictAcceptedFinal:
		return TierWarning
	default:
		return TierError
	}
}

// Validated reports whether the scan was accepted.
func (o Outcome) Validated() bool {
	return o.Verdict == VerdictAccepted || o.Verdict == VerdictAcceptedFinal
}

// Remaining returns the scans left after this outcome.
func (o Outcome) Remaining() int {
	if o.ScanCount >= o.MaxScans {
		return 0
	}
	return o.MaxScans - o.ScanCount
}

// NotFound is the offline outcome for a payload missing from the catalog.
func NotFound() Outcome {
	return Outcome{
		Verdict: VerdictRejected,
		Reason:  ReasonNotFound,
		Message: MessageNotFound,
		Source:  SourceOffline,
	}
}

// AlreadyUsed is the offline outcome for a ticket with no scans left.
func AlreadyUsed(t model.Ticket) Outcome {
	return Outcome{
		Verdict:   VerdictRejected,
		Reason:    ReasonAlreadyUsed,
		TicketID:  t.TicketID,
		ScanCount: t.ScanCount,
		MaxScans:  t.MaxScans,
		Message:   fmt.Sprintf("Already used (%d/%d)", t.ScanCount, t.MaxScans),
		Source:    SourceOffline,
	}
}

// Validated is the offline outcome for an accepted scan that brought the
// ticket to newCount. The verdict is AcceptedFinal when no scans remain.
func Validated(ticketID string, newCount, maxScans int) Outcome {
	verdict := VerdictAccepted
	if newCount >= maxScans {
		verdict = VerdictAcceptedFinal
	}
	return Outcome{
		Verdict:   verdict,
		TicketID:  ticketID,
		ScanCount: newCount,
		MaxScans:  maxScans,
		Message:   fmt.Sprintf("Validated (Scan %d/%d)", newCount, maxScans),
		Source:    SourceOffline,
	}
}

// Denied is the online outcome for a scan the authority refused.
func Denied(message string) Outcome {
	if message == "" {
		message = MessageDeniedOnline
	}
	return Outcome{
		Verdict: VerdictRejected,
		Reason:  ReasonDenied,
		Message: message,
		Source:  SourceOnline,
	}
}
