package engine

import "github.com/roach88/gatescan/internal/model"

// Decision is the pure result of evaluating a scan against the cached
// ticket.
type Decision struct {
	Outcome Outcome

	// Write is true when the scan is accepted: NewCount must be persisted and
	// a ledger entry appended before the outcome may be reported.
	Write    bool
	NewCount int
}

// Decide applies the bounded redemption rule. found is false when the
// payload matched no cached ticket.
//
// Decide never mutates anything; Validate performs the writes it asks for.
func Decide(ticket model.Ticket, found bool) Decision {
	if !found {
		return Decision{Outcome: NotFound()}
	}
	if ticket.Exhausted() {
		return Decision{Outcome: AlreadyUsed(ticket)}
	}

	newCount := ticket.ScanCount + 1
	return Decision{
		Outcome:  Validated(ticket.TicketID, newCount, ticket.MaxScans),
		Write:    true,
		NewCount: newCount,
	}
}
