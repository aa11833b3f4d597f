package engine

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/gatescan/internal/model"
	"github.com/roach88/gatescan/internal/store"
	"github.com/roach88/gatescan/internal/telemetry"
)

// Engine validates scans against the local catalog.
//
// Thread-safety: Validate is safe to call from any goroutine. Each call is
// one store transaction and the store has a single writer, so concurrent
// scans are serialized at the database.
type Engine struct {
	store  *store.Store
	clock  Clock
	ids    ScanIDGenerator
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for ledger timestamps. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithScanIDs sets the scanId generator. Default: UUIDv7Generator.
func WithScanIDs(g ScanIDGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.ids = g
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Engine over an initialized store.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		clock:  SystemClock{},
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate decides an offline scan of payload and records it if accepted.
//
// Returns an EngineError if the store fails at any step. In that case the
// transaction is rolled back: neither the count nor the ledger changed and
// the scan must be reported as not validated.
func (e *Engine) Validate(ctx context.Context, payload string) (Outcome, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "engine", "validate")
	defer span.End()

	var (
		outcome  Outcome
		ticketID string
	)
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		ticket, err := tx.FindTicketByPayload(ctx, payload)
		found := true
		if errors.Is(err, store.ErrNotFound) {
			found = false
		} else if err != nil {
			return err
		}
		ticketID = ticket.TicketID

		d := Decide(ticket, found)
		outcome = d.Outcome
		if !d.Write {
			return nil
		}

		if err := tx.SetScanCount(ctx, ticket.TicketID, d.NewCount); err != nil {
			return err
		}

		scanID := e.ids.Generate()
		if _, err := tx.AppendLog(ctx, model.LogEntry{
			ScanID:     scanID,
			TicketID:   ticket.TicketID,
			CampaignID: model.OfflineCampaignID,
			Timestamp:  e.clock.Now(),
		}); err != nil {
			return err
		}
		outcome.ScanID = scanID
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		e.logger.Error("offline validation failed", "ticket_id", ticketID, "error", err)
		return Outcome{}, storageFailure(ticketID, err)
	}

	span.SetAttributes(
		attribute.String("scan.verdict", string(outcome.Verdict)),
		attribute.String("scan.reason", string(outcome.Reason)),
	)
	telemetry.SetSuccess(span)

	e.logger.Debug("offline scan decided",
		"ticket_id", outcome.TicketID,
		"verdict", outcome.Verdict,
		"reason", outcome.Reason,
		"scan_count", outcome.ScanCount,
		"max_scans", outcome.MaxScans,
	)
	return outcome, nil
}

// ApplyServerCount raises the cached count of the ticket with payload to the
// authority's count after an online accept, so a later offline scan starts
// from it. The value is clamped to [0, maxScans] and the count never goes
// down. No ledger entry is written: the authority already recorded the scan.
//
// Reports whether the cached ticket changed. An uncached payload is not an
// error.
func (e *Engine) ApplyServerCount(ctx context.Context, payload string, serverCount int) (bool, error) {
	var (
		changed  bool
		ticketID string
		count    int
	)
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		ticket, err := tx.FindTicketByPayload(ctx, payload)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ticketID = ticket.TicketID

		count = min(max(serverCount, 0), ticket.MaxScans)
		if count <= ticket.ScanCount {
			return nil
		}
		if err := tx.SetScanCount(ctx, ticket.TicketID, count); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, storageFailure(ticketID, err)
	}
	if changed {
		e.logger.Debug("cached ticket raised to server count", "ticket_id", ticketID, "scan_count", count)
	}
	return changed, nil
}
