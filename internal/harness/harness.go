package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/gatescan/internal/api"
	"github.com/roach88/gatescan/internal/engine"
	"github.com/roach88/gatescan/internal/mode"
	"github.com/roach88/gatescan/internal/remote"
	"github.com/roach88/gatescan/internal/scanner"
	"github.com/roach88/gatescan/internal/store"
	"github.com/roach88/gatescan/internal/syncer"
	"github.com/roach88/gatescan/internal/testutil"
)

// CaseOK is the output case of a non-scan step that succeeded.
const CaseOK = "ok"

// Harness executes one scenario against the real scanner service, a fresh
// database and a fake ticketing server.
type Harness struct {
	store     *store.Store
	svc       *scanner.Service
	authority *testutil.FakeAuthority
	otherGate *remote.Client
	clock     *testutil.ManualClock
	logger    *slog.Logger
	seq       int64
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against its own database and fake server, which are
// torn down when t ends. Scan ids, timestamps and the debounce clock are
// deterministic, so the trace is identical across runs.
//
// Execution flow:
// 1. Start a fake server serving the scenario catalog
// 2. Open a fresh database and build the scanner service
// 3. Execute flow steps with expect validation
// 4. Evaluate assertions against the trace and final state
func Run(t testing.TB, scenario *Scenario) (*Result, error) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	authority := testutil.NewFakeAuthority(t, scenario.Catalog.ModelCampaigns(), scenario.Catalog.ModelTickets())
	client, err := remote.New(authority.URL(), remote.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create remote client: %w", err)
	}
	otherGate, err := remote.New(authority.URL(), remote.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create remote client: %w", err)
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "gate.db"), store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	clock := testutil.NewManualClock()
	svc := scanner.New(st, client, mode.New(mode.WithLogger(logger)),
		scanner.WithClock(clock),
		scanner.WithLogger(logger),
		scanner.WithDebounce(scenario.Debounce),
		scanner.WithEngineOptions(engine.WithScanIDs(testutil.NewSequentialIDGenerator("scan"))),
		scanner.WithSyncOptions(syncer.WithRetryInterval(time.Millisecond)),
	)

	h := &Harness{
		store:     st,
		svc:       svc,
		authority: authority,
		otherGate: otherGate,
		clock:     clock,
		logger:    logger,
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Flow {
		h.executeStep(ctx, i, step, result)
	}

	actx := &AssertionContext{
		Store:     st,
		Authority: authority,
		Ctx:       ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeStep runs one step, records it in the trace and checks its expect
// clause.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) {
	result.AddInvocationTrace(step.Action, stepArgs(step), h.nextSeq())

	outputCase, out, err := h.perform(ctx, step)
	if err != nil {
		_, outputCase = api.Classify(err)
		out = nil
	}
	result.AddCompletionTrace(step.Action, outputCase, out, h.nextSeq())

	h.logger.Info("flow step completed",
		"step", i,
		"action", step.Action,
		"output_case", outputCase,
	)

	if step.Expect == nil {
		if err != nil {
			result.AddError(fmt.Sprintf("flow[%d] %s: unexpected error: %v", i, step.Action, err))
		}
		return
	}
	if outputCase != step.Expect.Case {
		msg := fmt.Sprintf("flow[%d] %s: expected case %q, got %q", i, step.Action, step.Expect.Case, outputCase)
		if err != nil {
			msg += fmt.Sprintf(" (%v)", err)
		}
		result.AddError(msg)
		return
	}
	for key, want := range step.Expect.Result {
		got, ok := out[key]
		if !ok {
			result.AddError(fmt.Sprintf("flow[%d] %s: result field %q missing", i, step.Action, key))
			continue
		}
		if !stateValuesEqual(want, got) {
			result.AddError(fmt.Sprintf("flow[%d] %s: result field %q = %v, want %v", i, step.Action, key, got, want))
		}
	}
}

// perform executes the step's action and returns its output case and
// result.
func (h *Harness) perform(ctx context.Context, step Step) (string, map[string]any, error) {
	switch step.Action {
	case ActionScan:
		var (
			outcome engine.Outcome
			err     error
		)
		if step.Mode != "" {
			state := mode.State{OfflineModeEnabled: step.Mode == string(mode.Offline), IsOnline: true}
			outcome, err = h.svc.ScanWithState(ctx, step.Payload, state)
		} else {
			outcome, err = h.svc.Scan(ctx, step.Payload)
		}
		if err != nil {
			return "", nil, err
		}
		return string(outcome.Verdict), outcomeResult(outcome), nil

	case ActionDownload:
		summary, err := h.svc.Download(ctx)
		if err != nil {
			return "", nil, err
		}
		return CaseOK, map[string]any{
			"campaigns": summary.CampaignCount,
			"tickets":   summary.TicketCount,
		}, nil

	case ActionSync:
		summary, err := h.svc.Sync(ctx)
		if err != nil {
			return "", nil, err
		}
		return CaseOK, map[string]any{
			"synced":    summary.Synced,
			"conflicts": summary.Conflicts,
			"uploaded":  summary.Uploaded,
		}, nil

	case ActionStats:
		report, err := h.svc.Stats(ctx)
		if err != nil {
			return "", nil, err
		}
		out := map[string]any{
			"mode":           string(report.Mode),
			"total_tickets":  report.Local.TotalTickets,
			"total_scans":    report.Local.TotalScans,
			"unsynced_scans": report.Local.UnsyncedScans,
		}
		if report.Online != nil {
			out["online_today"] = report.Online.Today
			out["online_total"] = report.Online.Total
		}
		return CaseOK, out, nil

	case ActionClear:
		return CaseOK, nil, h.svc.Clear(ctx)

	case ActionLogout:
		return CaseOK, nil, h.svc.Logout(ctx)

	case ActionSetMode:
		ctl := h.svc.Mode()
		if step.OfflineMode != nil {
			ctl.SetOfflineMode(*step.OfflineMode)
		}
		if step.Online != nil {
			ctl.SetOnline(*step.Online)
		}
		return CaseOK, map[string]any{"effective": string(ctl.Effective())}, nil

	case ActionAdvance:
		h.clock.Advance(step.Duration)
		return CaseOK, nil, nil

	case ActionFailNext:
		h.authority.FailNext(step.Path, testutil.Fault{Status: step.Status, Message: "injected fault"})
		return CaseOK, nil, nil

	case ActionServerScan:
		res, err := h.otherGate.ValidateOnline(ctx, step.Payload)
		if err != nil {
			return "", nil, err
		}
		return CaseOK, map[string]any{"valid": res.Valid}, nil

	default:
		return "", nil, fmt.Errorf("unknown action %q", step.Action)
	}
}

func (h *Harness) nextSeq() int64 {
	h.seq++
	return h.seq
}

// stepArgs is the invocation's trace arguments: the step fields that were
// set.
func stepArgs(step Step) map[string]any {
	args := map[string]any{}
	if step.Payload != "" {
		args["payload"] = step.Payload
	}
	if step.Mode != "" {
		args["mode"] = step.Mode
	}
	if step.OfflineMode != nil {
		args["offline_mode"] = *step.OfflineMode
	}
	if step.Online != nil {
		args["online"] = *step.Online
	}
	if step.Duration != 0 {
		args["duration"] = step.Duration.String()
	}
	if step.Path != "" {
		args["path"] = step.Path
	}
	if step.Status != 0 {
		args["status"] = step.Status
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

func outcomeResult(o engine.Outcome) map[string]any {
	out := map[string]any{
		"message":    o.Message,
		"scan_count": o.ScanCount,
		"max_scans":  o.MaxScans,
		"source":     string(o.Source),
		"tier":       string(o.Tier()),
	}
	if o.Reason != "" {
		out["reason"] = string(o.Reason)
	}
	if o.TicketID != "" {
		out["ticket_id"] = o.TicketID
	}
	if o.ScanID != "" {
		out["scan_id"] = o.ScanID
	}
	return out
}
