package engine

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gatescan/internal/model"
	"github.com/roach88/gatescan/internal/store"
	"github.com/roach88/gatescan/internal/testutil"
)

func setupTestStore(t *testing.T, tickets ...model.Ticket) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir()+"/test.db", store.WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	if len(tickets) > 0 {
		require.NoError(t, s.ReplaceCatalog(context.Background(), nil, tickets))
	}
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ticket(id string, scanCount, maxScans int) model.Ticket {
	return model.Ticket{
		TicketID:  id,
		QRPayload: "QR-" + id,
		MaxScans:  maxScans,
		ScanCount: scanCount,
		Status:    "active",
	}
}

func newTestEngine(s *store.Store) *Engine {
	return New(s,
		WithClock(testutil.NewDeterministicClockWithStep(time.Minute)),
		WithScanIDs(testutil.NewSequentialIDGenerator("scan")),
		WithLogger(discardLogger()),
	)
}

func TestValidate_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, ticket("t1", 0, 3))
	e := newTestEngine(s)

	want := []struct {
		verdict Verdict
		reason  Reason
		count   int
		message string
	}{
		{VerdictAccepted, "", 1, "Validated (Scan 1/3)"},
		{VerdictAccepted, "", 2, "Validated (Scan 2/3)"},
		{VerdictAcceptedFinal, "", 3, "Validated (Scan 3/3)"},
		{VerdictRejected, ReasonAlreadyUsed, 3, "Already used (3/3)"},
	}

	for i, w := range want {
		out, err := e.Validate(ctx, "QR-t1")
		require.NoError(t, err, "scan %d", i+1)
		assert.Equal(t, w.verdict, out.Verdict, "scan %d", i+1)
		assert.Equal(t, w.reason, out.Reason, "scan %d", i+1)
		assert.Equal(t, w.count, out.ScanCount, "scan %d", i+1)
		assert.Equal(t, 3, out.MaxScans, "scan %d", i+1)
		assert.Equal(t, w.message, out.Message, "scan %d", i+1)
		assert.Equal(t, "t1", out.TicketID)
	}

	got, err := s.TicketByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.ScanCount)

	logs, err := s.UnsyncedLogs(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 3, "the rejected fourth scan must not be logged")
	for i, l := range logs {
		assert.Equal(t, "t1", l.TicketID)
		assert.Equal(t, model.OfflineCampaignID, l.CampaignID)
		assert.True(t, testutil.Epoch.Add(time.Duration(i)*time.Minute).Equal(l.Timestamp), "log %d timestamp", i)
		assert.False(t, l.Synced)
	}
	assert.Equal(t, "scan-0001", logs[0].ScanID)
	assert.Equal(t, "scan-0003", logs[2].ScanID)
}

func TestValidate_AcceptReturnsScanID(t *testing.T) {
	s := setupTestStore(t, ticket("t1", 0, 2))
	e := New(s, WithScanIDs(NewFixedGenerator("fixed-id")), WithLogger(discardLogger()))

	out, err := e.Validate(context.Background(), "QR-t1")
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", out.ScanID)
}

func TestValidate_NotFoundNoMutation(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, ticket("t1", 1, 3))
	e := newTestEngine(s)

	for _, payload := range []string{"QR-unknown", "", "qr-t1", "QR-t1 "} {
		out, err := e.Validate(ctx, payload)
		require.NoError(t, err)
		assert.Equal(t, VerdictRejected, out.Verdict, "payload %q", payload)
		assert.Equal(t, ReasonNotFound, out.Reason, "payload %q", payload)
		assert.Equal(t, TierError, out.Tier())
	}

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalScans)

	got, err := s.TicketByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ScanCount)
}

func TestValidate_MaxedTicketNoMutation(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, ticket("t1", 2, 2))
	e := newTestEngine(s)

	for i := 0; i < 3; i++ {
		out, err := e.Validate(ctx, "QR-t1")
		require.NoError(t, err)
		assert.Equal(t, ReasonAlreadyUsed, out.Reason)
		assert.Equal(t, 2, out.ScanCount)
		assert.Equal(t, 2, out.MaxScans)
	}

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalScans)
}

func TestValidate_DistinctTicketsCountUnsynced(t *testing.T) {
	ctx := context.Background()
	var tickets []model.Ticket
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		tickets = append(tickets, ticket(id, 0, 1))
	}
	s := setupTestStore(t, tickets...)
	e := newTestEngine(s)

	for _, tk := range tickets {
		out, err := e.Validate(ctx, tk.QRPayload)
		require.NoError(t, err)
		assert.Equal(t, VerdictAcceptedFinal, out.Verdict)
	}

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Stats{TotalTickets: 5, TotalScans: 5, UnsyncedScans: 5}, stats)
}

func TestValidate_ConcurrentScansNeverExceedMax(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, ticket("t1", 0, 5))
	e := New(s, WithLogger(discardLogger()))

	const scanners = 25
	results := make(chan Outcome, scanners)
	var wg sync.WaitGroup
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Validate(ctx, "QR-t1")
			if assert.NoError(t, err) {
				results <- out
			}
		}()
	}
	wg.Wait()
	close(results)

	var accepted, final, rejected int
	for out := range results {
		switch out.Verdict {
		case VerdictAccepted:
			accepted++
		case VerdictAcceptedFinal:
			final++
		case VerdictRejected:
			rejected++
		}
	}
	assert.Equal(t, 4, accepted)
	assert.Equal(t, 1, final)
	assert.Equal(t, scanners-5, rejected)

	got, err := s.TicketByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.ScanCount)

	logs, err := s.UnsyncedLogs(ctx)
	require.NoError(t, err)
	assert.Len(t, logs, 5)
}

func TestValidate_InvariantHoldsUnderRandomScans(t *testing.T) {
	ctx := context.Background()
	tickets := []model.Ticket{
		ticket("a", 0, 1),
		ticket("b", 0, 2),
		ticket("c", 1, 4),
		ticket("d", 3, 3),
	}
	s := setupTestStore(t, tickets...)
	e := New(s, WithLogger(discardLogger()))

	rng := rand.New(rand.NewSource(42))
	payloads := []string{"QR-a", "QR-b", "QR-c", "QR-d", "QR-missing"}
	accepted := 0
	for i := 0; i < 200; i++ {
		out, err := e.Validate(ctx, payloads[rng.Intn(len(payloads))])
		require.NoError(t, err)
		if out.Validated() {
			accepted++
		}

		all, err := s.Tickets(ctx)
		require.NoError(t, err)
		for _, tk := range all {
			require.GreaterOrEqual(t, tk.ScanCount, 0)
			require.LessOrEqual(t, tk.ScanCount, tk.MaxScans, "ticket %s", tk.TicketID)
		}
	}

	// Total remaining allowance at the start was 1+2+3+0.
	assert.Equal(t, 6, accepted)
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, accepted, stats.TotalScans)
}

func TestValidate_StoreClosed(t *testing.T) {
	s := setupTestStore(t, ticket("t1", 0, 3))
	e := newTestEngine(s)
	require.NoError(t, s.Close())

	out, err := e.Validate(context.Background(), "QR-t1")
	require.Error(t, err)
	assert.True(t, IsStorageFailure(err))
	assert.True(t, store.IsNotInitialized(err))
	assert.Equal(t, Outcome{}, out)
}

func TestValidate_FailedAppendRollsBackCount(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, ticket("t1", 0, 3), ticket("t2", 0, 3))

	// scan_id is unique, so the second append fails after the count update.
	e := New(s, WithScanIDs(NewFixedGenerator("dup", "dup")), WithLogger(discardLogger()))

	_, err := e.Validate(ctx, "QR-t1")
	require.NoError(t, err)

	_, err = e.Validate(ctx, "QR-t2")
	require.Error(t, err)
	assert.True(t, IsStorageFailure(err))
	assert.True(t, store.IsIOFailure(err))

	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "t2", ee.TicketID)

	got, err := s.TicketByID(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, 0, got.ScanCount, "no partial credit after a failed scan")

	logs, err := s.UnsyncedLogs(ctx)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestValidate_SeesReplacedCatalog(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, ticket("t1", 2, 3))
	e := newTestEngine(s)

	// Download is a snapshot replace: local progress on t1 is overwritten.
	require.NoError(t, s.ReplaceCatalog(ctx, nil, []model.Ticket{ticket("t1", 0, 3)}))

	out, err := e.Validate(ctx, "QR-t1")
	require.NoError(t, err)
	assert.Equal(t, 1, out.ScanCount)
}

func TestApplyServerCount(t *testing.T) {
	tests := []struct {
		name        string
		cached      int
		serverCount int
		wantCount   int
		wantChanged bool
	}{
		{"raises to server count", 1, 3, 3, true},
		{"clamps to max", 0, 9, 4, true},
		{"never decreases", 3, 2, 3, false},
		{"equal is a no-op", 2, 2, 2, false},
		{"negative is clamped to zero", 1, -5, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := setupTestStore(t, ticket("t1", tt.cached, 4))
			e := newTestEngine(s)

			changed, err := e.ApplyServerCount(ctx, "QR-t1", tt.serverCount)
			require.NoError(t, err)
			assert.Equal(t, tt.wantChanged, changed)

			got, err := s.TicketByID(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantCount, got.ScanCount)

			logs, err := s.Logs(ctx)
			require.NoError(t, err)
			assert.Empty(t, logs, "the authority already recorded the scan")
		})
	}
}

func TestApplyServerCount_UncachedPayload(t *testing.T) {
	s := setupTestStore(t, ticket("t1", 0, 2))
	e := newTestEngine(s)

	changed, err := e.ApplyServerCount(context.Background(), "QR-elsewhere", 1)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestApplyServerCount_StoreClosed(t *testing.T) {
	s := setupTestStore(t, ticket("t1", 0, 2))
	e := newTestEngine(s)
	require.NoError(t, s.Close())

	_, err := e.ApplyServerCount(context.Background(), "QR-t1", 1)
	require.Error(t, err)
	assert.True(t, IsStorageFailure(err))
}
