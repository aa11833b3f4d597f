package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oneTicketScenario(name string, flow []Step, assertions ...Assertion) *Scenario {
	if len(assertions) == 0 {
		assertions = []Assertion{{Type: AssertTraceCount, Action: ActionDownload, Count: 1}}
	}
	return &Scenario{
		Name:        name,
		Description: name,
		Catalog: CatalogSpec{
			Campaigns: []CampaignSpec{{ID: "c1", Name: "Opening Night"}},
			Tickets:   []TicketSpec{{TicketID: "t1", QRPayload: "QR-t1", MaxScans: 2}},
		},
		Flow:       append([]Step{{Action: ActionDownload}}, flow...),
		Assertions: assertions,
	}
}

func boolPtr(b bool) *bool { return &b }

func TestRun_OfflineScan(t *testing.T) {
	scenario := oneTicketScenario("offline_scan", []Step{
		{Action: ActionSetMode, OfflineMode: boolPtr(true)},
		{Action: ActionScan, Payload: "QR-t1", Expect: &ExpectClause{
			Case:   "accepted",
			Result: map[string]any{"scan_id": "scan-0001", "source": "offline", "tier": "success"},
		}},
	},
		Assertion{Type: AssertFinalState, Table: "validation_logs", Where: map[string]any{"ticket_id": "t1"}, Expect: map[string]any{"synced": false}},
	)

	result, err := Run(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Len(t, result.Trace, 6)

	last := result.Trace[len(result.Trace)-1]
	assert.Equal(t, EventCompletion, last.Type)
	assert.Equal(t, int64(6), last.Seq)
	assert.Equal(t, 1, last.Result["scan_count"])
}

func TestRun_ExpectMismatch(t *testing.T) {
	scenario := oneTicketScenario("mismatch", []Step{
		{Action: ActionScan, Payload: "QR-t1", Expect: &ExpectClause{Case: "rejected"}},
		{Action: ActionScan, Payload: "QR-t1", Expect: &ExpectClause{
			Case:   "accepted_final",
			Result: map[string]any{"scan_count": 5, "seat": "A1"},
		}},
	})

	result, err := Run(t, scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], `expected case "rejected", got "accepted"`)
	assert.Contains(t, result.Errors[1]+result.Errors[2], `"scan_count" = 2, want 5`)
	assert.Contains(t, result.Errors[1]+result.Errors[2], `"seat" missing`)
}

func TestRun_ErrorCases(t *testing.T) {
	scenario := oneTicketScenario("error_cases", []Step{
		{Action: ActionSetMode, Online: boolPtr(false)},
		{Action: ActionDownload, Expect: &ExpectClause{Case: "DISCONNECTED"}},
		{Action: ActionSync},
	})

	result, err := Run(t, scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "flow[3] sync: unexpected error")

	completion := result.Trace[len(result.Trace)-1]
	assert.Equal(t, "DISCONNECTED", completion.OutputCase)
	assert.Nil(t, completion.Result)
}

func TestRun_ServerFault(t *testing.T) {
	scenario := oneTicketScenario("server_fault", []Step{
		{Action: ActionFailNext, Path: "/validation/scan", Status: 502},
		{Action: ActionScan, Payload: "QR-t1", Expect: &ExpectClause{Case: "SERVER_ERROR"}},
		{Action: ActionFailNext, Path: "/validation/scan", Status: 404},
		{Action: ActionScan, Payload: "QR-t1", Expect: &ExpectClause{
			Case:   "rejected",
			Result: map[string]any{"reason": "denied", "message": "injected fault"},
		}},
		{Action: ActionFailNext, Path: "/validation/scan", Status: 401},
		{Action: ActionScan, Payload: "QR-t1", Expect: &ExpectClause{Case: "UNAUTHORIZED"}},
	},
		Assertion{Type: AssertServerTicket, Ticket: "t1", Expect: map[string]any{"scan_count": 0}},
		Assertion{Type: AssertServerCalls, Path: "/validation/scan", Count: 3},
	)

	result, err := Run(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ClearAndLogout(t *testing.T) {
	scenario := oneTicketScenario("clear_and_logout", []Step{
		{Action: ActionSetMode, OfflineMode: boolPtr(true)},
		{Action: ActionScan, Payload: "QR-t1", Expect: &ExpectClause{Case: "accepted"}},
		{Action: ActionClear, Expect: &ExpectClause{Case: CaseOK}},
		{Action: ActionStats, Expect: &ExpectClause{
			Case:   CaseOK,
			Result: map[string]any{"mode": "online", "total_tickets": 0, "total_scans": 0},
		}},
		{Action: ActionSetMode, OfflineMode: boolPtr(true)},
		{Action: ActionScan, Payload: "QR-t1", Expect: &ExpectClause{
			Case:   "rejected",
			Result: map[string]any{"reason": "not_found"},
		}},
		{Action: ActionLogout, Expect: &ExpectClause{Case: CaseOK}},
	},
		Assertion{Type: AssertServerCalls, Path: "/auth/logout", Count: 1},
	)

	result, err := Run(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	stats := result.Trace[9]
	assert.Equal(t, ActionStats, stats.Action)
	assert.Contains(t, stats.Result, "online_today", "clearing data turns offline mode off")
}

func TestRun_Deterministic(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)

	for _, scenario := range scenarios {
		first, err := Run(t, scenario)
		require.NoError(t, err)
		second, err := Run(t, scenario)
		require.NoError(t, err)

		a, err := MarshalTrace(scenario.Name, first)
		require.NoError(t, err)
		b, err := MarshalTrace(scenario.Name, second)
		require.NoError(t, err)
		assert.Equal(t, string(a), string(b), scenario.Name)
	}
}

func TestRun_FreshStatePerRun(t *testing.T) {
	scenario := oneTicketScenario("fresh_state", []Step{
		{Action: ActionSetMode, OfflineMode: boolPtr(true)},
		{Action: ActionScan, Payload: "QR-t1", Expect: &ExpectClause{
			Case:   "accepted",
			Result: map[string]any{"scan_count": 1, "scan_id": "scan-0001"},
		}},
	})

	for i := 0; i < 2; i++ {
		result, err := Run(t, scenario)
		require.NoError(t, err)
		assert.True(t, result.Pass, "run %d errors: %v", i, result.Errors)
	}
}

func TestStepArgs(t *testing.T) {
	assert.Nil(t, stepArgs(Step{Action: ActionSync}))
	assert.Equal(t,
		map[string]any{"payload": "QR-t1", "mode": "offline"},
		stepArgs(Step{Action: ActionScan, Payload: "QR-t1", Mode: "offline"}))
	assert.Equal(t,
		map[string]any{"offline_mode": false, "online": true},
		stepArgs(Step{Action: ActionSetMode, OfflineMode: boolPtr(false), Online: boolPtr(true)}))
	assert.Equal(t,
		map[string]any{"path": "/validation/scan", "status": 503},
		stepArgs(Step{Action: ActionFailNext, Path: "/validation/scan", Status: 503}))
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)

	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
