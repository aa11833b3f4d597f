// Package harness runs scripted gate sessions against the real scanner
// service and checks them against golden traces.
//
// Each scenario gets a fresh database, a fake ticketing server serving the
// scenario catalog, a manual clock and sequential scan ids, so the recorded
// trace is identical across runs.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: offline_round_trip
//	description: "A three-scan ticket admits three times offline"
//	catalog:
//	  campaigns:
//	    - { id: c1, name: Opening Night }
//	  tickets:
//	    - { ticket_id: t1, qr_payload: QR-t1, max_scans: 3 }
//	flow:
//	  - action: download
//	  - action: set_mode
//	    offline_mode: true
//	  - action: scan
//	    payload: QR-t1
//	    expect:
//	      case: accepted
//	      result: { scan_count: 1 }
//	assertions:
//	  - type: final_state
//	    table: tickets
//	    where: { ticket_id: t1 }
//	    expect: { scan_count: 1 }
//
// Steps: scan, download, sync, stats, clear, logout, set_mode, advance
// (moves the clock), fail_next (queues a server fault for a path) and
// server_scan (another gate redeems a ticket online).
//
// A step's output case is the verdict for scans, "ok" for other successful
// steps, or the error code for a failed step (for example DISCONNECTED or
// SERVER_ERROR).
//
// # Assertion Types
//
//   - trace_contains: an action appears in the trace with matching args
//   - trace_order: actions appear in the specified order
//   - trace_count: an action appears exactly N times
//   - final_state: a local table row holds the expected values
//   - server_ticket: the server's copy of a ticket holds the expected values
//   - server_calls: a server path received exactly N requests
package harness
