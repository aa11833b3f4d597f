// Package engine implements offline ticket validation.
//
// While the device is disconnected the engine is the local authority: it
// looks a scanned payload up in the cached catalog, enforces the bounded
// redemption rule the server enforces, and records every accepted scan in
// the ledger for later upload.
//
// DECISION FLOW:
//
// 1. Lookup by exact payload. No match → Rejected{NotFound}. Nothing is written.
// 2. scanCount >= maxScans → Rejected{AlreadyUsed}. Nothing is written.
// 3. Otherwise scanCount+1 is persisted and a ledger entry is appended.
// Accepted while scans remain, AcceptedFinal on the last permitted scan.
//
// Decide is the pure part of the flow. Engine.Validate runs lookup, decision
// and writes inside one store transaction, so the count update and the
// ledger append commit together or not at all, and concurrent scans of one
// ticket can never push scanCount past maxScans.
//
// A store failure surfaces as EngineError. The scan is not validated and no
// partial credit is kept.
//
// The same ticket scanned twice is validated twice. The engine has no notion
// of a repeated request, only of remaining allowance; debouncing a camera
// that fires twice on one frame belongs to the caller.
package engine
