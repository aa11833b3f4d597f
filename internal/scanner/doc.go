// Package scanner is the operator-facing facade over the offline engine, the
// sync coordinator and the remote authority.
//
// Each scan takes one mode snapshot and is routed on it: online scans are
// decided by the authority, offline scans by the local engine. The facade
// also owns the caller-side concerns the engine leaves out: one scan in
// flight at a time, and ignoring the same payload seen again inside the
// debounce window (a camera firing twice on one frame).
//
// Download and sync require connectivity, regardless of the operator's
// offline-mode switch.
package scanner
