// Package store provides SQLite-backed durable storage for the offline
// catalog and the validation ledger.
//
// The store holds three entities:
//   - Campaigns: downloaded campaign snapshot
//   - Tickets: downloaded ticket snapshot with the local scan count
//   - Validation logs: append-only ledger of offline scans
//
// plus a small meta table for device metadata that survives ClearAll.
//
// # Write Discipline
//
// All writes go through one SQLite connection (single writer). Every logical
// operation is one transaction:
//   - ReplaceCatalog clears and repopulates campaigns and tickets atomically,
//     so a concurrent reader sees either the old or the new catalog
//   - Update runs a read-decide-write sequence (lookup, count update, log
//     append) as one unit
//   - ClearAll empties all three tables atomically
//
// # Ledger Ordering
//
// Log ids come from an AUTOINCREMENT column, so they follow insertion order
// and are never reused, even after ClearAll. UnsyncedLogs returns rows in id
// order and MarkSyncedThrough acknowledges by id high-water mark.
//
// # Database Configuration
//
//   - WAL mode: readers never block on the writer
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//
// Two drivers are supported: github.com/mattn/go-sqlite3 ("sqlite3", cgo) and
// modernc.org/sqlite ("sqlite", pure Go, for cgo-free mobile builds).
package store
