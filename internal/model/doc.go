// Package model defines the catalog and ledger types shared by the store,
// the validation engine and the sync coordinator.
//
// Campaigns and tickets form the catalog: a snapshot of the remote authority
// downloaded for offline use and replaced wholesale on every download. Log
// entries form the ledger: one row per successful offline scan, append-only
// except for the synced flag.
package model
