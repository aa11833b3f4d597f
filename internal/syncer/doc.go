// Package syncer reconciles the local catalog and ledger with the authority.
//
// Download replaces the cached catalog with the authority's snapshot. It is
// a full replace, not a merge: scan progress recorded locally since the last
// download survives only in the ledger.
//
// Upload drains the ledger. The batch is submitted once; on any success
// response the uploaded rows are acknowledged, whatever the reported
// conflict count, because a conflict is a business outcome at the authority
// and the local row remains a faithful record of what this device did. A
// transport failure leaves every row unsynced for the next attempt.
//
// Rows are acknowledged through the highest ledger id that was sent, never
// by a blanket "mark everything". A scan recorded while the upload was on
// the network stays unsynced and goes out with the next batch.
//
// Download and Upload are serialized with each other. Neither holds a store
// lock while on the network, so offline scanning continues during a stuck
// request.
package syncer
