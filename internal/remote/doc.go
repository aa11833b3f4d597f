// Package remote is the HTTP/JSON client for the ticketing authority.
//
// The authority is the system of record. The client covers the calls the
// scanner makes: online validation, offline catalog download, ledger upload,
// the operator's online stats, and logout. Login is handled elsewhere; the
// session arrives as a cookie seeded into the client's jar.
//
// Every failure is a *NetworkError. Unreachable means the request never got
// a response (dial, TLS, timeout, cancellation). ServerError means the
// authority answered with a non-2xx status, an envelope with success=false,
// or a body that could not be decoded.
package remote
