// Package api serves the scanner service over a loopback HTTP/JSON API so a
// mobile or web shell can drive it, plus a WebSocket feed of scan outcomes,
// mode changes and sync results.
package api
