// Package collector owns the poll service.
//
// Ownership boundary:
// - one poll loop per configured target: dial, login, collect, publish
// - failure backoff and per-cycle outcome bookkeeping
// - the HTTP surface serving cached snapshots, status, and metrics
//
// A failed target never blocks the others; the close-and-reconnect
// decision after a timeout lives here, not in the protocol client.
package collector
