// Package ami owns the manager-interface wire contract and session client.
//
// Ownership boundary:
// - block framing and greeting parsing
// - action encoding and ActionID correlation
// - login gating and the execute completion rules
// - list terminal-marker registry
//
// The package is read-path only. It issues queries and consumes their
// responses; it never originates calls or mutates server state beyond
// Login and Logoff.
package ami
