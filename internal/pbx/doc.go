// Package pbx owns result normalization for the read-action catalog.
//
// Ownership boundary:
// - typed snapshot structs for system info, endpoints, registrations,
//   channels, and queues
// - per-action block-to-struct mapping and the queue event grouping
// - command output normalization for both server output shapes
//
// The package consumes ami blocks and produces caller-owned values; it
// never touches the transport directly.
package pbx
