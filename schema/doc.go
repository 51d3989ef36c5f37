// Package schema defines the wire-stable types exchanged between producers,
// samplers and the replay store core.
//
// The core never interprets chunk payloads beyond the declared sequence
// range; payload bytes are opaque. Field semantics are stable across
// checkpoints, so changing them is a breaking-change boundary.
package schema
