// Package core holds transport-agnostic contracts shared by the app layer
// and the adapters. The app layer never touches websocket types directly.
package core

// Frame is a raw serialized signaling payload.
type Frame []byte

// ConnID is the ephemeral transport connection handle. A participant gets a
// new one on every reconnect; it is never used as an addressing key outside
// the registry.
type ConnID string

// SignalConnection abstracts the per-participant messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues a frame without blocking. It returns an error when
	// the connection is closed or its outbound buffer is full.
	TrySend(Frame) error
	Close()
}
