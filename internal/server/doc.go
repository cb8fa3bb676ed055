// Package server implements the chat relay: WebSocket listener, connection
// registry, and the protocol state machine that routes posts, history
// replays, and latency probes.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, the relay, and HTTP handlers to keep the
// codebase maintainable and testable as the project grows.
package server
