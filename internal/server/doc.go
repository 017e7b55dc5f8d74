// Package server implements the core of the relay: the connection registry,
// the typed message router, the broadcast fan-out, and liveness eviction,
// together with the WebSocket transport and HTTP surface they ride on.
//
// The implementation is organized into specialized files for configuration,
// the registry, routing, hub management, clients, and HTTP handlers to keep
// the codebase maintainable and testable as the project grows.
package server
