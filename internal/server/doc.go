// Package server implements the authoritative game server for the arena.
//
// A single Hub goroutine owns the world and the session registry and runs
// the fixed-rate simulation tick. Each WebSocket connection is a Session with
// its own read and write pumps; sessions reach the hub only through channels,
// so there is no lock shared between connections. The implementation is
// organized into files for configuration, the hub loop, the registry,
// sessions, routing, and HTTP handlers.
package server
