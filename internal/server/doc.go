// Package server implements the chat relay: it accepts stream connections,
// reassembles protocol frames from each one, tracks joined peers in a
// Registry, and fans every message out to all of them through a
// Broadcaster.
//
// The implementation is organized into specialized files for configuration,
// the peer registry, broadcasting, per-connection handling, the TCP
// listener, and the WebSocket gateway that lets browser peers share the
// same room.
package server
