// Package signaling is the connection-facing layer of the core: the WebSocket
// server, per-connection outbound queues, the wire relay that turns call
// transitions into client events, and the disconnect reconciler.
package signaling
