// Package broadcast holds the live WebSocket connection registry.
//
// The Registry is an actor: one goroutine owns the per-principal and per-role-class
// connection lists and serves connect, disconnect and send commands from a channel, so
// no mutex guards the maps. Every connection has its own writer goroutine fed by a
// bounded buffer; a full buffer or a dead transport makes a send fail, and failed
// connections are pruned after the send loop has finished.
package broadcast
