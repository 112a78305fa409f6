// Package app is the application layer between the transports (HTTP, WebSocket,
// Kafka) and the principal store. It resolves credential tokens to principals.
package app
