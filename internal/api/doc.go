// Package api implements the HTTP REST API and WebSocket server of the NAD
// bridge.
//
// This package provides:
//   - REST endpoints for receiver state, commands, health and metrics
//   - read access to the channel state history and the audit log
//   - a WebSocket hub broadcasting receiver channel changes
//   - the middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// Commands posted to /api/v1/commands run through the same bridge path as
// MQTT commands, so they are counted and audited identically. The Hub is
// registered as a bridge state observer and relays every change to
// WebSocket clients subscribed to "state.changed".
//
// # Graceful Degradation
//
// History and audit endpoints answer 503 when their stores are not
// configured. The server runs without MQTT; health reports the broker
// link only when a client is supplied.
package api
