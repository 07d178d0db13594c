// Package api implements the HTTP REST API and WebSocket server of IoTZoo Core.
//
// This package provides:
//   - REST endpoints over the template catalog and the per-board sessions
//     of the reconciliation engine (edit, push, save, request, fetch)
//   - A WebSocket hub relaying engine events to subscribed clients
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support for production deployments
//
// # Architecture
//
// The API sits in front of reconcile.Engine. Edits go to the session mirror
// and are validated there; nothing reaches a board until a client calls
// push. Engine events (config.received, config.conflict, push.completed,
// transport.connected, transport.disconnected) are forwarded to WebSocket
// clients subscribed to the channel of the same name.
//
// # Errors
//
// Every failure is a JSON Error envelope. Validation failures map to 400,
// unknown boards or devices to 404, stale saves and pushes in flight to 409
// and an unreachable board to 502.
package api
