// Package reconcile keeps the device configuration of each microcontroller
// synchronized between IoTZoo Core and the board.
//
// The Engine owns one session per microcontroller, keyed by MAC. A session
// holds the in-memory mirror of the board's device list and a small state
// machine:
//
//	Disconnected -> Connecting -> AwaitingRemoteConfig -> Synced
//	Synced -> Pushing -> Synced
//	Pushing -> PushFailedFallback -> Synced | PushFailed
//
// All sessions share the single process-wide MQTT connection. Inbound
// snapshots are routed to their session by topic and replace the mirror
// wholesale. Pushes always carry the complete device list. When the broker
// publish fails the same bytes are posted to the board's web server.
//
// Callers only ever see deep copies of a mirror; edits go through the
// Engine's methods, which validate the would-be list before applying it.
//
// # Events
//
// Interested parties subscribe on the Engine's Bus:
//
//	engine.Bus().Subscribe("ws-hub", reconcile.EventRemoteConfigReceived, hub.onReceived)
//
// Subscribing again with the same name replaces the earlier handler.
package reconcile
