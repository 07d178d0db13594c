package reconcile

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iotzoo/iotzoo-core/internal/device"
)

// SessionState is the synchronization state of one microcontroller.
type SessionState int

// Session states.
const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateAwaitingRemoteConfig
	StateSynced
	StatePushing
	StatePushFailedFallback
	StatePushFailed
)

var stateNames = [...]string{
	StateDisconnected:         "disconnected",
	StateConnecting:           "connecting",
	StateAwaitingRemoteConfig: "awaiting_remote_config",
	StateSynced:               "synced",
	StatePushing:              "pushing",
	StatePushFailedFallback:   "push_failed_fallback",
	StatePushFailed:           "push_failed",
}

// String returns the snake_case state name used in logs and the API.
func (s SessionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name produced by MarshalText.
func (s *SessionState) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = SessionState(i)
			return nil
		}
	}
	return fmt.Errorf("reconcile: unknown session state %q", text)
}

// Push channels.
const (
	ChannelMQTT = "mqtt"
	ChannelHTTP = "http"
	ChannelNone = "none"
)

// PushResult describes one push attempt.
type PushResult struct {
	ID          uuid.UUID          `json:"id"`
	MAC         string             `json:"mac"`
	Channel     string             `json:"channel"`
	Payload     []byte             `json:"-"`
	Fingerprint device.Fingerprint `json:"fingerprint"`
	State       SessionState       `json:"state"`
	Devices     int                `json:"devices"`
	StartedAt   time.Time          `json:"started_at"`
	Duration    time.Duration      `json:"duration_ns"`
	Error       string             `json:"error,omitempty"`
}

// SessionSnapshot is a point-in-time copy of a session.
type SessionSnapshot struct {
	Microcontroller device.KnownMicrocontroller `json:"microcontroller"`
	State           SessionState                `json:"state"`

	// Fingerprint digests the current mirror device list.
	Fingerprint device.Fingerprint `json:"fingerprint"`

	// Baseline is the fingerprint of the persisted record the edit started from.
	Baseline device.Fingerprint `json:"baseline"`

	// Dirty reports local edits the board has not confirmed yet.
	Dirty bool `json:"dirty"`

	// Stale reports a configuration request that went unanswered for
	// longer than the request timeout.
	Stale       bool        `json:"stale"`
	RequestedAt time.Time   `json:"requested_at,omitzero"`
	LastPush    *PushResult `json:"last_push,omitempty"`
}
