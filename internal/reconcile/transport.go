package reconcile

import (
	"context"
	"time"

	"github.com/iotzoo/iotzoo-core/internal/device"
)

// Transport is the shared publish/subscribe connection.
// *mqtt.Client implements it.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
	IsConnected() bool
}

// Fallback is the direct channel to a board's web server.
// *rest.Client implements it.
type Fallback interface {
	PostDeviceConfig(ctx context.Context, ip string, payload []byte) error
	GetDeviceConfig(ctx context.Context, ip string) ([]byte, error)
	PostMicrocontrollerConfig(ctx context.Context, ip string, payload []byte) error
}

// Repository is the persistence the engine needs.
// *microcontroller.SQLiteRepository implements it.
type Repository interface {
	Get(ctx context.Context, mac string) (device.KnownMicrocontroller, error)
	ListEnabled(ctx context.Context) ([]device.KnownMicrocontroller, error)
	Register(ctx context.Context, mc device.KnownMicrocontroller) (device.KnownMicrocontroller, error)
	Save(ctx context.Context, mc device.KnownMicrocontroller, expected device.Fingerprint) (device.Fingerprint, error)
	SetEnabled(ctx context.Context, mac string, enabled bool) error
}

// Recorder receives synchronization metrics.
// *influxdb.Client implements it.
type Recorder interface {
	RecordPush(mac, channel string, ok bool, duration time.Duration, devices int)
	RecordSnapshot(mac string, applied bool, devices int)
}

// Logger defines the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopRecorder struct{}

func (noopRecorder) RecordPush(string, string, bool, time.Duration, int) {}
func (noopRecorder) RecordSnapshot(string, bool, int)                    {}
