package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementPush     = "config_push"
	MeasurementSnapshot = "config_snapshot"
)

// RecordPush writes one push attempt. channel is "mqtt", "http" or "none"
// when both channels failed.
func (c *Client) RecordPush(mac, channel string, ok bool, duration time.Duration, devices int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(pushPoint(mac, channel, ok, duration, devices, time.Now()))
}

// RecordSnapshot writes one inbound configuration snapshot.
func (c *Client) RecordSnapshot(mac string, applied bool, devices int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(snapshotPoint(mac, applied, devices, time.Now()))
}

func pushPoint(mac, channel string, ok bool, duration time.Duration, devices int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementPush,
		map[string]string{
			"mac":     mac,
			"channel": channel,
			"outcome": outcome(ok, "success", "failure"),
		},
		map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"devices":     devices,
		},
		ts,
	)
}

func snapshotPoint(mac string, applied bool, devices int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementSnapshot,
		map[string]string{
			"mac":    mac,
			"result": outcome(applied, "applied", "discarded"),
		},
		map[string]interface{}{
			"devices": devices,
		},
		ts,
	)
}

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
