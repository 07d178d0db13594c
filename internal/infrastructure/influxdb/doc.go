// Package influxdb records configuration sync events in InfluxDB.
//
// It wraps influxdb-client-go v2 with a non-blocking, batched write API.
// Two measurements are written:
//   - config_push: one point per push attempt, tagged by microcontroller,
//     channel and outcome, with duration and device count fields
//   - config_snapshot: one point per inbound snapshot, tagged by
//     microcontroller and whether it was applied
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	engine := reconcile.New(..., reconcile.WithRecorder(client))
//
// Write errors are delivered asynchronously to the SetOnError callback.
package influxdb
