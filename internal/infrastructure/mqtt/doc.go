// Package mqtt provides the shared MQTT connection of IoTZoo Core.
//
// One Client is opened per process and multiplexed by topic across every
// known microcontroller. The package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and size checks
//   - Subscriptions, restored automatically after a reconnect
//   - Last Will and Testament on the service status topic
//   - The microcontroller topic scheme (see Topics)
//
// # Topic scheme
//
// A microcontroller is addressed below its base topic:
//
//	{namespace}/{project}/{board}/{mac}
//
// Empty namespace or project segments are omitted. Configuration requests
// go to {base}/status, replies arrive on {base}/device_config and full
// configuration pushes are sent to {base}/save_device_config.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Sync.Namespace)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.SetOnConnect(engine.HandleConnected)
package mqtt
