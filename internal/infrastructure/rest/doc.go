// Package rest is the HTTP fallback channel to microcontroller firmware.
//
// Every board runs a small web server next to its MQTT client:
//
//	GET  /alive                  board identity and uptime
//	GET  /deviceConfig           current device configuration
//	POST /deviceConfig           replace the device configuration
//	POST /microcontrollerConfig  namespace, project and broker settings
//
// The engine uses it when a broker publish fails, sending the exact bytes
// it tried to publish.
package rest
