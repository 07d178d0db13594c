// Package config handles loading and validating IoTZoo Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading a local .env file
//   - Overriding with environment variables
//   - Validation of required fields
//
// Sensitive values (MQTT password, InfluxDB token) should be set via
// environment variables rather than the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Sync.Namespace)
package config
