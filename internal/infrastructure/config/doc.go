// Package config handles loading and validating mqttcore configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with MQTTCORE_* environment variables (envdecode tags)
//   - Generating a client identifier when none is configured
//   - Validation of required fields
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/mqttcore.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Broker.Host, cfg.Connect.ClientID)
package config
