// Package logging provides structured logging for mqttcore.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same handler and default fields.
//
// # Features
//
//   - JSON output for production, text output for development
//   - Default fields (service, version) on all log entries
//   - Component child loggers (component=mqtt, component=admin)
//   - Satisfies mqtt.Logger, so the core logs through it directly
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	lib, err := mqtt.Init(libCfg, mqtt.WithLogger(logger.Component("mqtt")))
//
// Never log broker passwords or InfluxDB tokens.
package logging
