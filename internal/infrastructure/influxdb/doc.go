// Package influxdb writes MQTT client telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management and batched non-blocking writes, and provides Telemetry, an
// mqtt.Observer that turns core events into points:
//
//   - mqtt_operation: one point per completed operation (status, latency)
//   - mqtt_connection: opened and closed events with the disconnect reason
//   - mqtt_incoming: inbound PUBLISH sizes
//   - mqtt_keepalive: PINGREQ count
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	lib, err := mqtt.Init(libCfg, mqtt.WithObserver(influxdb.NewTelemetry(client)))
//
// # Error Handling
//
// Writes never block the caller. Batch failures are delivered to the
// SetOnError callback; connection and health check errors are returned.
package influxdb
