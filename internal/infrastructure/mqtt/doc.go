// Package mqtt implements an MQTT 3.1.1 client core with QoS 0 and 1.
//
// This package manages:
//   - Connection lifecycle over a pluggable transport (CONNECT/DISCONNECT)
//   - PUBLISH with optional retransmission and exponential backoff
//   - SUBSCRIBE/UNSUBSCRIBE with a per-connection subscription registry
//   - Keep-alive (PINGREQ/PINGRESP) and dead-connection detection
//   - AWS IoT mode limits and metrics reporting
//
// # Architecture
//
// A Library owns two worker pools. The network pool runs the per-connection
// sender, PUBLISH retries and keep-alive; the callback pool runs user
// completion and subscription callbacks. Each Connection reads from its
// transport on the transport's own goroutine.
//
//	Application → Connection.Publish → sender job → transport
//	transport → receive callback → Operation / subscription registry → callback pool
//
// Every Operation and Connection is reference counted. A Connection is
// destroyed once Disconnect has been called and the last operation, timer
// and callback referencing it has finished.
//
// # Callbacks
//
// Callbacks run on a library worker goroutine. They must not block for
// long. Calling Wait on the operation that triggered the callback returns
// ErrBadParameter immediately.
//
// # Errors
//
// Every error carries a Status and can be matched with errors.Is against
// the Err* sentinels:
//
//	if errors.Is(err, mqtt.ErrTimeout) {
//	    // no acknowledgement in time
//	}
//
// # Usage
//
//	lib, err := mqtt.Init(mqtt.LibraryConfig{}, mqtt.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer lib.Cleanup()
//
//	conn, err := lib.Connect(&mqtt.NetworkInfo{
//	    CreateNetworkConnection: true,
//	    Interface:               network.TCP{DialTimeout: 5 * time.Second},
//	    Server:                  network.ServerInfo{Host: "localhost", Port: 1883},
//	}, &mqtt.ConnectInfo{
//	    ClientIdentifier: "sensor-1",
//	    CleanSession:     true,
//	    KeepAliveSeconds: 60,
//	}, 5*time.Second)
//	if err != nil {
//	    return err
//	}
//	defer conn.Disconnect(0)
//
//	err = conn.TimedPublish(&mqtt.PublishInfo{
//	    QoS:       mqtt.QoS1,
//	    TopicName: "devices/sensor-1/telemetry",
//	    Payload:   []byte(`{"t":21.5}`),
//	}, 0, 5*time.Second)
package mqtt
