// Package network provides the byte-stream transport used by the MQTT core.
//
// A Connection delivers inbound data by invoking a ReceiveCallback on its
// own goroutine whenever bytes are readable. The callback pulls exactly the
// bytes it needs with Receive and returns; the next invocation happens only
// after that. Send may be called from any goroutine.
//
// TCP implements Interface for plain TCP and TLS (minimum TLS 1.2, optional
// client certificates and ALPN for AWS IoT on port 443):
//
//	conn, err := network.TCP{DialTimeout: 5 * time.Second}.Create(
//	    network.ServerInfo{Host: "broker.local", Port: 8883},
//	    &network.Credentials{RootCAFile: "/etc/mqttcore/ca.pem"},
//	)
//
// NewConn wraps an existing net.Conn, which is how tests drive the MQTT
// core over net.Pipe.
package network
