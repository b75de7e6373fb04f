// Package admin serves the local operator endpoint of the MQTT core.
//
// Routes:
//
//	GET /healthz                    connection state as JSON; 503 while disconnected
//	GET /metrics                    Prometheus exposition, when a metrics handler is set
//	GET /subscriptions              live and persisted subscriptions of the client
//	GET /subscriptions/{client_id}  persisted subscriptions of any client
//	GET /messages                   WebSocket stream of received messages
//
// When AdminConfig.JWTSecret is set every route except /healthz requires an
// HS256 bearer token issued by NewToken.
//
// Stream clients pick topics with ?filter= parameters or by sending
//
//	{"type":"subscribe","id":"1","filters":["sensors/#"]}
//
// and receive {"type":"message","payload":{"topic":...}} frames.
//
// The server follows the same lifecycle as the other infrastructure
// components:
//
//	srv, err := admin.New(deps)
//	srv.Start(ctx)
//	defer srv.Close()
package admin
