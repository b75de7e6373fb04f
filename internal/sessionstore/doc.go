// Package sessionstore persists client sessions in SQLite.
//
// For every client identifier it keeps the ordered list of subscribed topic
// filters and the last connect and disconnect. When a client reconnects
// with clean_session disabled, the stored filters are loaded into
// mqtt.ConnectInfo.PreviousSubscriptions so incoming messages for the
// resumed session still reach a callback.
//
// Usage:
//
//	store := sessionstore.New(db)
//	records, err := store.Load(ctx, clientID)
//	info.PreviousSubscriptions = sessionstore.Subscriptions(records, onMessage)
package sessionstore
