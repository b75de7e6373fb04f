// Package supervisor reruns a long-lived session when it fails.
//
// The MQTT core has no reconnect of its own: a Connection that loses its
// transport stays disconnected. The binary wraps one broker session (connect,
// subscribe, wait) in a SessionFunc and lets the Supervisor start a new one
// after a backoff delay.
//
// Features:
//   - Exponential backoff from RestartDelay up to MaxRestartDelay
//   - Attempt counter reset once a session has been stable for StableThreshold
//     or has called ready
//   - Optional cap on consecutive restarts
//   - Non-recoverable errors stop the loop immediately
//
// Example usage:
//
//	sup := supervisor.New(supervisor.Config{
//	    Name:         "mqtt-session",
//	    RestartDelay: time.Second,
//	})
//	sup.SetLogger(log)
//
//	err := sup.Run(ctx, func(ctx context.Context, ready func()) error {
//	    conn, err := lib.Connect(netInfo, info, timeout)
//	    if err != nil {
//	        return err
//	    }
//	    defer conn.Disconnect(0)
//	    ready()
//	    return waitForLoss(ctx, conn)
//	})
package supervisor
