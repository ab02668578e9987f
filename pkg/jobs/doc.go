// Package jobs talks to the AI job backend on behalf of signed-in users.
//
// Client.Trigger submits a job over HTTP. Client.Relay attaches to the
// backend's per-user WebSocket feed and forwards its messages to a Sink,
// typically an SSE stream opened by the browser:
//
//	err := client.Relay(ctx, userID, token, sessionID, stream)
//
// The relay adds its own status frames and drops job updates that belong
// to another browser session. When the backend socket drops it redials
// after a fixed delay. It returns nil once ctx is canceled.
package jobs
