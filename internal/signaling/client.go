package signaling

// A signaling Client connects the signaling server and waits for a remote peer
// to initiate a call session.
type Client interface {
	// Listen connects to the signaling server and handles incoming sessions.
	//
	// Blocks until an error occurs or until the client is explicitly shut down.
	Listen() error

	// Shutdown interrupts the signaling client.
	Shutdown() error
}

// NewClient returns a new signaling Client.
var NewClient func(handler SessionHandler) (Client, error)

// SessionHandler processes one browser session. It is invoked in its own
// goroutine for each incoming call and should run until the session's
// Context is done.
type SessionHandler func(*Session)

// Listen constructs the default signaling Client (selected by the build's
// NewClient implementation, e.g. the local websocket signaler) and blocks
// handling incoming sessions with handler until an error occurs.
func Listen(handler SessionHandler) error {
	client, err := NewClient(handler)
	if err != nil {
		return err
	}
	return client.Listen()
}
