package metrics

// OpenProtocolMetrics provides observability for the TCP protocol adapter.
//
// The interface is optional: pass nil to disable collection with zero
// overhead.
type OpenProtocolMetrics interface {
	// RecordConnectionAccepted increments the accepted-connection counter
	// for a listener role ("classic", "actor", "viewer").
	RecordConnectionAccepted(role string)

	// RecordConnectionClosed increments the closed-connection counter for a
	// listener role.
	RecordConnectionClosed(role string)

	// SetActiveSessions updates the current session gauge.
	SetActiveSessions(count int32)

	// RecordFrame counts one protocol frame by direction ("rx" or "tx")
	// and MID.
	RecordFrame(direction, mid string)

	// RecordEventPublished counts one injected event and the number of push
	// frames it produced across all sessions.
	RecordEventPublished(eventType string, pushed int)

	// RecordKeepaliveTimeout counts a session closed by the keep-alive
	// watchdog.
	RecordKeepaliveTimeout(role string)
}
