package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation
// and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Protocol
	// ========================================================================
	KeyMID       = "mid"       // Open Protocol message ID (4 ASCII digits)
	KeyRevision  = "revision"  // Message revision
	KeySeq       = "seq"       // Link-level sequence number
	KeyDirection = "direction" // Frame direction: rx, tx
	KeyErrorCode = "error_code" // Protocol error code (MID 0004)

	// ========================================================================
	// Session & Connection
	// ========================================================================
	KeySessionID = "session_id" // Session identifier
	KeyRole      = "role"       // Session role: classic, actor, viewer
	KeyRemote    = "remote"     // Remote address of the client
	KeyPort      = "port"       // Listener or server port

	// ========================================================================
	// Controller State
	// ========================================================================
	KeyProfile      = "profile"       // Active controller profile
	KeyDomain       = "domain"        // State domain name (pset, vin, ...)
	KeyEventType    = "event_type"    // Injected event type
	KeyEventID      = "event_id"      // Injected event identifier
	KeyScenario     = "scenario"      // Scenario name
	KeyTighteningID = "tightening_id" // Tightening result counter

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyCount      = "count"       // Generic count
	KeyPath       = "path"        // File path (config, database, scenarios)
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// MID returns a slog.Attr for an Open Protocol message ID
func MID(mid string) slog.Attr {
	return slog.String(KeyMID, mid)
}

// Revision returns a slog.Attr for a message revision
func Revision(rev int) slog.Attr {
	return slog.Int(KeyRevision, rev)
}

// Seq returns a slog.Attr for a link-level sequence number
func Seq(seq int) slog.Attr {
	return slog.Int(KeySeq, seq)
}

// Direction returns a slog.Attr for the frame direction (rx or tx)
func Direction(d string) slog.Attr {
	return slog.String(KeyDirection, d)
}

// ErrorCode returns a slog.Attr for a protocol error code
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// SessionID returns a slog.Attr for a session identifier
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// Role returns a slog.Attr for a session role
func Role(role string) slog.Attr {
	return slog.String(KeyRole, role)
}

// Remote returns a slog.Attr for a client address
func Remote(addr string) slog.Attr {
	return slog.String(KeyRemote, addr)
}

// Port returns a slog.Attr for a listener port
func Port(port int) slog.Attr {
	return slog.Int(KeyPort, port)
}

// Profile returns a slog.Attr for the active controller profile
func Profile(name string) slog.Attr {
	return slog.String(KeyProfile, name)
}

// Domain returns a slog.Attr for a state domain name
func Domain(name string) slog.Attr {
	return slog.String(KeyDomain, name)
}

// EventType returns a slog.Attr for an injected event type
func EventType(t string) slog.Attr {
	return slog.String(KeyEventType, t)
}

// EventID returns a slog.Attr for an injected event identifier
func EventID(id string) slog.Attr {
	return slog.String(KeyEventID, id)
}

// Scenario returns a slog.Attr for a scenario name
func Scenario(name string) slog.Attr {
	return slog.String(KeyScenario, name)
}

// TighteningID returns a slog.Attr for the tightening result counter
func TighteningID(id int64) slog.Attr {
	return slog.Int64(KeyTighteningID, id)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Count returns a slog.Attr for a generic count
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}

// Path returns a slog.Attr for a file path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}
