package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for simulator operations.
// Protocol keys use the "op." prefix (Open Protocol), control plane keys
// use "api." and "sim.".
const (
	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientAddr = "client.address"

	// ========================================================================
	// Protocol attributes
	// ========================================================================
	AttrMID       = "op.mid"        // Message ID (4 ASCII digits)
	AttrRevision  = "op.revision"   // Message revision
	AttrSeq       = "op.seq"        // Link-level sequence number
	AttrDirection = "op.direction"  // rx or tx
	AttrErrorCode = "op.error_code" // Protocol error code (MID 0004)

	// ========================================================================
	// Session attributes
	// ========================================================================
	AttrSessionID   = "session.id"
	AttrSessionRole = "session.role"

	// ========================================================================
	// Simulator attributes
	// ========================================================================
	AttrProfile   = "sim.profile"
	AttrEventType = "sim.event_type"
	AttrEventID   = "sim.event_id"
	AttrScenario  = "sim.scenario"
	AttrDomain    = "sim.domain"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	// Root span for one inbound protocol frame
	SpanFrame = "op.frame"

	// Dispatching a frame to its handler
	SpanDispatch = "op.dispatch"

	// Pushing subscription data to a session
	SpanPush = "op.push"

	// Event injection including state side effects
	SpanInject = "sim.inject"

	// Scenario replay
	SpanScenario = "sim.scenario"

	// State snapshot persistence
	SpanSaveState = "sim.save_state"
)

// ClientAddr returns an attribute for the full client address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// MID returns an attribute for a message ID
func MID(mid string) attribute.KeyValue {
	return attribute.String(AttrMID, mid)
}

// Revision returns an attribute for a message revision
func Revision(rev int) attribute.KeyValue {
	return attribute.Int(AttrRevision, rev)
}

// Seq returns an attribute for a link-level sequence number
func Seq(seq int) attribute.KeyValue {
	return attribute.Int(AttrSeq, seq)
}

// Direction returns an attribute for the frame direction (rx or tx)
func Direction(d string) attribute.KeyValue {
	return attribute.String(AttrDirection, d)
}

// ProtocolErrorCode returns an attribute for a protocol error code
func ProtocolErrorCode(code int) attribute.KeyValue {
	return attribute.Int(AttrErrorCode, code)
}

// SessionIDAttr returns an attribute for a session identifier
func SessionIDAttr(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

// SessionRole returns an attribute for a session role
func SessionRole(role string) attribute.KeyValue {
	return attribute.String(AttrSessionRole, role)
}

// Profile returns an attribute for the active controller profile
func Profile(name string) attribute.KeyValue {
	return attribute.String(AttrProfile, name)
}

// EventType returns an attribute for an injected event type
func EventType(t string) attribute.KeyValue {
	return attribute.String(AttrEventType, t)
}

// EventID returns an attribute for an injected event identifier
func EventID(id string) attribute.KeyValue {
	return attribute.String(AttrEventID, id)
}

// Scenario returns an attribute for a scenario name
func Scenario(name string) attribute.KeyValue {
	return attribute.String(AttrScenario, name)
}

// Domain returns an attribute for a state domain name
func Domain(name string) attribute.KeyValue {
	return attribute.String(AttrDomain, name)
}

// StartFrameSpan starts a span for one inbound protocol frame.
func StartFrameSpan(ctx context.Context, mid string, sessionID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		MID(mid),
		SessionIDAttr(sessionID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanFrame, trace.WithAttributes(allAttrs...))
}

// StartInjectSpan starts a span for an event injection.
func StartInjectSpan(ctx context.Context, eventType string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		EventType(eventType),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanInject, trace.WithAttributes(allAttrs...))
}

// StartScenarioSpan starts a span for a scenario replay.
func StartScenarioSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Scenario(name),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanScenario, trace.WithAttributes(allAttrs...))
}
