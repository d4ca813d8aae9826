// Package simulator holds the in-memory state of the torque controller
// simulator: connected sessions, the domain state tree, traffic and event
// rings, and the payload builders that materialize reply data.
//
// All shared state lives behind the State mutex; values handed to callers
// are deep copies so no aliasing leaks outside the package.
package simulator

import (
	"sort"
	"sync"
	"time"

	"github.com/marmos91/opsim/internal/protocol/openprotocol"
)

// Role is the connection role implied by the TCP port a client dialed.
type Role string

const (
	RoleClassic Role = "classic"
	RoleActor   Role = "actor"
	RoleViewer  Role = "viewer"
)

// AckMode selects between application-level replies only and link-level
// sequence acknowledgment (MIDs 9997/9998).
type AckMode string

const (
	AckModeApplication AckMode = "application"
	AckModeLinkLevel   AckMode = "link_level"
)

// MessageWriter is the outbound half of a session. Implementations must
// serialize concurrent writes; both the dispatch loop and the event
// publisher write through it.
type MessageWriter interface {
	WriteMessage(msg openprotocol.Message) error
	Close() error
}

// Session is the per-connection protocol state.
//
// The owning connection goroutine, the event publisher and the keep-alive
// watchdog all touch a session, so every mutable field is guarded by mu.
// External observers get copies through Snapshot.
type Session struct {
	ID      string
	Role    Role
	Remote  string
	Created time.Time

	mu            sync.Mutex
	lastActivity  time.Time
	ackMode       AckMode
	nextTxSeq     int
	nextRxSeq     int
	lastRxSeq     int
	commStarted   bool
	subscriptions map[string]struct{}
	lastLinkAck   *openprotocol.Message

	// Writer is set once by the accepting connection before the session is
	// registered and never mutated afterwards.
	Writer MessageWriter
}

// SessionSnapshot is the copy-safe view of a session exposed over the
// control plane.
type SessionSnapshot struct {
	SessionID            string   `json:"session_id"`
	Role                 Role     `json:"role"`
	Remote               string   `json:"remote"`
	CreatedAt            string   `json:"created_at"`
	LastActivity         string   `json:"last_activity"`
	AckMode              AckMode  `json:"ack_mode"`
	NextTxSeq            int      `json:"next_tx_seq"`
	NextRxSeq            int      `json:"next_rx_seq"`
	CommunicationStarted bool     `json:"communication_started"`
	Subscriptions        []string `json:"subscriptions"`
}

// NewSession creates a session in application ack mode with both sequence
// counters at 1.
func NewSession(id string, role Role, remote string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:            id,
		Role:          role,
		Remote:        remote,
		Created:       now,
		lastActivity:  now,
		ackMode:       AckModeApplication,
		nextTxSeq:     1,
		nextRxSeq:     1,
		subscriptions: make(map[string]struct{}),
	}
}

// Touch refreshes the keep-alive activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()
}

// LastActivity returns the most recent activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Started reports whether MID 0001 completed on this session.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commStarted
}

// SetStarted marks or clears the communication-started flag.
func (s *Session) SetStarted(started bool) {
	s.mu.Lock()
	s.commStarted = started
	s.mu.Unlock()
}

// Subscribe adds a normalized MID to the subscription set.
func (s *Session) Subscribe(mid string) {
	s.mu.Lock()
	s.subscriptions[openprotocol.NormalizeMID(mid)] = struct{}{}
	s.mu.Unlock()
}

// Unsubscribe removes a MID from the subscription set.
func (s *Session) Unsubscribe(mid string) {
	s.mu.Lock()
	delete(s.subscriptions, openprotocol.NormalizeMID(mid))
	s.mu.Unlock()
}

// ClearSubscriptions drops every subscription.
func (s *Session) ClearSubscriptions() {
	s.mu.Lock()
	s.subscriptions = make(map[string]struct{})
	s.mu.Unlock()
}

// Subscriptions returns the sorted subscription list.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subscriptions))
	for mid := range s.subscriptions {
		out = append(out, mid)
	}
	sort.Strings(out)
	return out
}

// SubscriptionTargets expands the subscription set into the notification
// MIDs the session should receive: for every subscribed MID, the static
// target mapping plus the MID itself.
func (s *Session) SubscriptionTargets() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets := make(map[string]struct{}, len(s.subscriptions)*2)
	for sub := range s.subscriptions {
		targets[sub] = struct{}{}
		for _, target := range subscriptionTargets[sub] {
			targets[target] = struct{}{}
		}
	}
	return targets
}

// ResolveLinkAck applies the link-layer sequence rules to an inbound frame.
//
// It returns whether the frame should be dispatched and, when required, the
// 9997/9998 acknowledgment to emit first. Duplicates (same sequence as the
// last accepted frame) replay the previous ack and skip dispatch;
// out-of-sequence frames are NACKed with error 03 and skipped.
func (s *Session) ResolveLinkAck(msg openprotocol.Message) (process bool, ack *openprotocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !msg.Header.HasSequence() {
		s.ackMode = AckModeApplication
		return true, nil
	}

	s.ackMode = AckModeLinkLevel
	seq := msg.Header.Sequence()
	expected := s.nextRxSeq

	if seq == expected {
		next := openprotocol.NextSequence(expected)
		s.nextRxSeq = next
		s.lastRxSeq = seq
		out := openprotocol.Build(openprotocol.MIDLinkAck, []byte(msg.MID()), openprotocol.WithSequence(next))
		s.lastLinkAck = &out
		return true, &out
	}

	if seq == s.lastRxSeq && s.lastLinkAck != nil {
		replay := *s.lastLinkAck
		return false, &replay
	}

	nack := openprotocol.Build(
		openprotocol.MIDLinkNack,
		openprotocol.ErrorPayload(msg.MID(), openprotocol.CodeInvalidSequence),
		openprotocol.WithSequence(expected),
	)
	s.lastLinkAck = &nack
	return false, &nack
}

// StampOutbound assigns the next transmit sequence to an outbound message
// when the session runs in link-level mode. Link acks (9997/9998) carry
// their own sequence and never consume a transmit slot.
func (s *Session) StampOutbound(msg openprotocol.Message) openprotocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ackMode != AckModeLinkLevel {
		return msg
	}
	if msg.MID() == openprotocol.MIDLinkAck || msg.MID() == openprotocol.MIDLinkNack {
		return msg
	}
	seq := s.nextTxSeq
	s.nextTxSeq = openprotocol.NextSequence(seq)
	return openprotocol.Rebuild(msg, seq)
}

// ResetLink restores the session to its initial protocol state: application
// ack mode, both counters at 1, no subscriptions, communication stopped.
func (s *Session) ResetLink() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ackMode = AckModeApplication
	s.nextTxSeq = 1
	s.nextRxSeq = 1
	s.lastRxSeq = 0
	s.lastLinkAck = nil
	s.commStarted = false
	s.subscriptions = make(map[string]struct{})
}

// Snapshot returns a copy-safe view of the session.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]string, 0, len(s.subscriptions))
	for mid := range s.subscriptions {
		subs = append(subs, mid)
	}
	sort.Strings(subs)
	return SessionSnapshot{
		SessionID:            s.ID,
		Role:                 s.Role,
		Remote:               s.Remote,
		CreatedAt:            s.Created.Format(time.RFC3339),
		LastActivity:         s.lastActivity.Format(time.RFC3339),
		AckMode:              s.ackMode,
		NextTxSeq:            s.nextTxSeq,
		NextRxSeq:            s.nextRxSeq,
		CommunicationStarted: s.commStarted,
		Subscriptions:        subs,
	}
}
