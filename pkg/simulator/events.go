package simulator

import (
	"time"
)

// Event types accepted by the injection endpoint. Unknown types are
// recorded verbatim without mutating the domain tree.
const (
	EventTightening = "tightening"
	EventAlarm      = "alarm"
	EventIOChange   = "io_change"
	EventTrace      = "trace"
)

// subscriptionTargets maps a subscription MID to the notification MIDs it
// unlocks. Subscribing to a MID also authorizes pushes of the MID itself,
// which covers generic data subscriptions taken out via MID 0008.
var subscriptionTargets = map[string][]string{
	"0014": {"0015"},
	"0021": {"0022"},
	"0034": {"0035"},
	"0051": {"0052"},
	"0060": {"0061"},
	"0070": {"0071"},
	"0090": {"0091"},
	"0100": {"0101"},
	"0105": {"0106", "0107"},
	"0120": {"0121", "0122", "0123", "0124"},
	"0151": {"0152"},
	"0210": {"0211"},
	"0216": {"0217"},
	"0220": {"0221"},
	"0241": {"0242"},
	"0250": {"0251"},
	"0261": {"0262"},
	"0400": {"0401"},
	"0420": {"0421"},
	"0500": {"0501"},
	"0901": {"0900"},
	"8000": {"8001"},
}

// defaultEventMIDs lists which notification MIDs an injected event touches
// when the caller does not name them explicitly.
var defaultEventMIDs = map[string][]string{
	EventTightening: {"0061", "1201", "1202"},
	EventAlarm:      {"0071", "1000"},
	EventIOChange:   {"0211", "0217", "0221"},
	EventTrace:      {"0900"},
}

// SubscriptionTargetsFor returns the push MIDs a subscription MID unlocks
// beyond itself. The returned slice is shared and must not be mutated.
func SubscriptionTargetsFor(mid string) []string {
	return subscriptionTargets[mid]
}

// Event is an injected simulation event: it is recorded in the event ring
// and fanned out to subscribed sessions by the publisher.
type Event struct {
	EventID      string         `json:"event_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Source       string         `json:"source"`
	Type         string         `json:"event_type"`
	Payload      map[string]any `json:"payload"`
	AffectedMIDs []string       `json:"affected_mids"`
}

// TrafficRecord is one captured frame, either direction, as exposed over
// the control plane and appended to the persistence store.
type TrafficRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"session_id"`
	Role        Role      `json:"role"`
	Direction   string    `json:"direction"`
	MID         string    `json:"mid"`
	Revision    int       `json:"revision"`
	Length      int       `json:"length"`
	RawASCII    string    `json:"raw_ascii"`
	DecodedData string    `json:"decoded_data"`
}

// Traffic directions.
const (
	DirectionRx = "rx"
	DirectionTx = "tx"
)
