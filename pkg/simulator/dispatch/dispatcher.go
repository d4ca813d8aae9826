// Package dispatch turns inbound Open Protocol frames into reply frames.
//
// The dispatcher is a pure rule pipeline over the MID catalog, the active
// controller profile and the simulator state; it never touches sockets.
// Rule order matters: catalog membership, profile gate, revision gate,
// communication-start gate, then per-category handling.
package dispatch

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/marmos91/opsim/internal/protocol/openprotocol"
	"github.com/marmos91/opsim/pkg/catalog"
	"github.com/marmos91/opsim/pkg/simulator"
)

// requestToReply maps request MIDs whose reply does not follow the mid+1
// convention, plus a few that do but are pinned for clarity.
var requestToReply = map[string]string{
	"0010": "0011",
	"0012": "0013",
	"0030": "0031",
	"0032": "0033",
	"0040": "0041",
	"0050": "0052",
	"0064": "0065",
	"0080": "0081",
	"0214": "0215",
	"0260": "0262",
	"0300": "0301",
	"0410": "0411",
	"2600": "2601",
	"2602": "2603",
}

// Digit-run patterns for the field widths commands and requests carry.
var digitPatterns = map[int]*regexp.Regexp{
	2: regexp.MustCompile(`\d{2}`),
	3: regexp.MustCompile(`\d{3}`),
	4: regexp.MustCompile(`\d{4}`),
}

// extractDigits finds the first n consecutive digits in data, falling back
// to def when none exist.
func extractDigits(data string, n int, def string) string {
	pattern, ok := digitPatterns[n]
	if !ok {
		pattern = regexp.MustCompile(fmt.Sprintf(`\d{%d}`, n))
	}
	if m := pattern.FindString(data); m != "" {
		return m
	}
	return def
}

// Dispatcher resolves one inbound message to zero or more replies.
type Dispatcher struct {
	state *simulator.State
}

// New builds a dispatcher over the simulator state.
func New(state *simulator.State) *Dispatcher {
	return &Dispatcher{state: state}
}

// Dispatch applies the MID handling rules to one inbound frame and returns
// the application-level replies, in order. Link acks are resolved by the
// session before messages reach the dispatcher.
func (d *Dispatcher) Dispatch(sess *simulator.Session, msg openprotocol.Message) []openprotocol.Message {
	sess.Touch()
	mid := msg.MID()
	cat := d.state.Catalog()
	profiles := d.state.Profiles()

	def, known := cat.Get(mid)
	if !known {
		return replies(openprotocol.ErrorMessage(mid, openprotocol.CodeMIDUnknown))
	}

	if !profiles.Supports(mid) {
		switch def.Category {
		case catalog.CategorySubscriptionStart:
			return replies(openprotocol.ErrorMessage(mid, openprotocol.CodeSubscriptionUnknown))
		case catalog.CategoryRequest:
			return replies(openprotocol.ErrorMessage(mid, openprotocol.CodeRequestUnknown))
		default:
			return replies(openprotocol.ErrorMessage(mid, openprotocol.CodeMIDUnsupported))
		}
	}

	if rev := msg.Header.RevisionInt(); rev != 0 && !revisionSupported(profiles.EffectiveRevisions(cat, mid), rev) {
		code := openprotocol.CodeRevisionUnsupported
		if def.Category == catalog.CategorySubscriptionStart {
			code = openprotocol.CodeSubscriptionRev
		}
		return replies(openprotocol.ErrorMessage(mid, code))
	}

	// Everything except communication start requires an open session.
	if mid != openprotocol.MIDCommStart && !sess.Started() {
		return replies(openprotocol.ErrorMessage(mid, openprotocol.CodeCommNotStarted))
	}

	switch mid {
	case openprotocol.MIDCommStart:
		return d.handleCommStart(sess)

	case openprotocol.MIDCommStop:
		sess.SetStarted(false)
		sess.ClearSubscriptions()
		return replies(openprotocol.AckMessage(mid))

	case openprotocol.MIDKeepAlive:
		return replies(openprotocol.Build(openprotocol.MIDKeepAlive, msg.Data,
			openprotocol.WithRawRevision(msg.Header.Revision)))

	case openprotocol.MIDSubscribe:
		target := extractDigits(msg.DataASCII(), 4, "")
		if target == "" || !cat.Contains(target) {
			return replies(openprotocol.ErrorMessage(mid, openprotocol.CodeSubscriptionUnknown))
		}
		sess.Subscribe(target)
		return replies(openprotocol.AckMessage(mid))

	case openprotocol.MIDUnsubscribe:
		if target := extractDigits(msg.DataASCII(), 4, ""); target != "" {
			sess.Unsubscribe(target)
		}
		return replies(openprotocol.AckMessage(mid))
	}

	switch def.Category {
	case catalog.CategorySubscriptionStart:
		sess.Subscribe(mid)
		return replies(openprotocol.AckMessage(mid))

	case catalog.CategorySubscriptionStop:
		sess.Unsubscribe(mid)
		return replies(openprotocol.AckMessage(mid))
	}

	if mid == openprotocol.MIDDataRequest {
		target := extractDigits(msg.DataASCII(), 4, "")
		if target == "" || !cat.Contains(target) || !profiles.Supports(target) {
			return replies(openprotocol.ErrorMessage(mid, openprotocol.CodeRequestUnknown))
		}
		return replies(openprotocol.Build(target, d.state.BuildDataForMID(target)))
	}

	switch def.Category {
	case catalog.CategoryRequest:
		replyMID := d.resolveReplyMID(mid)
		if replyMID == "" {
			return replies(openprotocol.ErrorMessage(mid, openprotocol.CodeRequestUnknown))
		}
		return replies(openprotocol.Build(replyMID, d.state.BuildDataForMID(replyMID)))

	case catalog.CategoryCommand:
		if allowed, code := d.state.EnsureCommandAllowed(sess); !allowed {
			return replies(openprotocol.ErrorMessage(mid, code))
		}
		d.applyCommandSideEffects(msg)
		return replies(openprotocol.AckMessage(mid))

	case catalog.CategoryAck:
		return nil
	}

	// Event/data frames arriving from the integrator side are acknowledged
	// like commands for client compatibility.
	return replies(openprotocol.AckMessage(mid))
}

func (d *Dispatcher) handleCommStart(sess *simulator.Session) []openprotocol.Message {
	if sess.Started() {
		return replies(openprotocol.ErrorMessage(openprotocol.MIDCommStart, openprotocol.CodeCommNotStarted))
	}
	if sess.Role == simulator.RoleActor && d.state.ActorActive(sess.ID) {
		return replies(openprotocol.ErrorMessage(openprotocol.MIDCommStart, openprotocol.CodeActorAlreadyActive))
	}
	sess.SetStarted(true)
	return replies(d.buildCommStartAck())
}

// resolveReplyMID picks the reply MID for a generic request: the explicit
// mapping first, then mid+1 when the catalog knows it as a reply or data
// message.
func (d *Dispatcher) resolveReplyMID(mid string) string {
	if reply, ok := requestToReply[mid]; ok {
		return reply
	}
	n, err := strconv.Atoi(mid)
	if err != nil {
		return ""
	}
	plusOne := fmt.Sprintf("%04d", n+1)
	if def, ok := d.state.Catalog().Get(plusOne); ok {
		if def.Category == catalog.CategoryReply || def.Category == catalog.CategoryEventOrData {
			return plusOne
		}
	}
	return ""
}

// buildCommStartAck assembles the MID 0002 reply at revision 7 with the
// simulator's identity fields.
func (d *Dispatcher) buildCommStartAck() openprotocol.Message {
	now := time.Now().UTC().Format("2006-01-02:15:04:05")
	data := openprotocol.ASCII(
		"01", "0001",
		"02", "01",
		"03", openprotocol.LeftJust("OpenProtocolSim", 25),
		"04", "ACT",
		"05", openprotocol.LeftJust("2.16.0", 19),
		"06", openprotocol.LeftJust("sim-0.1.0", 19),
		"07", openprotocol.LeftJust("sim-tool-0.1", 19),
		"08", openprotocol.LeftJust("SIM-RBU", 24),
		"09", openprotocol.LeftJust("SIM0000001", 10),
		"10", "003",
		"11", "001",
		"12", "1",
		"13", "1",
		"14", "0000000001",
		"15", openprotocol.LeftJust("Simulator Station", 25),
		"16", "1",
		"17", "0",
		"18", openprotocol.LeftJust(now, 19),
	)
	return openprotocol.Build(openprotocol.MIDCommStartAck, data, openprotocol.WithRevision(7))
}

// applyCommandSideEffects mutates the domain tree for the handful of
// command MIDs that change controller state. Unknown commands are simply
// acknowledged.
func (d *Dispatcher) applyCommandSideEffects(msg openprotocol.Message) {
	data := msg.DataASCII()
	switch msg.MID() {
	case "0018":
		d.updateDomain("pset", func(domain map[string]any) {
			domain["selected"] = extractDigits(data, 3, stringField(domain["selected"], "001"))
		})
	case "0038":
		d.updateDomain("job", func(domain map[string]any) {
			domain["selected"] = extractDigits(data, 4, stringField(domain["selected"], "0001"))
		})
	case "0019":
		d.updateDomain("pset", func(domain map[string]any) {
			if size, err := strconv.Atoi(extractDigits(data, 4, "0001")); err == nil {
				domain["batch_size"] = size
			}
		})
	case "0020":
		d.updateDomain("pset", func(domain map[string]any) {
			domain["batch_counter"] = 0
		})
	case "0042":
		d.updateDomain("tool", func(domain map[string]any) {
			domain["enabled"] = false
		})
	case "0043":
		d.updateDomain("tool", func(domain map[string]any) {
			domain["enabled"] = true
		})
	case "0046":
		d.updateDomain("tool", func(domain map[string]any) {
			domain["primary_tool"] = extractDigits(data, 2, "01")
		})
	case "0156":
		d.updateDomain("identifiers", func(domain map[string]any) {
			domain["latest"] = nil
		})
	case "0157":
		d.updateDomain("identifiers", func(domain map[string]any) {
			domain["latest"] = nil
			domain["all"] = []any{}
		})
	case "0240":
		d.updateDomain("user_data", func(domain map[string]any) {
			if records, ok := domain["records"].(map[string]any); ok {
				records["last_download"] = data
			}
		})
	case "0270":
		d.state.Reset()
	case "2606":
		d.updateDomain("mode", func(domain map[string]any) {
			domain["selected"] = extractDigits(data, 4, stringField(domain["selected"], "0001"))
		})
	}
}

func (d *Dispatcher) updateDomain(name string, mutate func(domain map[string]any)) {
	domain, err := d.state.Domain(name)
	if err != nil {
		return
	}
	if domain == nil {
		domain = map[string]any{}
	}
	mutate(domain)
	_, _ = d.state.UpdateDomain(name, domain)
}

func revisionSupported(revisions []int, rev int) bool {
	for _, r := range revisions {
		if r == rev {
			return true
		}
	}
	return false
}

func stringField(value any, def string) string {
	if s, ok := value.(string); ok && s != "" {
		return s
	}
	return def
}

func replies(msgs ...openprotocol.Message) []openprotocol.Message {
	return msgs
}
