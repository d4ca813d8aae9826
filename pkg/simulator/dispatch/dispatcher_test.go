package dispatch

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/opsim/internal/protocol/openprotocol"
	"github.com/marmos91/opsim/pkg/catalog"
	"github.com/marmos91/opsim/pkg/simulator"
)

func newDispatcher(t *testing.T) (*Dispatcher, *simulator.State) {
	t.Helper()
	cat, err := catalog.LoadDefault()
	require.NoError(t, err)
	profiles, err := catalog.LoadDefaultProfiles("atlas_pf")
	require.NoError(t, err)
	state := simulator.NewState(simulator.Options{
		Catalog:          cat,
		Profiles:         profiles,
		KeepaliveTimeout: 20 * time.Second,
		InactivityHint:   10,
		MaxSessions:      8,
	})
	return New(state), state
}

func startedSession(t *testing.T, state *simulator.State, id string, role simulator.Role) *simulator.Session {
	t.Helper()
	sess := simulator.NewSession(id, role, "127.0.0.1:1")
	require.NoError(t, state.RegisterSession(sess))
	sess.SetStarted(true)
	return sess
}

func dispatchOne(t *testing.T, d *Dispatcher, sess *simulator.Session, mid string, data []byte, opts ...openprotocol.BuildOption) openprotocol.Message {
	t.Helper()
	out := d.Dispatch(sess, openprotocol.Build(mid, data, opts...))
	require.Len(t, out, 1)
	return out[0]
}

func TestCommStartHappyPath(t *testing.T) {
	d, state := newDispatcher(t)
	sess := simulator.NewSession("s1", simulator.RoleClassic, "127.0.0.1:1")
	require.NoError(t, state.RegisterSession(sess))

	reply := dispatchOne(t, d, sess, "0001", nil)
	assert.Equal(t, "0002", reply.MID())
	assert.Equal(t, 7, reply.Revision())
	assert.True(t, sess.Started())

	data := reply.DataASCII()
	assert.True(t, strings.HasPrefix(data, "010001"), data)
	assert.Contains(t, data, "03"+openprotocol.LeftJust("OpenProtocolSim", 25))
	assert.Contains(t, data, "04ACT")
}

func TestCommStartTwiceRejected(t *testing.T) {
	d, state := newDispatcher(t)
	sess := startedSession(t, state, "s1", simulator.RoleClassic)

	reply := dispatchOne(t, d, sess, "0001", nil)
	assert.Equal(t, "0004", reply.MID())
	assert.Equal(t, "000197", reply.DataASCII())
}

func TestAnythingBeforeCommStartRejected(t *testing.T) {
	d, state := newDispatcher(t)
	sess := simulator.NewSession("s1", simulator.RoleClassic, "127.0.0.1:1")
	require.NoError(t, state.RegisterSession(sess))

	reply := dispatchOne(t, d, sess, "0060", nil)
	assert.Equal(t, "0004", reply.MID())
	assert.Equal(t, "006097", reply.DataASCII())
}

func TestSecondActorRejected(t *testing.T) {
	d, state := newDispatcher(t)
	startedSession(t, state, "actor1", simulator.RoleActor)
	second := simulator.NewSession("actor2", simulator.RoleActor, "127.0.0.1:2")
	require.NoError(t, state.RegisterSession(second))

	reply := dispatchOne(t, d, second, "0001", nil)
	assert.Equal(t, "0004", reply.MID())
	assert.Equal(t, "000135", reply.DataASCII())
	assert.False(t, second.Started())
}

func TestCommStopClearsSession(t *testing.T) {
	d, state := newDispatcher(t)
	sess := startedSession(t, state, "s1", simulator.RoleClassic)
	sess.Subscribe("0060")

	reply := dispatchOne(t, d, sess, "0003", nil)
	assert.Equal(t, "0005", reply.MID())
	assert.False(t, sess.Started())
	assert.Empty(t, sess.Subscriptions())
}

func TestUnknownMIDGetsError99(t *testing.T) {
	d, state := newDispatcher(t)
	sess := startedSession(t, state, "s1", simulator.RoleClassic)

	reply := dispatchOne(t, d, sess, "1234", nil)
	assert.Equal(t, "0004", reply.MID())
	assert.Equal(t, "123499", reply.DataASCII())
}

func TestUnsupportedMIDErrorsByCategory(t *testing.T) {
	d, state := newDispatcher(t)
	require.NoError(t, state.SetProfile("cleco"))
	sess := startedSession(t, state, "s1", simulator.RoleClassic)

	// cleco drops the mode selector family: 2600 is a request, 2606 a command.
	reply := dispatchOne(t, d, sess, "2600", nil)
	assert.Equal(t, "260075", reply.DataASCII())

	reply = dispatchOne(t, d, sess, "2606", []byte("0002"))
	assert.Equal(t, "260679", reply.DataASCII())
}

func TestRevisionGate(t *testing.T) {
	d, state := newDispatcher(t)
	require.NoError(t, state.SetProfile("cleco"))
	sess := startedSession(t, state, "s1", simulator.RoleClassic)

	// cleco caps 0060 at revisions 1-3: a subscription at revision 9 fails
	// with the subscription revision code.
	reply := dispatchOne(t, d, sess, "0060", nil, openprotocol.WithRevision(9))
	assert.Equal(t, "006074", reply.DataASCII())

	// Non-subscription MIDs use the generic revision code.
	reply = dispatchOne(t, d, sess, "0050", nil, openprotocol.WithRevision(9))
	assert.Equal(t, "005098", reply.DataASCII())

	// Revision 0 means "any" and passes the gate.
	out := d.Dispatch(sess, openprotocol.Build("0050", nil, openprotocol.WithRawRevision("   ")))
	require.Len(t, out, 1)
	assert.Equal(t, "0052", out[0].MID())
}

func TestKeepAliveEcho(t *testing.T) {
	d, state := newDispatcher(t)
	sess := startedSession(t, state, "s1", simulator.RoleClassic)

	reply := dispatchOne(t, d, sess, "9999", nil, openprotocol.WithRevision(1))
	assert.Equal(t, "9999", reply.MID())
	assert.Equal(t, 1, reply.Revision())
}

func TestGenericSubscriptionControl(t *testing.T) {
	d, state := newDispatcher(t)
	sess := startedSession(t, state, "s1", simulator.RoleClassic)

	reply := dispatchOne(t, d, sess, "0008", []byte("0061"))
	assert.Equal(t, "0005", reply.MID())
	assert.Contains(t, sess.Subscriptions(), "0061")

	reply = dispatchOne(t, d, sess, "0009", []byte("0061"))
	assert.Equal(t, "0005", reply.MID())
	assert.NotContains(t, sess.Subscriptions(), "0061")

	// Unknown target MID.
	reply = dispatchOne(t, d, sess, "0008", []byte("1234"))
	assert.Equal(t, "000873", reply.DataASCII())
}

func TestSubscriptionCategories(t *testing.T) {
	d, state := newDispatcher(t)
	sess := startedSession(t, state, "s1", simulator.RoleClassic)

	reply := dispatchOne(t, d, sess, "0060", nil)
	assert.Equal(t, "0005", reply.MID())
	assert.Equal(t, "0060", reply.DataASCII())
	assert.Contains(t, sess.Subscriptions(), "0060")

	reply = dispatchOne(t, d, sess, "0063", nil)
	assert.Equal(t, "0005", reply.MID())
	assert.NotContains(t, sess.Subscriptions(), "0060")
}

func TestDataRequestByMID(t *testing.T) {
	d, state := newDispatcher(t)
	sess := startedSession(t, state, "s1", simulator.RoleClassic)

	reply := dispatchOne(t, d, sess, "0006", []byte("0061"))
	assert.Equal(t, "0061", reply.MID())
	assert.True(t, strings.HasPrefix(reply.DataASCII(), "010000000001"), reply.DataASCII())

	reply = dispatchOne(t, d, sess, "0006", []byte("1234"))
	assert.Equal(t, "000675", reply.DataASCII())
}

func TestGenericRequestMapping(t *testing.T) {
	d, state := newDispatcher(t)
	sess := startedSession(t, state, "s1", simulator.RoleClassic)

	// Explicit mapping: 0050 -> 0052 with the current VIN.
	reply := dispatchOne(t, d, sess, "0050", nil)
	assert.Equal(t, "0052", reply.MID())
	assert.Equal(t, "01"+openprotocol.LeftJust("SIMVIN00000000001", 25), reply.DataASCII())

	// Explicit mapping again: 0010 -> 0011.
	reply = dispatchOne(t, d, sess, "0010", nil)
	assert.Equal(t, "0011", reply.MID())

	// mid+1 fallback for requests outside the map: 2501 -> 2502.
	reply = dispatchOne(t, d, sess, "2501", nil)
	assert.Equal(t, "2502", reply.MID())
	assert.Equal(t, "01SIM", reply.DataASCII())
}

func TestCommandSideEffects(t *testing.T) {
	d, state := newDispatcher(t)
	sess := startedSession(t, state, "s1", simulator.RoleClassic)

	reply := dispatchOne(t, d, sess, "0018", []byte("042"))
	assert.Equal(t, "0005", reply.MID())
	assert.Equal(t, "0018", reply.DataASCII())
	pset, err := state.Domain("pset")
	require.NoError(t, err)
	assert.Equal(t, "042", pset["selected"])

	dispatchOne(t, d, sess, "0042", nil)
	tool, err := state.Domain("tool")
	require.NoError(t, err)
	assert.Equal(t, false, tool["enabled"])

	dispatchOne(t, d, sess, "0043", nil)
	tool, err = state.Domain("tool")
	require.NoError(t, err)
	assert.Equal(t, true, tool["enabled"])

	dispatchOne(t, d, sess, "0038", []byte("0007"))
	job, err := state.Domain("job")
	require.NoError(t, err)
	assert.Equal(t, "0007", job["selected"])
}

func TestCommandSideEffectsSurviveNilDomain(t *testing.T) {
	d, state := newDispatcher(t)
	sess := startedSession(t, state, "s1", simulator.RoleClassic)

	// The REST API can legally replace a domain with null.
	_, err := state.UpdateDomain("pset", nil)
	require.NoError(t, err)

	var reply openprotocol.Message
	require.NotPanics(t, func() {
		reply = dispatchOne(t, d, sess, "0018", []byte("042"))
	})
	assert.Equal(t, "0005", reply.MID())

	pset, err := state.Domain("pset")
	require.NoError(t, err)
	assert.Equal(t, "042", pset["selected"])
}

func TestCommandGatedByActiveActor(t *testing.T) {
	d, state := newDispatcher(t)
	startedSession(t, state, "actor", simulator.RoleActor)
	classic := startedSession(t, state, "classic", simulator.RoleClassic)

	reply := dispatchOne(t, d, classic, "0018", []byte("002"))
	assert.Equal(t, "0004", reply.MID())
	assert.Equal(t, "001892", reply.DataASCII())

	pset, err := state.Domain("pset")
	require.NoError(t, err)
	assert.Equal(t, "001", pset["selected"], "gated command must not mutate state")
}

func TestResetCommandRestoresState(t *testing.T) {
	d, state := newDispatcher(t)
	sess := startedSession(t, state, "s1", simulator.RoleClassic)

	dispatchOne(t, d, sess, "0018", []byte("099"))
	reply := dispatchOne(t, d, sess, "0270", nil)
	assert.Equal(t, "0005", reply.MID())

	pset, err := state.Domain("pset")
	require.NoError(t, err)
	assert.Equal(t, "001", pset["selected"])
}

func TestAckMessagesProduceNoReply(t *testing.T) {
	d, state := newDispatcher(t)
	sess := startedSession(t, state, "s1", simulator.RoleClassic)

	out := d.Dispatch(sess, openprotocol.Build("0062", nil))
	assert.Empty(t, out)
}

func TestTraceRequestIsBinary(t *testing.T) {
	d, state := newDispatcher(t)
	sess := startedSession(t, state, "s1", simulator.RoleClassic)
	state.InjectEvent("rest_api", simulator.EventTightening, map[string]any{
		"trace_points": []any{float64(1), float64(2), float64(3)},
	})

	reply := dispatchOne(t, d, sess, "0006", []byte("0900"))
	assert.Equal(t, "0900", reply.MID())
	assert.True(t, reply.Binary)
	assert.NotEqual(t, openprotocol.NUL, reply.Raw[len(reply.Raw)-1], "trace frames are not NUL-terminated")
	assert.Equal(t, []byte{1, 2, 3}, reply.Data[len(reply.Data)-3:])
}
