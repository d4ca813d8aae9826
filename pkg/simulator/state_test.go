package simulator

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/opsim/internal/protocol/openprotocol"
	"github.com/marmos91/opsim/pkg/catalog"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	cat, err := catalog.LoadDefault()
	require.NoError(t, err)
	profiles, err := catalog.LoadDefaultProfiles("atlas_pf")
	require.NoError(t, err)
	return NewState(Options{
		Catalog:          cat,
		Profiles:         profiles,
		KeepaliveTimeout: 20 * time.Second,
		InactivityHint:   10,
		MaxSessions:      3,
	})
}

func TestRegisterSessionEnforcesLimit(t *testing.T) {
	state := newTestState(t)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, state.RegisterSession(NewSession(id, RoleClassic, "127.0.0.1:1")), "session %d", i)
	}
	err := state.RegisterSession(NewSession("d", RoleClassic, "127.0.0.1:1"))
	assert.ErrorIs(t, err, ErrMaxSessions)

	state.UnregisterSession("a")
	assert.NoError(t, state.RegisterSession(NewSession("d", RoleClassic, "127.0.0.1:1")))
}

func TestActorActiveExcludesSelfAndRequiresStart(t *testing.T) {
	state := newTestState(t)
	actor := NewSession("actor", RoleActor, "127.0.0.1:1")
	require.NoError(t, state.RegisterSession(actor))

	// Connected but not started: not active yet.
	assert.False(t, state.ActorActive(""))

	actor.SetStarted(true)
	assert.True(t, state.ActorActive(""))
	assert.False(t, state.ActorActive("actor"))
}

func TestEnsureCommandAllowed(t *testing.T) {
	state := newTestState(t)
	actor := NewSession("actor", RoleActor, "127.0.0.1:1")
	classic := NewSession("classic", RoleClassic, "127.0.0.1:2")
	require.NoError(t, state.RegisterSession(actor))
	require.NoError(t, state.RegisterSession(classic))
	actor.SetStarted(true)

	allowed, code := state.EnsureCommandAllowed(classic)
	assert.False(t, allowed)
	assert.Equal(t, openprotocol.CodeCommandDisabled, code)

	allowed, _ = state.EnsureCommandAllowed(actor)
	assert.True(t, allowed, "the actor itself keeps command rights")
}

func TestRecordAndListTraffic(t *testing.T) {
	state := newTestState(t)
	sess := NewSession("s1", RoleClassic, "127.0.0.1:1")

	state.RecordTraffic(sess, DirectionRx, openprotocol.Build("0001", nil))
	state.RecordTraffic(sess, DirectionTx, openprotocol.Build("0002", []byte("011")))
	state.RecordTraffic(sess, DirectionRx, openprotocol.Build("9999", nil))

	all := state.ListTraffic(TrafficFilter{})
	require.Len(t, all, 3)
	assert.Equal(t, "0001", all[0].MID)
	assert.Equal(t, DirectionTx, all[1].Direction)

	filtered := state.ListTraffic(TrafficFilter{MID: "9999"})
	require.Len(t, filtered, 1)
	assert.Equal(t, "9999", filtered[0].MID)

	bySession := state.ListTraffic(TrafficFilter{SessionID: "nope"})
	assert.Empty(t, bySession)
}

func TestListTrafficClampsLimit(t *testing.T) {
	state := newTestState(t)
	sess := NewSession("s1", RoleClassic, "127.0.0.1:1")
	for i := 0; i < 10; i++ {
		state.RecordTraffic(sess, DirectionRx, openprotocol.Build("9999", nil))
	}

	assert.Len(t, state.ListTraffic(TrafficFilter{Limit: 4}), 4)
	assert.Len(t, state.ListTraffic(TrafficFilter{Limit: -5}), 10, "default limit is 100")
}

func TestTrafficSanitizesRawBytes(t *testing.T) {
	state := newTestState(t)
	sess := NewSession("s1", RoleClassic, "127.0.0.1:1")
	state.RecordTraffic(sess, DirectionTx, openprotocol.Build("0005", openprotocol.AckPayload("0018")))

	records := state.ListTraffic(TrafficFilter{})
	require.Len(t, records, 1)
	assert.False(t, strings.ContainsRune(records[0].RawASCII, 0), "NUL bytes are replaced")
}

func TestDomainReadsAreCopies(t *testing.T) {
	state := newTestState(t)

	tool, err := state.Domain("tool")
	require.NoError(t, err)
	tool["enabled"] = false

	again, err := state.Domain("tool")
	require.NoError(t, err)
	assert.Equal(t, true, again["enabled"], "mutating a returned domain must not leak")
}

func TestUpdateDomainUnknownName(t *testing.T) {
	state := newTestState(t)
	_, err := state.UpdateDomain("nope", map[string]any{})
	assert.ErrorIs(t, err, ErrUnknownDomain)

	_, err = state.Domain("nope")
	assert.ErrorIs(t, err, ErrUnknownDomain)
}

func TestUpdateDomainTouchesMetadata(t *testing.T) {
	state := newTestState(t)
	_, err := state.UpdateDomain("job", map[string]any{"selected": "0042"})
	require.NoError(t, err)

	meta, err := state.Domain("metadata")
	require.NoError(t, err)
	assert.NotEmpty(t, meta["updated_at"])

	job, err := state.Domain("job")
	require.NoError(t, err)
	assert.Equal(t, "0042", job["selected"])
}

func TestInjectTighteningAdvancesResults(t *testing.T) {
	state := newTestState(t)

	event := state.InjectEvent("rest_api", EventTightening, map[string]any{
		"torque_nm": 20.5,
		"ok":        false,
	})
	assert.Equal(t, []string{"0061", "1201", "1202"}, event.AffectedMIDs)
	assert.NotEmpty(t, event.EventID)

	results, err := state.Domain("results")
	require.NoError(t, err)
	assert.EqualValues(t, 2, asInt(results["last_tightening_id"]))

	data := string(state.BuildDataForMID("0061"))
	assert.Equal(t, "010000000002"+"02"+"NOK", data)

	torque := string(state.BuildDataForMID("1201"))
	assert.True(t, strings.HasPrefix(torque, "010020.50"), torque)
}

func TestInjectAlarmAndIOChange(t *testing.T) {
	state := newTestState(t)

	state.InjectEvent("rest_api", EventAlarm, map[string]any{"code": "17", "text": "Overheat"})
	data := string(state.BuildDataForMID("0071"))
	assert.Equal(t, "01001702"+openprotocol.LeftJust("Overheat", 25), data)

	state.InjectEvent("rest_api", EventIOChange, map[string]any{"key": "input_02", "value": false})
	io, err := state.Domain("io")
	require.NoError(t, err)
	inputs := io["inputs"].(map[string]any)
	assert.Equal(t, false, inputs["input_02"])
}

func TestInjectEventSurvivesMangledDomains(t *testing.T) {
	state := newTestState(t)

	// Legal API writes can replace domain values with arbitrary JSON shapes.
	_, err := state.UpdateDomain("io", map[string]any{"inputs": "not-a-map"})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		state.InjectEvent("rest_api", EventIOChange, map[string]any{"key": "input_03"})
	})

	// The lock must be released again and the inputs map rebuilt.
	io, err := state.Domain("io")
	require.NoError(t, err)
	inputs, ok := io["inputs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, inputs["input_03"])

	_, err = state.UpdateDomain("results", nil)
	require.NoError(t, err)
	require.NotPanics(t, func() {
		state.InjectEvent("rest_api", EventTightening, nil)
	})
	results, err := state.Domain("results")
	require.NoError(t, err)
	assert.EqualValues(t, 1, asInt(results["last_tightening_id"]))
}

func TestInjectEventExplicitMIDs(t *testing.T) {
	state := newTestState(t)
	event := state.InjectEvent("rest_api", EventTightening, map[string]any{
		"mids": []any{"0061"},
	})
	assert.Equal(t, []string{"0061"}, event.AffectedMIDs)
}

func TestPushMessagesFilterAndOrder(t *testing.T) {
	state := newTestState(t)
	sess := NewSession("s1", RoleClassic, "127.0.0.1:1")
	sess.Subscribe("0060") // unlocks 0061 pushes only

	event := state.InjectEvent("rest_api", EventTightening, nil)
	msgs := state.PushMessages(sess, event)
	require.Len(t, msgs, 1)
	assert.Equal(t, "0061", msgs[0].MID())

	sess.Subscribe("1201")
	sess.Subscribe("1202")
	msgs = state.PushMessages(sess, state.InjectEvent("rest_api", EventTightening, nil))
	require.Len(t, msgs, 3)
	assert.Equal(t, "0061", msgs[0].MID())
	assert.Equal(t, "1201", msgs[1].MID())
	assert.Equal(t, "1202", msgs[2].MID())
}

func TestResetRestoresInitialState(t *testing.T) {
	state := newTestState(t)
	sess := NewSession("s1", RoleClassic, "127.0.0.1:1")
	require.NoError(t, state.RegisterSession(sess))
	sess.SetStarted(true)
	sess.Subscribe("0060")

	state.InjectEvent("rest_api", EventTightening, nil)
	state.RecordTraffic(sess, DirectionRx, openprotocol.Build("0001", nil))
	state.Reset()

	results, err := state.Domain("results")
	require.NoError(t, err)
	assert.EqualValues(t, 1, asInt(results["last_tightening_id"]))
	assert.Empty(t, state.Events())
	assert.False(t, sess.Started())
	assert.Empty(t, sess.Subscriptions())
	assert.Len(t, state.ListTraffic(TrafficFilter{}), 1, "traffic history survives a reset")
}

func TestSetProfileUpdatesMetadata(t *testing.T) {
	state := newTestState(t)
	require.NoError(t, state.SetProfile("cleco"))

	meta, err := state.Domain("metadata")
	require.NoError(t, err)
	assert.Equal(t, "cleco", meta["profile"])
	assert.Equal(t, "cleco", state.Profiles().ActiveName())

	assert.Error(t, state.SetProfile("nope"))
}

func TestCapabilityMatrixRespectsProfile(t *testing.T) {
	state := newTestState(t)
	require.NoError(t, state.SetProfile("cleco"))

	matrix := state.CapabilityMatrix()
	require.Equal(t, state.Catalog().Len(), len(matrix))

	byMID := make(map[string]CapabilityEntry, len(matrix))
	for _, entry := range matrix {
		byMID[entry.MID] = entry
	}
	assert.True(t, byMID["0001"].Supported)
	assert.Equal(t, []int{1, 2, 3}, byMID["0061"].Revisions, "profile override applies")
}

func TestProfilePayloadShape(t *testing.T) {
	state := newTestState(t)
	payload := state.ProfilePayload()

	assert.Equal(t, "atlas_pf", payload.Active)
	assert.Equal(t, "atlas_pf", payload.ActiveDetails.Name)
	assert.GreaterOrEqual(t, len(payload.Profiles), 3)
}
