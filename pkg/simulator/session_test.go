package simulator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/opsim/internal/protocol/openprotocol"
)

func TestSessionStartsInApplicationMode(t *testing.T) {
	sess := NewSession("s1", RoleClassic, "127.0.0.1:1")
	snap := sess.Snapshot()

	assert.Equal(t, AckModeApplication, snap.AckMode)
	assert.Equal(t, 1, snap.NextTxSeq)
	assert.Equal(t, 1, snap.NextRxSeq)
	assert.False(t, snap.CommunicationStarted)
}

func TestResolveLinkAckWithoutSequence(t *testing.T) {
	sess := NewSession("s1", RoleClassic, "127.0.0.1:1")
	msg := openprotocol.Build("0001", nil)

	process, ack := sess.ResolveLinkAck(msg)
	assert.True(t, process)
	assert.Nil(t, ack)
	assert.Equal(t, AckModeApplication, sess.Snapshot().AckMode)
}

func TestResolveLinkAckAcceptsExpectedSequence(t *testing.T) {
	sess := NewSession("s1", RoleClassic, "127.0.0.1:1")
	msg := openprotocol.Build("0001", nil, openprotocol.WithSequence(1))

	process, ack := sess.ResolveLinkAck(msg)
	require.True(t, process)
	require.NotNil(t, ack)

	assert.Equal(t, openprotocol.MIDLinkAck, ack.MID())
	assert.Equal(t, "0001", ack.DataASCII())
	assert.Equal(t, 2, ack.Header.Sequence())
	assert.Equal(t, AckModeLinkLevel, sess.Snapshot().AckMode)
	assert.Equal(t, 2, sess.Snapshot().NextRxSeq)
}

func TestResolveLinkAckReplaysDuplicate(t *testing.T) {
	sess := NewSession("s1", RoleClassic, "127.0.0.1:1")
	msg := openprotocol.Build("0050", []byte("data"), openprotocol.WithSequence(1))

	process, first := sess.ResolveLinkAck(msg)
	require.True(t, process)
	require.NotNil(t, first)

	// Same sequence again: the previous ack is replayed, the frame skipped.
	process, replay := sess.ResolveLinkAck(msg)
	assert.False(t, process)
	require.NotNil(t, replay)
	assert.Equal(t, first.Raw, replay.Raw)
	assert.Equal(t, 2, sess.Snapshot().NextRxSeq)
}

func TestResolveLinkAckNacksOutOfSequence(t *testing.T) {
	sess := NewSession("s1", RoleClassic, "127.0.0.1:1")
	msg := openprotocol.Build("0050", nil, openprotocol.WithSequence(7))

	process, nack := sess.ResolveLinkAck(msg)
	assert.False(t, process)
	require.NotNil(t, nack)
	assert.Equal(t, openprotocol.MIDLinkNack, nack.MID())
	assert.Contains(t, nack.DataASCII(), "0050")
	assert.Contains(t, nack.DataASCII(), "03")
}

func TestStampOutboundOnlyInLinkMode(t *testing.T) {
	sess := NewSession("s1", RoleClassic, "127.0.0.1:1")
	reply := openprotocol.Build("0005", openprotocol.AckPayload("0018"))

	// Application mode: untouched.
	stamped := sess.StampOutbound(reply)
	assert.Equal(t, "00", stamped.Header.SequenceNumber)

	// Enter link mode, outbound messages consume transmit sequences.
	sess.ResolveLinkAck(openprotocol.Build("0001", nil, openprotocol.WithSequence(1)))
	stamped = sess.StampOutbound(reply)
	assert.Equal(t, 1, stamped.Header.Sequence())
	stamped = sess.StampOutbound(reply)
	assert.Equal(t, 2, stamped.Header.Sequence())
}

func TestStampOutboundSkipsLinkAcks(t *testing.T) {
	sess := NewSession("s1", RoleClassic, "127.0.0.1:1")
	sess.ResolveLinkAck(openprotocol.Build("0001", nil, openprotocol.WithSequence(1)))

	ack := openprotocol.Build(openprotocol.MIDLinkAck, []byte("0001"), openprotocol.WithSequence(2))
	stamped := sess.StampOutbound(ack)
	assert.Equal(t, 2, stamped.Header.Sequence())
	assert.Equal(t, 1, sess.Snapshot().NextTxSeq, "link acks must not consume transmit slots")
}

func TestTransmitSequenceWraps(t *testing.T) {
	sess := NewSession("s1", RoleClassic, "127.0.0.1:1")
	sess.ResolveLinkAck(openprotocol.Build("0001", nil, openprotocol.WithSequence(1)))

	reply := openprotocol.Build("0005", openprotocol.AckPayload("9999"))
	var last int
	for i := 0; i < 99; i++ {
		last = sess.StampOutbound(reply).Header.Sequence()
	}
	assert.Equal(t, 99, last)
	assert.Equal(t, 1, sess.StampOutbound(reply).Header.Sequence())
}

func TestSubscriptionTargetsExpansion(t *testing.T) {
	sess := NewSession("s1", RoleClassic, "127.0.0.1:1")
	sess.Subscribe("0060")
	sess.Subscribe("0120")

	targets := sess.SubscriptionTargets()
	for _, mid := range []string{"0060", "0061", "0120", "0121", "0122", "0123", "0124"} {
		assert.Contains(t, targets, mid)
	}
	assert.NotContains(t, targets, "0071")
}

func TestResetLinkClearsProtocolState(t *testing.T) {
	sess := NewSession("s1", RoleActor, "127.0.0.1:1")
	sess.SetStarted(true)
	sess.Subscribe("0060")
	sess.ResolveLinkAck(openprotocol.Build("0050", nil, openprotocol.WithSequence(1)))

	sess.ResetLink()
	snap := sess.Snapshot()
	assert.False(t, snap.CommunicationStarted)
	assert.Empty(t, snap.Subscriptions)
	assert.Equal(t, 1, snap.NextRxSeq)
	assert.Equal(t, 1, snap.NextTxSeq)
	assert.Equal(t, AckModeApplication, snap.AckMode)
}
