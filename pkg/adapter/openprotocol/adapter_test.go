package openprotocol

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/opsim/internal/protocol/openprotocol"
	"github.com/marmos91/opsim/pkg/catalog"
	"github.com/marmos91/opsim/pkg/simulator"
	"github.com/marmos91/opsim/pkg/simulator/dispatch"
)

// startAdapter runs an adapter on ephemeral ports and tears it down with the
// test.
func startAdapter(t *testing.T, maxSessions int, keepalive time.Duration) (*Adapter, *simulator.State) {
	t.Helper()

	cat, err := catalog.LoadDefault()
	require.NoError(t, err)
	profiles, err := catalog.LoadDefaultProfiles("atlas_pf")
	require.NoError(t, err)

	state := simulator.NewState(simulator.Options{
		Catalog:          cat,
		Profiles:         profiles,
		KeepaliveTimeout: keepalive,
		InactivityHint:   10,
		MaxSessions:      maxSessions,
	})

	adapter := New(Config{
		Host:            "127.0.0.1",
		ShutdownTimeout: 2 * time.Second,
	}, state, dispatch.New(state), nil)
	// Ephemeral ports so parallel test runs never collide.
	adapter.config.ClassicPort = 0
	adapter.config.ActorPort = 0
	adapter.config.ViewerPort = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = adapter.Serve(ctx)
	}()

	require.Eventually(t, func() bool {
		return adapter.Addr(simulator.RoleClassic) != nil &&
			adapter.Addr(simulator.RoleActor) != nil &&
			adapter.Addr(simulator.RoleViewer) != nil
	}, 2*time.Second, 10*time.Millisecond, "listeners did not come up")

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("adapter did not shut down")
		}
	})

	return adapter, state
}

func dialRole(t *testing.T, adapter *Adapter, role simulator.Role) net.Conn {
	t.Helper()
	tcpConn, err := net.Dial("tcp", adapter.Addr(role).String())
	require.NoError(t, err)
	t.Cleanup(func() { tcpConn.Close() })
	return tcpConn
}

// readMessages reads until n frames arrive or the deadline passes.
func readMessages(t *testing.T, tcpConn net.Conn, n int) []openprotocol.Message {
	t.Helper()
	parser := &openprotocol.StreamParser{}
	var messages []openprotocol.Message
	buf := make([]byte, 4096)

	require.NoError(t, tcpConn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for len(messages) < n {
		read, err := tcpConn.Read(buf)
		require.NoError(t, err, "waiting for %d frames, got %d", n, len(messages))
		parser.Feed(buf[:read])
		messages = append(messages, parser.Drain()...)
	}
	return messages
}

func TestCommStartOverTCP(t *testing.T) {
	adapter, _ := startAdapter(t, 8, time.Minute)
	client := dialRole(t, adapter, simulator.RoleClassic)

	_, err := client.Write(openprotocol.Build("0001", nil).Raw)
	require.NoError(t, err)

	replies := readMessages(t, client, 1)
	assert.Equal(t, "0002", replies[0].MID())
	assert.Equal(t, 7, replies[0].Revision())
}

func TestSessionLimitRejectsWithError16(t *testing.T) {
	adapter, _ := startAdapter(t, 1, time.Minute)

	first := dialRole(t, adapter, simulator.RoleClassic)
	_, err := first.Write(openprotocol.Build("0001", nil).Raw)
	require.NoError(t, err)
	readMessages(t, first, 1)

	second := dialRole(t, adapter, simulator.RoleClassic)
	replies := readMessages(t, second, 1)
	assert.Equal(t, "0004", replies[0].MID())
	assert.Equal(t, "000116", replies[0].DataASCII())
}

func TestSecondActorSessionRejected(t *testing.T) {
	adapter, _ := startAdapter(t, 8, time.Minute)

	first := dialRole(t, adapter, simulator.RoleActor)
	_, err := first.Write(openprotocol.Build("0001", nil).Raw)
	require.NoError(t, err)
	replies := readMessages(t, first, 1)
	require.Equal(t, "0002", replies[0].MID())

	second := dialRole(t, adapter, simulator.RoleActor)
	_, err = second.Write(openprotocol.Build("0001", nil).Raw)
	require.NoError(t, err)
	replies = readMessages(t, second, 1)
	assert.Equal(t, "0004", replies[0].MID())
	assert.Equal(t, "000135", replies[0].DataASCII())
}

func TestLinkLevelSequencedExchange(t *testing.T) {
	adapter, _ := startAdapter(t, 8, time.Minute)
	client := dialRole(t, adapter, simulator.RoleClassic)

	_, err := client.Write(openprotocol.Build("0001", nil, openprotocol.WithSequence(1)).Raw)
	require.NoError(t, err)

	replies := readMessages(t, client, 2)
	// Link ack first, then the sequenced application reply.
	assert.Equal(t, "9997", replies[0].MID())
	assert.Equal(t, "0001", replies[0].DataASCII())
	assert.Equal(t, 2, replies[0].Header.Sequence())

	assert.Equal(t, "0002", replies[1].MID())
	assert.Equal(t, 1, replies[1].Header.Sequence())
}

func TestDuplicateSequenceReplaysAck(t *testing.T) {
	adapter, _ := startAdapter(t, 8, time.Minute)
	client := dialRole(t, adapter, simulator.RoleClassic)

	frame := openprotocol.Build("0001", nil, openprotocol.WithSequence(1)).Raw
	_, err := client.Write(frame)
	require.NoError(t, err)
	readMessages(t, client, 2)

	// Retransmit: the stored 9997 is replayed, the frame is not re-dispatched
	// so no second 0002 (nor a 97 error) follows.
	_, err = client.Write(frame)
	require.NoError(t, err)
	replies := readMessages(t, client, 1)
	assert.Equal(t, "9997", replies[0].MID())

	_, err = client.Write(openprotocol.Build("9999", nil, openprotocol.WithSequence(2)).Raw)
	require.NoError(t, err)
	replies = readMessages(t, client, 2)
	assert.Equal(t, "9997", replies[0].MID())
	assert.Equal(t, "9999", replies[1].MID())
}

func TestPublishFansOutToSubscribers(t *testing.T) {
	adapter, _ := startAdapter(t, 8, time.Minute)

	subscriber := dialRole(t, adapter, simulator.RoleClassic)
	_, err := subscriber.Write(openprotocol.Build("0001", nil).Raw)
	require.NoError(t, err)
	readMessages(t, subscriber, 1)
	_, err = subscriber.Write(openprotocol.Build("0060", nil).Raw)
	require.NoError(t, err)
	replies := readMessages(t, subscriber, 1)
	require.Equal(t, "0005", replies[0].MID())

	bystander := dialRole(t, adapter, simulator.RoleViewer)
	_, err = bystander.Write(openprotocol.Build("0001", nil).Raw)
	require.NoError(t, err)
	readMessages(t, bystander, 1)

	result := adapter.Publish("rest_api", simulator.EventTightening, nil)
	assert.Equal(t, simulator.EventTightening, result.EventType)
	assert.Equal(t, 1, result.PushedMessages, "only the subscribed session receives the push")

	pushes := readMessages(t, subscriber, 1)
	assert.Equal(t, "0061", pushes[0].MID())
}

func TestSessionSurvivesNulledDomain(t *testing.T) {
	adapter, state := startAdapter(t, 8, time.Minute)
	client := dialRole(t, adapter, simulator.RoleClassic)

	_, err := client.Write(openprotocol.Build("0001", nil).Raw)
	require.NoError(t, err)
	readMessages(t, client, 1)

	// The REST API can legally null out a domain; a command touching it
	// must still be acknowledged instead of killing the process.
	_, err = state.UpdateDomain("pset", nil)
	require.NoError(t, err)

	_, err = client.Write(openprotocol.Build("0018", []byte("042")).Raw)
	require.NoError(t, err)
	replies := readMessages(t, client, 1)
	assert.Equal(t, "0005", replies[0].MID())

	// The listener and fresh sessions keep working afterwards.
	other := dialRole(t, adapter, simulator.RoleViewer)
	_, err = other.Write(openprotocol.Build("0001", nil).Raw)
	require.NoError(t, err)
	replies = readMessages(t, other, 1)
	assert.Equal(t, "0002", replies[0].MID())
}

func TestKeepaliveWatchdogClosesIdleSessions(t *testing.T) {
	adapter, state := startAdapter(t, 8, 500*time.Millisecond)
	client := dialRole(t, adapter, simulator.RoleClassic)

	_, err := client.Write(openprotocol.Build("0001", nil).Raw)
	require.NoError(t, err)
	readMessages(t, client, 1)

	// Stay silent past the timeout: the watchdog closes the connection and
	// the session disappears from the registry.
	require.NoError(t, client.SetReadDeadline(time.Now().Add(4*time.Second)))
	buf := make([]byte, 64)
	_, err = client.Read(buf)
	assert.Error(t, err)

	assert.Eventually(t, func() bool {
		return len(state.Sessions()) == 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestGarbageBytesAreResynced(t *testing.T) {
	adapter, _ := startAdapter(t, 8, time.Minute)
	client := dialRole(t, adapter, simulator.RoleClassic)

	payload := append([]byte("XX"), openprotocol.Build("0001", nil).Raw...)
	_, err := client.Write(payload)
	require.NoError(t, err)

	replies := readMessages(t, client, 1)
	assert.Equal(t, "0002", replies[0].MID())
}
