// Package openprotocol is the TCP adapter: it owns the three role-specific
// listeners (classic, actor, viewer), the per-connection read loops and the
// event fan-out towards subscribed sessions.
//
// The adapter does not interpret MIDs itself; frames are decoded by the
// stream parser and handed to the dispatcher, and outbound messages always
// pass through the owning session for link-sequence stamping.
package openprotocol

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/opsim/internal/logger"
	"github.com/marmos91/opsim/internal/protocol/openprotocol"
	"github.com/marmos91/opsim/pkg/metrics"
	"github.com/marmos91/opsim/pkg/simulator"
	"github.com/marmos91/opsim/pkg/simulator/dispatch"
)

// Config holds the TCP adapter configuration.
type Config struct {
	// Host is the bind address shared by all three listeners.
	Host string

	// ClassicPort, ActorPort and ViewerPort select the session role a
	// client gets by dialing them.
	ClassicPort int
	ActorPort   int
	ViewerPort  int

	// ShutdownTimeout bounds the wait for active connections on shutdown.
	ShutdownTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ClassicPort <= 0 {
		c.ClassicPort = 4545
	}
	if c.ActorPort <= 0 {
		c.ActorPort = 4546
	}
	if c.ViewerPort <= 0 {
		c.ViewerPort = 4547
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Adapter runs the protocol listeners over a shared simulator state.
//
// Shutdown flow mirrors the rest of the servers in this codebase:
//  1. Context cancelled or Stop() called
//  2. Listeners closed (no new connections)
//  3. Read deadlines shortened so blocked reads notice quickly
//  4. Wait for connection goroutines up to ShutdownTimeout
type Adapter struct {
	config     Config
	state      *simulator.State
	dispatcher *dispatch.Dispatcher
	metrics    metrics.OpenProtocolMetrics

	listenerMu sync.Mutex
	listeners  map[simulator.Role]net.Listener

	activeConns sync.WaitGroup
	connCount   atomic.Int32

	// activeConnections maps remote address to net.Conn for forced closure.
	activeConnections sync.Map

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// New builds the adapter. The metrics collector may be nil.
func New(config Config, state *simulator.State, dispatcher *dispatch.Dispatcher, m metrics.OpenProtocolMetrics) *Adapter {
	config.applyDefaults()
	return &Adapter{
		config:     config,
		state:      state,
		dispatcher: dispatcher,
		metrics:    m,
		listeners:  make(map[simulator.Role]net.Listener),
		shutdown:   make(chan struct{}),
	}
}

// Serve opens the three listeners and blocks until the context is cancelled
// or Stop is called, then shuts down gracefully.
func (a *Adapter) Serve(ctx context.Context) error {
	ports := []struct {
		role simulator.Role
		port int
	}{
		{simulator.RoleClassic, a.config.ClassicPort},
		{simulator.RoleActor, a.config.ActorPort},
		{simulator.RoleViewer, a.config.ViewerPort},
	}

	a.listenerMu.Lock()
	for _, p := range ports {
		listener, err := net.Listen("tcp", net.JoinHostPort(a.config.Host, fmt.Sprintf("%d", p.port)))
		if err != nil {
			for _, l := range a.listeners {
				l.Close()
			}
			a.listenerMu.Unlock()
			return fmt.Errorf("listen for %s sessions on port %d: %w", p.role, p.port, err)
		}
		a.listeners[p.role] = listener
		logger.Info("Listening for protocol sessions", "role", p.role, "address", listener.Addr())
	}
	a.listenerMu.Unlock()

	go func() {
		<-ctx.Done()
		a.initiateShutdown()
	}()

	var accepts sync.WaitGroup
	for role, listener := range a.snapshotListeners() {
		accepts.Add(1)
		go func(role simulator.Role, listener net.Listener) {
			defer accepts.Done()
			a.acceptLoop(role, listener)
		}(role, listener)
	}

	a.activeConns.Add(1)
	go func() {
		defer a.activeConns.Done()
		a.keepaliveWatchdog()
	}()

	accepts.Wait()
	return a.gracefulShutdown()
}

// Addr returns the bound address for a role's listener. Useful with port 0.
func (a *Adapter) Addr(role simulator.Role) net.Addr {
	a.listenerMu.Lock()
	defer a.listenerMu.Unlock()
	listener, ok := a.listeners[role]
	if !ok {
		return nil
	}
	return listener.Addr()
}

// Stop initiates shutdown and waits for completion or context expiry.
func (a *Adapter) Stop(ctx context.Context) error {
	a.initiateShutdown()

	done := make(chan struct{})
	go func() {
		a.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.forceCloseConnections()
		return ctx.Err()
	}
}

func (a *Adapter) acceptLoop(role simulator.Role, listener net.Listener) {
	for {
		tcpConn, err := listener.Accept()
		if err != nil {
			select {
			case <-a.shutdown:
				return
			default:
				logger.Debug("Accept error", "role", role, "error", err)
				continue
			}
		}
		a.handleAccepted(role, tcpConn)
	}
}

func (a *Adapter) handleAccepted(role simulator.Role, tcpConn net.Conn) {
	remote := tcpConn.RemoteAddr().String()
	sess := simulator.NewSession(newSessionID(), role, remote)

	c := &conn{adapter: a, tcp: tcpConn, sess: sess}
	sess.Writer = c

	if err := a.state.RegisterSession(sess); err != nil {
		// Best-effort reject with the session-limit error before closing.
		reject := openprotocol.ErrorMessage(openprotocol.MIDCommStart, openprotocol.CodeTooManySessions)
		_ = c.WriteMessage(reject)
		_ = tcpConn.Close()
		logger.Warn("Rejected session", "role", role, "remote", remote, "error", err)
		return
	}

	a.activeConns.Add(1)
	count := a.connCount.Add(1)
	a.activeConnections.Store(remote, tcpConn)
	if a.metrics != nil {
		a.metrics.RecordConnectionAccepted(string(role))
		a.metrics.SetActiveSessions(count)
	}
	logger.Info("Session connected", "session_id", sess.ID, "role", role, "remote", remote, "active", count)

	go func() {
		defer func() {
			a.activeConnections.Delete(remote)
			a.state.UnregisterSession(sess.ID)
			_ = tcpConn.Close()

			count := a.connCount.Add(-1)
			if a.metrics != nil {
				a.metrics.RecordConnectionClosed(string(role))
				a.metrics.SetActiveSessions(count)
			}
			a.activeConns.Done()
			logger.Info("Session closed", "session_id", sess.ID, "role", role, "active", count)
		}()
		// A panic while handling one client must not take down the
		// listener or the other sessions.
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Session handler panicked", "session_id", sess.ID, "role", role, "remote", remote, "panic", r)
			}
		}()
		c.serve()
	}()
}

// send stamps, writes and records one outbound message on a session.
func (a *Adapter) send(sess *simulator.Session, msg openprotocol.Message) {
	out := sess.StampOutbound(msg)
	if err := sess.Writer.WriteMessage(out); err != nil {
		logger.Debug("Write failed", "session_id", sess.ID, "mid", out.MID(), "error", err)
		return
	}
	a.state.RecordTraffic(sess, simulator.DirectionTx, out)
	if a.metrics != nil {
		a.metrics.RecordFrame(simulator.DirectionTx, out.MID())
	}
}

// keepaliveWatchdog closes sessions whose last activity is older than the
// configured timeout. It scans once a second.
func (a *Adapter) keepaliveWatchdog() {
	timeout := a.state.KeepaliveTimeout()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-a.shutdown:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-timeout)
			for _, sess := range a.state.LiveSessions() {
				if sess.LastActivity().Before(cutoff) {
					logger.Info("Closing session on keep-alive timeout", "session_id", sess.ID, "role", sess.Role)
					if a.metrics != nil {
						a.metrics.RecordKeepaliveTimeout(string(sess.Role))
					}
					_ = sess.Writer.Close()
				}
			}
		}
	}
}

func (a *Adapter) snapshotListeners() map[simulator.Role]net.Listener {
	a.listenerMu.Lock()
	defer a.listenerMu.Unlock()
	out := make(map[simulator.Role]net.Listener, len(a.listeners))
	for role, listener := range a.listeners {
		out[role] = listener
	}
	return out
}

func (a *Adapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		logger.Debug("Protocol adapter shutdown initiated")
		close(a.shutdown)

		a.listenerMu.Lock()
		for role, listener := range a.listeners {
			if err := listener.Close(); err != nil {
				logger.Debug("Error closing listener", "role", role, "error", err)
			}
		}
		a.listenerMu.Unlock()

		// Shorten read deadlines so blocked reads notice the shutdown
		// instead of waiting for client traffic.
		deadline := time.Now().Add(100 * time.Millisecond)
		a.activeConnections.Range(func(key, value any) bool {
			if tcpConn, ok := value.(net.Conn); ok {
				_ = tcpConn.SetReadDeadline(deadline)
			}
			return true
		})
	})
}

func (a *Adapter) gracefulShutdown() error {
	active := a.connCount.Load()
	logger.Info("Protocol adapter draining connections", "active", active, "timeout", a.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		a.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Protocol adapter stopped")
		return nil
	case <-time.After(a.config.ShutdownTimeout):
		a.forceCloseConnections()
		return fmt.Errorf("shutdown timeout after %v, connections force-closed", a.config.ShutdownTimeout)
	}
}

func (a *Adapter) forceCloseConnections() {
	a.activeConnections.Range(func(key, value any) bool {
		if tcpConn, ok := value.(net.Conn); ok {
			logger.Warn("Force-closing connection", "remote", key)
			_ = tcpConn.Close()
		}
		return true
	})
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
