package openprotocol

import (
	"io"
	"net"
	"sync"

	"github.com/marmos91/opsim/internal/logger"
	"github.com/marmos91/opsim/internal/protocol/openprotocol"
	"github.com/marmos91/opsim/pkg/simulator"
)

const readChunkSize = 4096

// conn couples one TCP connection to its protocol session. It owns the
// inbound stream parser; writes are serialized by writeMu because the
// dispatch path and the event publisher both send through the session.
type conn struct {
	adapter *Adapter
	tcp     net.Conn
	sess    *simulator.Session

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// WriteMessage implements simulator.MessageWriter.
func (c *conn) WriteMessage(msg openprotocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.tcp.Write(msg.Raw)
	return err
}

// Close implements simulator.MessageWriter. Closing unblocks the read loop,
// which then runs the adapter's cleanup path.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.tcp.Close()
	})
	return c.closeErr
}

// serve runs the read loop until the peer disconnects or the adapter shuts
// down. Frames are decoded incrementally: partial frames stay buffered in
// the parser, garbage is skipped by its resync logic.
func (c *conn) serve() {
	parser := &openprotocol.StreamParser{}
	buf := make([]byte, readChunkSize)

	for {
		n, err := c.tcp.Read(buf)
		if n > 0 {
			c.sess.Touch()
			parser.Feed(buf[:n])
			for _, msg := range parser.Drain() {
				c.handleFrame(msg)
			}
		}
		if err != nil {
			if err != io.EOF {
				logger.Debug("Read loop ended", "session_id", c.sess.ID, "error", err)
			}
			return
		}
	}
}

func (c *conn) handleFrame(msg openprotocol.Message) {
	c.adapter.state.RecordTraffic(c.sess, simulator.DirectionRx, msg)
	if c.adapter.metrics != nil {
		c.adapter.metrics.RecordFrame(simulator.DirectionRx, msg.MID())
	}

	process, linkAck := c.sess.ResolveLinkAck(msg)
	if linkAck != nil {
		c.adapter.send(c.sess, *linkAck)
	}
	if !process {
		return
	}

	for _, reply := range c.adapter.dispatcher.Dispatch(c.sess, msg) {
		c.adapter.send(c.sess, reply)
	}
}
