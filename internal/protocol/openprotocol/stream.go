package openprotocol

import "strconv"

// StreamParser accumulates bytes from a TCP stream and extracts complete
// Open Protocol frames.
//
// The parser tolerates foreign bytes between frames: when the buffer head is
// not a 4-digit ASCII length field it drops one byte at a time until
// realignment, so aligned frames following garbage are never lost.
//
// StreamParser is not safe for concurrent use; each connection owns one.
type StreamParser struct {
	buf []byte
}

// Feed appends bytes read from the wire.
func (p *StreamParser) Feed(b []byte) {
	p.buf = append(p.buf, b...)
}

// Pending returns the number of buffered bytes not yet consumed.
func (p *StreamParser) Pending() int {
	return len(p.buf)
}

// Drain consumes as many complete frames as the buffer holds and returns
// them in arrival order. Incomplete trailing data is retained for the next
// Feed.
func (p *StreamParser) Drain() []Message {
	var messages []Message
	for {
		if len(p.buf) < 4 {
			return messages
		}
		if !allDigits(p.buf[:4]) {
			// Resync: drop a single byte and retry.
			p.buf = p.buf[1:]
			continue
		}
		length, _ := strconv.Atoi(string(p.buf[:4]))
		if length < HeaderSize {
			p.buf = p.buf[4:]
			continue
		}
		if len(p.buf) < length {
			return messages
		}

		frame := make([]byte, length)
		copy(frame, p.buf[:length])
		p.buf = p.buf[length:]

		// The framing NUL follows the counted bytes; consume it so it is
		// not mistaken for the start of the next frame.
		raw := frame
		if len(p.buf) > 0 && p.buf[0] == NUL {
			p.buf = p.buf[1:]
			raw = append(frame, NUL)
		}

		header, err := ParseHeader(frame[:HeaderSize])
		if err != nil {
			// A digit-aligned frame with a corrupt header: skip its length
			// field and let the resync loop find the next boundary.
			continue
		}
		header.Length = length
		messages = append(messages, Message{
			Header: header,
			Data:   frame[HeaderSize:],
			Raw:    raw,
			Binary: header.MID == MIDTrace,
		})
	}
}

func allDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
