// Package openprotocol implements the Open Protocol application layer wire
// format: fixed 20-byte ASCII headers, NUL-terminated frames, link-level
// sequence numbers and the payload field encodings used by torque controllers.
package openprotocol

import (
	"fmt"
	"strconv"
	"strings"
)

// HeaderSize is the fixed size of every Open Protocol header in bytes.
const HeaderSize = 20

// NUL terminates ASCII frames on the wire. It is not counted in the header
// length field.
const NUL = byte(0x00)

// Well-known MIDs handled by the link and session layers.
const (
	MIDCommStart    = "0001"
	MIDCommStartAck = "0002"
	MIDCommStop     = "0003"
	MIDError        = "0004"
	MIDAck          = "0005"
	MIDDataRequest  = "0006"
	MIDSubscribe    = "0008"
	MIDUnsubscribe  = "0009"
	MIDTrace        = "0900"
	MIDLinkAck      = "9997"
	MIDLinkNack     = "9998"
	MIDKeepAlive    = "9999"
)

// Header is the parsed form of the 20-byte Open Protocol header.
//
// Revision, StationID, SpindleID and SequenceNumber keep their raw ASCII form
// (digits or spaces); use RevisionInt and Sequence for the numeric views.
type Header struct {
	Length            int
	MID               string
	Revision          string // 3 chars
	NoAckFlag         byte
	StationID         string // 2 chars
	SpindleID         string // 2 chars
	SequenceNumber    string // 2 chars
	MessageParts      byte
	MessagePartNumber byte
}

// NormalizeMID left-pads a MID with zeros and keeps the trailing four
// characters, so "1" becomes "0001" and "12345" becomes "2345". The operation
// is idempotent.
func NormalizeMID(mid string) string {
	if len(mid) < 4 {
		mid = strings.Repeat("0", 4-len(mid)) + mid
	}
	return mid[len(mid)-4:]
}

// NextSequence advances a link-level sequence number, cycling on [1,99].
// Zero is never produced: 99 wraps to 1.
func NextSequence(seq int) int {
	if seq >= 99 {
		return 1
	}
	return seq + 1
}

// ParseHeader decodes a raw 20-byte header.
func ParseHeader(raw []byte) (Header, error) {
	if len(raw) != HeaderSize {
		return Header{}, fmt.Errorf("header must be exactly %d bytes, got %d", HeaderSize, len(raw))
	}
	for _, b := range raw {
		if b < 0x20 || b > 0x7e {
			return Header{}, fmt.Errorf("header contains non-printable byte 0x%02x", b)
		}
	}
	text := string(raw)
	length, err := strconv.Atoi(text[0:4])
	if err != nil {
		return Header{}, fmt.Errorf("invalid length field %q: %w", text[0:4], err)
	}
	return Header{
		Length:            length,
		MID:               text[4:8],
		Revision:          text[8:11],
		NoAckFlag:         text[11],
		StationID:         text[12:14],
		SpindleID:         text[14:16],
		SequenceNumber:    text[16:18],
		MessageParts:      text[18],
		MessagePartNumber: text[19],
	}, nil
}

// Sequence returns the numeric link sequence, or 0 when the field is blank or
// non-numeric.
func (h Header) Sequence() int {
	n, err := strconv.Atoi(strings.TrimSpace(h.SequenceNumber))
	if err != nil {
		return 0
	}
	return n
}

// HasSequence reports whether the header carries a usable link sequence.
func (h Header) HasSequence() bool {
	seq := h.Sequence()
	return seq >= 1 && seq <= 99
}

// RevisionInt returns the numeric revision, treating blank or malformed
// revision fields as 0 ("any revision").
func (h Header) RevisionInt() int {
	s := strings.TrimSpace(h.Revision)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// encode renders the header back into its 20-byte ASCII form.
func (h Header) encode() []byte {
	var sb strings.Builder
	sb.Grow(HeaderSize)
	sb.WriteString(PadInt(h.Length, 4))
	sb.WriteString(NormalizeMID(h.MID))
	sb.WriteString(rightAlign(h.Revision, 3))
	sb.WriteByte(orSpace(h.NoAckFlag))
	sb.WriteString(rightAlign(h.StationID, 2))
	sb.WriteString(rightAlign(h.SpindleID, 2))
	sb.WriteString(rightAlign(h.SequenceNumber, 2))
	sb.WriteByte(orSpace(h.MessageParts))
	sb.WriteByte(orSpace(h.MessagePartNumber))
	return []byte(sb.String())
}

func orSpace(b byte) byte {
	if b == 0 {
		return ' '
	}
	return b
}

// rightAlign pads s with spaces on the left and keeps the trailing width
// characters, matching the header field discipline.
func rightAlign(s string, width int) string {
	if len(s) < width {
		s = strings.Repeat(" ", width-len(s)) + s
	}
	return s[len(s)-width:]
}
