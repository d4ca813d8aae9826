package openprotocol

import "fmt"

// Message is a complete Open Protocol frame: header, payload and the raw
// on-wire bytes (including the trailing NUL for ASCII messages).
//
// Binary is set for MID 0900, whose payload carries raw trace bytes and whose
// frame is not NUL-terminated.
type Message struct {
	Header Header
	Data   []byte
	Raw    []byte
	Binary bool
}

// MID returns the message identifier from the header.
func (m Message) MID() string {
	return m.Header.MID
}

// Revision returns the numeric header revision (0 when blank).
func (m Message) Revision() int {
	return m.Header.RevisionInt()
}

// DataASCII returns the payload decoded as ASCII. Bytes outside the printable
// range are kept as-is; callers that need strict ASCII should inspect Binary
// first.
func (m Message) DataASCII() string {
	return string(m.Data)
}

func (m Message) String() string {
	return fmt.Sprintf("MID %s rev %d len %d seq %s", m.Header.MID, m.Revision(), m.Header.Length, m.Header.SequenceNumber)
}

// BuildOption customizes a message produced by Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	revision       string
	noAckFlag      byte
	stationID      string
	spindleID      string
	sequenceNumber string
	messageParts   byte
	messagePartNum byte
	appendNUL      bool
	appendNULSet   bool
	binary         bool
	binarySet      bool
}

// WithRevision sets the numeric header revision (zero-padded to 3 digits).
func WithRevision(rev int) BuildOption {
	return func(o *buildOptions) { o.revision = PadInt(rev, 3) }
}

// WithRawRevision sets the revision field verbatim (digits or spaces).
func WithRawRevision(rev string) BuildOption {
	return func(o *buildOptions) { o.revision = rightAlign(rev, 3) }
}

// WithSequence sets the link-level sequence number. Zero means no sequence
// and renders as "00".
func WithSequence(seq int) BuildOption {
	return func(o *buildOptions) { o.sequenceNumber = PadInt(seq, 2) }
}

// WithNoAck sets the no-ack header flag.
func WithNoAck() BuildOption {
	return func(o *buildOptions) { o.noAckFlag = '1' }
}

// WithStation sets the station identifier field (2 chars).
func WithStation(id string) BuildOption {
	return func(o *buildOptions) { o.stationID = id }
}

// WithSpindle sets the spindle identifier field (2 chars).
func WithSpindle(id string) BuildOption {
	return func(o *buildOptions) { o.spindleID = id }
}

// WithParts sets the message parts and part number header fields.
func WithParts(parts, partNumber byte) BuildOption {
	return func(o *buildOptions) {
		o.messageParts = parts
		o.messagePartNum = partNumber
	}
}

// WithoutNUL suppresses the trailing NUL terminator.
func WithoutNUL() BuildOption {
	return func(o *buildOptions) {
		o.appendNUL = false
		o.appendNULSet = true
	}
}

// AsBinary marks the payload as binary. Binary frames are never
// NUL-terminated unless the terminator is forced explicitly.
func AsBinary() BuildOption {
	return func(o *buildOptions) {
		o.binary = true
		o.binarySet = true
	}
}

// Build constructs a message for the given MID and payload.
//
// Defaults: revision 1, no link sequence, spaces for station, spindle and
// part fields, trailing NUL appended. MID 0900 is automatically treated as
// binary and emitted without the NUL terminator.
func Build(mid string, data []byte, opts ...BuildOption) Message {
	o := buildOptions{
		revision:       "001",
		noAckFlag:      ' ',
		stationID:      "  ",
		spindleID:      "  ",
		sequenceNumber: "00",
		messageParts:   ' ',
		messagePartNum: ' ',
		appendNUL:      true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	mid = NormalizeMID(mid)
	if !o.binarySet {
		o.binary = mid == MIDTrace
	}
	if !o.appendNULSet && o.binary {
		o.appendNUL = false
	}

	header := Header{
		Length:            HeaderSize + len(data),
		MID:               mid,
		Revision:          o.revision,
		NoAckFlag:         o.noAckFlag,
		StationID:         o.stationID,
		SpindleID:         o.spindleID,
		SequenceNumber:    o.sequenceNumber,
		MessageParts:      o.messageParts,
		MessagePartNumber: o.messagePartNum,
	}

	raw := make([]byte, 0, HeaderSize+len(data)+1)
	raw = append(raw, header.encode()...)
	raw = append(raw, data...)
	if o.appendNUL {
		raw = append(raw, NUL)
	}

	return Message{Header: header, Data: data, Raw: raw, Binary: o.binary}
}

// Rebuild produces a copy of msg with a new link sequence, preserving every
// other header field, the NUL discipline and the binary flag. Used by the
// session layer to stamp outbound messages.
func Rebuild(msg Message, seq int) Message {
	opts := []BuildOption{
		WithRawRevision(msg.Header.Revision),
		WithSequence(seq),
		WithStation(msg.Header.StationID),
		WithSpindle(msg.Header.SpindleID),
		WithParts(msg.Header.MessageParts, msg.Header.MessagePartNumber),
	}
	if msg.Header.NoAckFlag == '1' {
		opts = append(opts, WithNoAck())
	}
	if msg.Binary {
		opts = append(opts, AsBinary())
	}
	if len(msg.Raw) == 0 || msg.Raw[len(msg.Raw)-1] != NUL {
		opts = append(opts, WithoutNUL())
	}
	return Build(msg.Header.MID, msg.Data, opts...)
}
