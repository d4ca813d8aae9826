package openprotocol

import (
	"fmt"
	"strings"
)

// Wire error codes observable in MID 0004 replies.
const (
	CodeInvalidSequence     = 3  // invalid link-level sequence
	CodeTooManySessions     = 16 // client connection limit reached
	CodeActorAlreadyActive  = 35 // another actor holds the connection
	CodeSubscriptionUnknown = 73 // subscription target unknown
	CodeSubscriptionRev     = 74 // subscription revision unsupported
	CodeRequestUnknown      = 75 // request target unknown or unsupported
	CodeMIDUnsupported      = 79 // MID not supported by controller
	CodeCommandDisabled     = 92 // command disabled by active actor
	CodeCommNotStarted      = 97 // communication not started / already started
	CodeRevisionUnsupported = 98 // unsupported MID revision
	CodeMIDUnknown          = 99 // MID not recognized
)

// PadInt zero-pads a non-negative integer to the given width.
func PadInt(value, width int) string {
	return fmt.Sprintf("%0*d", width, value)
}

// LeftJust left-justifies a string into a fixed-width field, space padded
// and truncated to width.
func LeftJust(s string, width int) string {
	if len(s) > width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

// ASCII concatenates labelled payload sections into payload bytes.
func ASCII(parts ...string) []byte {
	return []byte(strings.Join(parts, ""))
}

// AckPayload is the MID 0005 payload: the four digits of the MID being
// acknowledged.
func AckPayload(mid string) []byte {
	return []byte(NormalizeMID(mid))
}

// ErrorPayload is the MID 0004 payload: the offending MID followed by a
// two-digit error code.
func ErrorPayload(mid string, code int) []byte {
	return []byte(NormalizeMID(mid) + PadInt(code, 2))
}

// ErrorMessage builds a complete MID 0004 reply for the offending MID.
func ErrorMessage(mid string, code int) Message {
	return Build(MIDError, ErrorPayload(mid, code))
}

// AckMessage builds a complete MID 0005 reply acknowledging the given MID.
func AckMessage(mid string) Message {
	return Build(MIDAck, AckPayload(mid))
}

// VariableField is one entry of a variable data field block.
type VariableField struct {
	PID            int    // parameter identifier, 5 digits
	DataType       string // 2 chars
	Unit           string // 3 chars
	StepNo         string // 4 chars, zero padded
	Value          string
	LengthOverride string // 3 chars, empty for automatic length
}

// EncodeVariableFields renders a variable data field block: a 3-digit field
// count followed by pid(5) + len(3) + type(2) + unit(3) + step(4) + value
// per field.
func EncodeVariableFields(fields []VariableField) []byte {
	var sb strings.Builder
	sb.WriteString(PadInt(len(fields), 3))
	for _, f := range fields {
		length := f.LengthOverride
		if length == "" {
			length = PadInt(len(f.Value), 3)
		}
		sb.WriteString(PadInt(f.PID, 5))
		sb.WriteString(length)
		sb.WriteString(rightAlign(f.DataType, 2))
		sb.WriteString(rightAlign(f.Unit, 3))
		sb.WriteString(zeroAlign(f.StepNo, 4))
		sb.WriteString(f.Value)
	}
	return []byte(sb.String())
}

// zeroAlign pads s with zeros on the left and keeps the trailing width
// characters.
func zeroAlign(s string, width int) string {
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return s[len(s)-width:]
}
