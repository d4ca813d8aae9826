package openprotocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAckAndErrorPayloads(t *testing.T) {
	assert.Equal(t, []byte("0060"), AckPayload("60"))
	assert.Equal(t, []byte("000135"), ErrorPayload("0001", CodeActorAlreadyActive))
	assert.Equal(t, []byte("123499"), ErrorPayload("1234", CodeMIDUnknown))
}

func TestErrorMessageShape(t *testing.T) {
	msg := ErrorMessage("0018", CodeCommandDisabled)
	assert.Equal(t, MIDError, msg.MID())
	assert.Equal(t, []byte("001892"), msg.Data)
}

func TestPadAndJustHelpers(t *testing.T) {
	assert.Equal(t, "007", PadInt(7, 3))
	assert.Equal(t, "VIN  ", LeftJust("VIN", 5))
	assert.Equal(t, "TRUNC", LeftJust("TRUNCATED", 5))
}

func TestEncodeVariableFields(t *testing.T) {
	out := EncodeVariableFields([]VariableField{
		{PID: 2, DataType: "I", Unit: "Nm", StepNo: "1", Value: "12.34"},
	})
	assert.Equal(t, "00100002005 I Nm000112.34", string(out))
}

func TestEncodeVariableFieldsLengthOverride(t *testing.T) {
	out := EncodeVariableFields([]VariableField{
		{PID: 30, DataType: "S", Unit: "", StepNo: "2", Value: "OK", LengthOverride: "010"},
	})
	assert.Equal(t, "00100030010 S   0002OK", string(out))
}
