package schema

import (
	"fmt"

	"github.com/danmuck/stridelink/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type IDs.
const (
	MsgCommand    uint32 = 1
	MsgMetrics    uint32 = 2
	MsgSessionEnd uint32 = 3
)

// Field IDs.
const (
	FieldSessionID   uint16 = 1
	FieldSentAtMS    uint16 = 2
	FieldDeviceID    uint16 = 3
	FieldCommandKind uint16 = 100
	FieldActivity    uint16 = 101
	FieldLocation    uint16 = 102

	FieldHeartRate    uint16 = 200
	FieldActiveEnergy uint16 = 201
	FieldDistance     uint16 = 202
	FieldElapsed      uint16 = 203
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgCommand: {
		{FieldCommandKind, tlv.TypeString},
		{FieldSentAtMS, tlv.TypeU64},
	},
	MsgMetrics: {
		{FieldSessionID, tlv.TypeString},
		{FieldSentAtMS, tlv.TypeU64},
		{FieldHeartRate, tlv.TypeF64},
		{FieldActiveEnergy, tlv.TypeF64},
		{FieldDistance, tlv.TypeF64},
		{FieldElapsed, tlv.TypeF64},
	},
	MsgSessionEnd: {
		{FieldSessionID, tlv.TypeString},
		{FieldSentAtMS, tlv.TypeU64},
	},
}

// Validate enforces required fields and their types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint32("message_type", messageType).Msg("schema.Validate unknown message type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
