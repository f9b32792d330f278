package transport

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/stridelink/internal/protocol/frame"
	"github.com/danmuck/stridelink/internal/protocol/schema"
	"github.com/danmuck/stridelink/internal/protocol/tlv"
	"github.com/danmuck/stridelink/internal/workout"
)

// EncodeMessageFrame validates msg and renders it as one framed wire message.
func EncodeMessageFrame(messageID uint64, msg Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	var msgType uint32
	fields := []tlv.Field{tlv.U64(schema.FieldSentAtMS, uint64(sentAt.UnixMilli()))}
	if msg.SessionID != "" {
		fields = append(fields, tlv.String(schema.FieldSessionID, msg.SessionID))
	}
	if msg.DeviceID != "" {
		fields = append(fields, tlv.String(schema.FieldDeviceID, msg.DeviceID))
	}

	switch msg.Kind {
	case KindCommand:
		msgType = schema.MsgCommand
		fields = append(fields, tlv.String(schema.FieldCommandKind, string(msg.Command.Kind)))
		if msg.Command.Kind == workout.CommandStart {
			fields = append(fields,
				tlv.String(schema.FieldActivity, string(msg.Command.Activity)),
				tlv.String(schema.FieldLocation, string(msg.Command.Location)),
			)
		}
	case KindMetrics:
		msgType = schema.MsgMetrics
		fields = append(fields,
			tlv.F64(schema.FieldHeartRate, msg.Metrics.HeartRateBPM),
			tlv.F64(schema.FieldActiveEnergy, msg.Metrics.ActiveEnergyKcal),
			tlv.F64(schema.FieldDistance, msg.Metrics.DistanceMeters),
			tlv.F64(schema.FieldElapsed, msg.Metrics.ElapsedSeconds),
		)
	case KindSessionEnd:
		msgType = schema.MsgSessionEnd
	}

	if err := schema.Validate(msgType, fields); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	err := frame.WriteFrame(&buf, frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: msgType,
		},
		Payload: tlv.EncodeFields(fields),
	}, frame.DefaultLimits())
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMessageFrame parses one frame payload with schema validation.
func DecodeMessageFrame(f frame.Frame) (Message, error) {
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return Message{}, err
	}
	if err := schema.Validate(f.Header.MessageType, fields); err != nil {
		return Message{}, err
	}

	sentField, _ := tlv.GetField(fields, schema.FieldSentAtMS)
	sentMS, err := tlv.U64FromBytes(sentField.Value)
	if err != nil {
		return Message{}, err
	}
	msg := Message{
		SessionID: optionalString(fields, schema.FieldSessionID),
		DeviceID:  optionalString(fields, schema.FieldDeviceID),
		SentAt:    time.UnixMilli(int64(sentMS)),
	}

	switch f.Header.MessageType {
	case schema.MsgCommand:
		msg.Kind = KindCommand
		msg.Command = workout.Command{
			Kind:     workout.CommandKind(optionalString(fields, schema.FieldCommandKind)),
			Activity: workout.ActivityType(optionalString(fields, schema.FieldActivity)),
			Location: workout.LocationContext(optionalString(fields, schema.FieldLocation)),
		}
	case schema.MsgMetrics:
		msg.Kind = KindMetrics
		if msg.Metrics, err = decodeMetrics(fields); err != nil {
			return Message{}, err
		}
	case schema.MsgSessionEnd:
		msg.Kind = KindSessionEnd
	}

	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// WriteMessage frames msg onto w.
func WriteMessage(w io.Writer, messageID uint64, msg Message) error {
	payload, err := EncodeMessageFrame(messageID, msg)
	if err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadMessage blocks for the next framed message on r.
func ReadMessage(r io.Reader) (Message, error) {
	f, err := frame.ReadFrame(r, frame.DefaultLimits())
	if err != nil {
		return Message{}, err
	}
	return DecodeMessageFrame(f)
}

func decodeMetrics(fields []tlv.Field) (workout.Metrics, error) {
	var out workout.Metrics
	targets := []struct {
		id  uint16
		dst *float64
	}{
		{schema.FieldHeartRate, &out.HeartRateBPM},
		{schema.FieldActiveEnergy, &out.ActiveEnergyKcal},
		{schema.FieldDistance, &out.DistanceMeters},
		{schema.FieldElapsed, &out.ElapsedSeconds},
	}
	for _, target := range targets {
		f, _ := tlv.GetField(fields, target.id)
		v, err := tlv.F64FromBytes(f.Value)
		if err != nil {
			return workout.Metrics{}, fmt.Errorf("field %d: %w", target.id, err)
		}
		*target.dst = v
	}
	return out, nil
}

func optionalString(fields []tlv.Field, id uint16) string {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return ""
	}
	return string(f.Value)
}
