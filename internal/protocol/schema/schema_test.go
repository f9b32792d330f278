package schema

import (
	"testing"

	"github.com/danmuck/stridelink/internal/protocol/tlv"
	"github.com/danmuck/stridelink/internal/testutil/testlog"
)

func metricsFields() []tlv.Field {
	return []tlv.Field{
		tlv.String(FieldSessionID, "sess-1"),
		tlv.U64(FieldSentAtMS, 1760000000000),
		tlv.F64(FieldHeartRate, 142),
		tlv.F64(FieldActiveEnergy, 88.5),
		tlv.F64(FieldDistance, 1200),
		tlv.F64(FieldElapsed, 420),
	}
}

func TestValidateMetricsRequiredFields(t *testing.T) {
	testlog.Start(t)
	if err := Validate(MsgMetrics, metricsFields()); err != nil {
		t.Fatalf("validate metrics: %v", err)
	}
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)
	fields := append(metricsFields(), tlv.Field{ID: 9999, Type: tlv.TypeBytes, Value: []byte{0x01}})
	if err := Validate(MsgMetrics, fields); err != nil {
		t.Fatalf("validate with unknown field: %v", err)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	testlog.Start(t)
	err := Validate(MsgCommand, []tlv.Field{tlv.U64(FieldSentAtMS, 1)})
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldCommandKind || ve.Reason != "missing required field" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateTypeMismatch(t *testing.T) {
	testlog.Start(t)
	fields := metricsFields()
	fields[5] = tlv.U64(FieldElapsed, 420)
	err := Validate(MsgMetrics, fields)
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldElapsed || ve.Reason != "type mismatch" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateUnknownMessageType(t *testing.T) {
	testlog.Start(t)
	err := Validate(77, nil)
	ve, ok := err.(ValidationError)
	if !ok || ve.Reason != "unknown message_type" {
		t.Fatalf("unexpected error: %v", err)
	}
}
