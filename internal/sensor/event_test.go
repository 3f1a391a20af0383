package sensor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func validEvent() Event {
	return Event{
		Topic:      "home/sensor1",
		FieldName:  "motion",
		FieldValue: true,
		SensorID:   DefaultSensorID,
	}
}

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr string
	}{
		{name: "minimal", mutate: func(*Event) {}},
		{name: "battery zero", mutate: func(e *Event) { e.Battery = intPtr(0) }},
		{name: "battery full", mutate: func(e *Event) { e.Battery = intPtr(100) }},
		{name: "battery over", mutate: func(e *Event) { e.Battery = intPtr(101) }, wantErr: "battery 101"},
		{name: "battery negative", mutate: func(e *Event) { e.Battery = intPtr(-1) }, wantErr: "battery -1"},
		{name: "voltage zero", mutate: func(e *Event) { e.Voltage = intPtr(0) }},
		{name: "voltage max", mutate: func(e *Event) { e.Voltage = intPtr(4200) }},
		{name: "voltage over", mutate: func(e *Event) { e.Voltage = intPtr(4201) }, wantErr: "voltage 4201"},
		{name: "empty topic", mutate: func(e *Event) { e.Topic = "" }, wantErr: "topic must not be empty"},
		{name: "wildcard topic", mutate: func(e *Event) { e.Topic = "home/+/motion" }, wantErr: "wildcard"},
		{name: "multi-level wildcard", mutate: func(e *Event) { e.Topic = "home/#" }, wantErr: "wildcard"},
		{name: "nul in topic", mutate: func(e *Event) { e.Topic = "home\x00x" }, wantErr: "NUL"},
		{name: "topic too long", mutate: func(e *Event) { e.Topic = strings.Repeat("a", 65536) }, wantErr: "longer than"},
		{name: "empty field", mutate: func(e *Event) { e.FieldName = "" }, wantErr: "field name"},
		{name: "sensor id zero", mutate: func(e *Event) { e.SensorID = 0 }},
		{name: "sensor id negative", mutate: func(e *Event) { e.SensorID = -1 }, wantErr: "sensor id"},
		{name: "sensor id too large", mutate: func(e *Event) { e.SensorID = 65536 }, wantErr: "sensor id"},
		{
			name:    "field collides with battery",
			mutate:  func(e *Event) { e.FieldName = "battery"; e.Battery = intPtr(50) },
			wantErr: "collides",
		},
		{
			name:   "field named battery without battery telemetry",
			mutate: func(e *Event) { e.FieldName = "battery" },
		},
		{
			name:    "field collides with voltage",
			mutate:  func(e *Event) { e.FieldName = "voltage"; e.Voltage = intPtr(3000) },
			wantErr: "collides",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validEvent()
			tt.mutate(&ev)
			err := ev.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrConfiguration)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseFieldValue(t *testing.T) {
	v, err := ParseFieldValue("true")
	require.NoError(t, err)
	assert.True(t, v)

	v, err = ParseFieldValue("false")
	require.NoError(t, err)
	assert.False(t, v)

	for _, in := range []string{"", "TRUE", "1", "yes", "on"} {
		_, err := ParseFieldValue(in)
		assert.ErrorIs(t, err, ErrConfiguration, "ParseFieldValue(%q)", in)
	}
}
