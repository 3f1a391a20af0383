package sensor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	var got map[string]any
	require.NoError(t, json.Unmarshal(payload, &got), "payload %s", payload)
	return got
}

func TestBuildPayload_TriggerOnly(t *testing.T) {
	payload, err := BuildPayload(validEvent())
	require.NoError(t, err)

	assert.JSONEq(t, `{"motion": true}`, string(payload))
	assert.Equal(t, map[string]any{"motion": true}, decode(t, payload))
}

func TestBuildPayload_WithTelemetry(t *testing.T) {
	ev := validEvent()
	ev.Battery = intPtr(87)
	ev.Voltage = intPtr(3700)

	payload, err := BuildPayload(ev)
	require.NoError(t, err)

	assert.JSONEq(t, `{"motion": true, "battery": 87, "voltage": 3700}`, string(payload))
	// Sorted keys, numbers as numbers.
	assert.Equal(t, `{"battery":87,"motion":true,"voltage":3700}`, string(payload))
}

func TestBuildPayload_OptionalKeys(t *testing.T) {
	tests := []struct {
		name        string
		battery     *int
		voltage     *int
		wantBattery bool
		wantVoltage bool
	}{
		{"neither", nil, nil, false, false},
		{"battery only", intPtr(0), nil, true, false},
		{"voltage only", nil, intPtr(4200), false, true},
		{"both", intPtr(100), intPtr(0), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validEvent()
			ev.FieldValue = false
			ev.Battery = tt.battery
			ev.Voltage = tt.voltage

			payload, err := BuildPayload(ev)
			require.NoError(t, err)
			got := decode(t, payload)

			assert.Equal(t, false, got["motion"])

			b, ok := got[BatteryKey]
			assert.Equal(t, tt.wantBattery, ok)
			if tt.wantBattery {
				assert.Equal(t, float64(*tt.battery), b)
			}

			v, ok := got[VoltageKey]
			assert.Equal(t, tt.wantVoltage, ok)
			if tt.wantVoltage {
				assert.Equal(t, float64(*tt.voltage), v)
			}

			wantKeys := 1
			if tt.wantBattery {
				wantKeys++
			}
			if tt.wantVoltage {
				wantKeys++
			}
			assert.Len(t, got, wantKeys)
		})
	}
}

func TestBuildPayload_Deterministic(t *testing.T) {
	ev := validEvent()
	ev.Battery = intPtr(42)
	ev.Voltage = intPtr(3100)

	first, err := BuildPayload(ev)
	require.NoError(t, err)
	for range 20 {
		again, err := BuildPayload(ev)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBuildPayload_InvalidUTF8(t *testing.T) {
	ev := validEvent()
	ev.FieldName = "mot\xffion"

	_, err := BuildPayload(ev)
	require.ErrorIs(t, err, ErrSerialization)
}

func TestBuildPayload_UnicodeFieldName(t *testing.T) {
	ev := validEvent()
	ev.FieldName = "bewegung_ü"

	payload, err := BuildPayload(ev)
	require.NoError(t, err)
	assert.Equal(t, true, decode(t, payload)["bewegung_ü"])
}
