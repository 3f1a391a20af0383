package sensor

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDiscovery(t *testing.T) {
	ev := validEvent()
	ev.SensorID = 7

	d, err := BuildDiscovery(ev, "", "motion")
	require.NoError(t, err)

	assert.Equal(t, "homeassistant/binary_sensor/sensorpub_7/motion/config", d.Topic)

	var cfg BinarySensorConfig
	require.NoError(t, json.Unmarshal(d.Payload, &cfg))

	assert.Equal(t, "Motion", cfg.Name)
	assert.Equal(t, "motion", cfg.ObjectID)
	assert.True(t, cfg.HasEntityName)
	assert.Equal(t, "home/sensor1", cfg.StateTopic)
	assert.Equal(t, "home/sensor1", cfg.JsonAttributesTopic)
	assert.Equal(t, `{{ 'ON' if value_json["motion"] else 'OFF' }}`, cfg.ValueTemplate)
	assert.Equal(t, "ON", cfg.PayloadOn)
	assert.Equal(t, "OFF", cfg.PayloadOff)
	assert.Equal(t, "motion", cfg.DeviceClass)
	assert.Equal(t, "Sensor 7", cfg.Device.Name)
	assert.Equal(t, []string{"sensorpub_7"}, cfg.Device.Identifiers)
	assert.Equal(t, UniqueID(ev), cfg.UniqueID)
}

func TestBuildDiscovery_CustomPrefixAndNoDeviceClass(t *testing.T) {
	ev := validEvent()
	ev.FieldName = "Door Open"

	d, err := BuildDiscovery(ev, "ha", "")
	require.NoError(t, err)
	assert.Equal(t, "ha/binary_sensor/sensorpub_1/door_open/config", d.Topic)
	assert.False(t, strings.Contains(string(d.Payload), "device_class"))

	var cfg BinarySensorConfig
	require.NoError(t, json.Unmarshal(d.Payload, &cfg))
	assert.Equal(t, "Door Open", cfg.Name)
}

func TestBuildDiscovery_UnusableFieldName(t *testing.T) {
	ev := validEvent()
	ev.FieldName = "___"

	_, err := BuildDiscovery(ev, "", "")
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestUniqueID_Stable(t *testing.T) {
	a := validEvent()
	b := validEvent()
	assert.Equal(t, UniqueID(a), UniqueID(b))

	b.SensorID = 2
	assert.NotEqual(t, UniqueID(a), UniqueID(b))

	// Telemetry and the trigger value do not change identity.
	b = validEvent()
	b.FieldValue = false
	b.Battery = intPtr(5)
	assert.Equal(t, UniqueID(a), UniqueID(b))
}
