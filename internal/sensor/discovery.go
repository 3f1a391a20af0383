package sensor

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nugget/sensorpub/internal/buildinfo"
)

// DefaultDiscoveryPrefix is Home Assistant's default MQTT discovery prefix.
const DefaultDiscoveryPrefix = "homeassistant"

// namespace seeds the UUIDv5 unique IDs so they stay stable across runs
// without any local state.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/nugget/sensorpub"))

// DeviceInfo holds the Home Assistant device registry fields. Every
// field reported under the same sensor ID shares one device block so HA
// groups them under a single device page.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// BinarySensorConfig is the JSON payload for an HA MQTT binary_sensor
// discovery message. It is published retained so HA picks it up on
// restart.
type BinarySensorConfig struct {
	Name                string     `json:"name"`
	ObjectID            string     `json:"object_id"`
	HasEntityName       bool       `json:"has_entity_name"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	JsonAttributesTopic string     `json:"json_attributes_topic"`
	ValueTemplate       string     `json:"value_template"`
	PayloadOn           string     `json:"payload_on"`
	PayloadOff          string     `json:"payload_off"`
	DeviceClass         string     `json:"device_class,omitempty"`
	Device              DeviceInfo `json:"device"`
}

// Discovery is a ready-to-publish discovery message.
type Discovery struct {
	Topic   string
	Payload []byte
}

// NewDeviceInfo creates the device block for a sensor ID.
func NewDeviceInfo(sensorID int) DeviceInfo {
	id := strconv.Itoa(sensorID)
	return DeviceInfo{
		Identifiers:  []string{nodeID(sensorID)},
		Name:         "Sensor " + id,
		Manufacturer: "sensorpub",
		Model:        "MQTT binary sensor",
		SWVersion:    buildinfo.Version,
	}
}

// BuildDiscovery returns the discovery config that lets Home Assistant
// render the state messages [BuildPayload] produces for ev. Battery and
// voltage surface as entity attributes through json_attributes_topic.
func BuildDiscovery(ev Event, prefix, deviceClass string) (Discovery, error) {
	if prefix == "" {
		prefix = DefaultDiscoveryPrefix
	}
	object := objectID(ev.FieldName)
	if object == "" {
		return Discovery{}, fmt.Errorf("%w: field name %q has no usable characters for an object id", ErrConfiguration, ev.FieldName)
	}

	cfg := BinarySensorConfig{
		Name:                humanize(ev.FieldName),
		ObjectID:            object,
		HasEntityName:       true,
		UniqueID:            UniqueID(ev),
		StateTopic:          ev.Topic,
		JsonAttributesTopic: ev.Topic,
		ValueTemplate:       fmt.Sprintf("{{ 'ON' if value_json[%s] else 'OFF' }}", strconv.Quote(ev.FieldName)),
		PayloadOn:           "ON",
		PayloadOff:          "OFF",
		DeviceClass:         deviceClass,
		Device:              NewDeviceInfo(ev.SensorID),
	}

	payload, err := codec.Marshal(cfg)
	if err != nil {
		return Discovery{}, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	return Discovery{
		Topic:   prefix + "/binary_sensor/" + nodeID(ev.SensorID) + "/" + object + "/config",
		Payload: payload,
	}, nil
}

// UniqueID derives a stable identifier from the topic, field and
// sensor ID.
func UniqueID(ev Event) string {
	name := ev.Topic + "\x00" + ev.FieldName + "\x00" + strconv.Itoa(ev.SensorID)
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

func nodeID(sensorID int) string {
	return "sensorpub_" + strconv.Itoa(sensorID)
}

// objectID reduces s to the [a-z0-9_] alphabet HA accepts in entity IDs.
func objectID(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '-' || r == ' ' || r == '.':
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

func humanize(field string) string {
	words := strings.FieldsFunc(field, func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	})
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
