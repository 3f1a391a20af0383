// Package sensor describes a single binary sensor report and turns it
// into the bytes that go on the wire.
//
// An [Event] is built from command-line arguments, validated once, and
// then treated as immutable. [BuildPayload] produces the state message;
// [BuildDiscovery] produces the optional Home Assistant discovery config
// for the same sensor.
package sensor

import (
	"errors"
	"fmt"
	"strings"
)

// Telemetry limits.
const (
	MaxBattery  = 100
	MaxVoltage  = 4200
	MaxSensorID = 65535

	// DefaultSensorID is used when no -n flag is given.
	DefaultSensorID = 1

	maxTopicLen = 65535
)

// Payload keys for the optional telemetry fields.
const (
	BatteryKey = "battery"
	VoltageKey = "voltage"
)

var (
	// ErrConfiguration marks an invalid or missing invocation parameter.
	// It is always reported before any network activity.
	ErrConfiguration = errors.New("configuration error")

	// ErrSerialization marks a payload that could not be encoded.
	ErrSerialization = errors.New("serialization error")
)

// Event is one sensor report.
type Event struct {
	Topic      string
	FieldName  string
	FieldValue bool

	// Battery is the remaining charge in percent. Nil when not reported.
	Battery *int
	// Voltage is the supply voltage in millivolts. Nil when not reported.
	Voltage *int

	// SensorID only names the device in discovery configs; it never
	// appears in the state payload.
	SensorID int
}

// Validate reports the first invalid field, wrapped in [ErrConfiguration].
func (e Event) Validate() error {
	if err := e.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}

func (e Event) validate() error {
	if err := ValidateTopic(e.Topic); err != nil {
		return err
	}
	if e.FieldName == "" {
		return errors.New("field name must not be empty")
	}
	if e.Battery != nil {
		if *e.Battery < 0 || *e.Battery > MaxBattery {
			return fmt.Errorf("battery %d out of range 0-%d", *e.Battery, MaxBattery)
		}
		if e.FieldName == BatteryKey {
			return fmt.Errorf("field name %q collides with battery telemetry", e.FieldName)
		}
	}
	if e.Voltage != nil {
		if *e.Voltage < 0 || *e.Voltage > MaxVoltage {
			return fmt.Errorf("voltage %d out of range 0-%d", *e.Voltage, MaxVoltage)
		}
		if e.FieldName == VoltageKey {
			return fmt.Errorf("field name %q collides with voltage telemetry", e.FieldName)
		}
	}
	if e.SensorID < 0 || e.SensorID > MaxSensorID {
		return fmt.Errorf("sensor id %d out of range 0-%d", e.SensorID, MaxSensorID)
	}
	return nil
}

// ValidateTopic checks that topic is usable as a PUBLISH topic name.
// Wildcards are only legal in subscriptions.
func ValidateTopic(topic string) error {
	switch {
	case topic == "":
		return errors.New("topic must not be empty")
	case len(topic) > maxTopicLen:
		return fmt.Errorf("topic longer than %d bytes", maxTopicLen)
	case strings.ContainsAny(topic, "+#"):
		return fmt.Errorf("topic %q contains a wildcard", topic)
	case strings.ContainsRune(topic, 0):
		return fmt.Errorf("topic %q contains a NUL character", topic)
	}
	return nil
}

// ParseFieldValue accepts exactly "true" or "false".
func ParseFieldValue(s string) (bool, error) {
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("%w: field value %q must be true or false", ErrConfiguration, s)
	}
}
