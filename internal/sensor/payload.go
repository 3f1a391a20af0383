package sensor

import (
	"fmt"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// codec sorts map keys, so equal events always encode to equal bytes.
var codec = sonic.ConfigStd

// BuildPayload encodes ev as the JSON state message. The object holds
// the trigger field plus battery and voltage when they are set, and
// nothing else.
//
// BuildPayload does not re-validate ev; callers validate first.
func BuildPayload(ev Event) ([]byte, error) {
	if !utf8.ValidString(ev.FieldName) {
		return nil, fmt.Errorf("%w: field name %q is not valid UTF-8", ErrSerialization, ev.FieldName)
	}

	data := map[string]any{
		ev.FieldName: ev.FieldValue,
	}
	if ev.Battery != nil {
		data[BatteryKey] = *ev.Battery
	}
	if ev.Voltage != nil {
		data[VoltageKey] = *ev.Voltage
	}

	payload, err := codec.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return payload, nil
}
