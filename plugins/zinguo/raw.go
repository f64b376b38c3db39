package zinguo

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// UnmarshalJSON decodes a device record without failing on odd field types.
// A field of the wrong shape reads as absent.
func (d *RawDevice) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*d = RawDevice{
		ID:              parseString(raw["_id"]),
		MAC:             parseString(raw["mac"]),
		Name:            parseString(raw["name"]),
		Online:          parseBool(raw["online"]),
		Temperature:     parseFloat(raw["temperature"]),
		Comovement:      parseInt(raw["comovement"]),
		HardwareVersion: parseString(raw["hardwareVersion"]),
		SoftwareVersion: parseString(raw["softwareVersion"]),
		Codes:           make(map[string]int, len(switchFields)),
	}
	for _, field := range switchFields {
		if code := parseInt(raw[field]); code != nil {
			d.Codes[field] = *code
		}
	}
	return nil
}

func parseString(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	}
	return ""
}

func parseFloat(value any) *float64 {
	switch typed := value.(type) {
	case float64:
		return &typed
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64); err == nil {
			return &parsed
		}
	}
	return nil
}

// parseInt accepts integral numbers only; 2.5 is not a switch code.
func parseInt(value any) *int {
	f := parseFloat(value)
	if f == nil || *f != math.Trunc(*f) {
		return nil
	}
	n := int(*f)
	return &n
}

func parseBool(value any) *bool {
	var b bool
	switch typed := value.(type) {
	case bool:
		b = typed
	case float64:
		b = typed != 0
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(typed))
		if err != nil {
			return nil
		}
		b = parsed
	default:
		return nil
	}
	return &b
}
