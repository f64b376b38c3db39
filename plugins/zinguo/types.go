package zinguo

import (
	"fmt"
	"sort"
	"time"
)

// Unknown is the placeholder for string fields the cloud omitted.
const Unknown = "unknown"

// SwitchKey names one of the controller's relays.
type SwitchKey string

const (
	SwitchLight       SwitchKey = "light_switch"
	SwitchWarming1    SwitchKey = "warming_switch_1"
	SwitchWarming2    SwitchKey = "warming_switch_2"
	SwitchWind        SwitchKey = "wind_switch"
	SwitchVentilation SwitchKey = "ventilation_switch"
)

// switchFields maps each switch to its vendor wire field.
var switchFields = map[SwitchKey]string{
	SwitchLight:       "lightSwitch",
	SwitchWarming1:    "warmingSwitch1",
	SwitchWarming2:    "warmingSwitch2",
	SwitchWind:        "windSwitch",
	SwitchVentilation: "ventilationSwitch",
}

// SwitchKeys returns every known switch in a stable order.
func SwitchKeys() []SwitchKey {
	keys := make([]SwitchKey, 0, len(switchFields))
	for key := range switchFields {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// ParseSwitchKey validates a switch name.
func ParseSwitchKey(value string) (SwitchKey, error) {
	key := SwitchKey(value)
	if _, ok := switchFields[key]; !ok {
		return "", fmt.Errorf("unknown switch %q", value)
	}
	return key, nil
}

// WireField returns the vendor field name for the switch.
func (k SwitchKey) WireField() string {
	return switchFields[k]
}

// RawDevice is one record of the cloud device list. Every field is optional
// and loosely typed values are tolerated.
type RawDevice struct {
	ID              string
	MAC             string
	Name            string
	Online          *bool
	Temperature     *float64
	Codes           map[string]int
	Comovement      *int
	HardwareVersion string
	SoftwareVersion string
}

// Snapshot is the normalized device state from one poll cycle.
// Values are never mutated after Normalize returns them.
type Snapshot struct {
	ID              string
	MAC             string
	Name            string
	Online          bool
	Temperature     *float64
	Switches        map[SwitchKey]bool
	Comovement      *int
	HardwareVersion string
	SoftwareVersion string
	FetchedAt       time.Time
}

// Switch reports the state of one relay. Unknown keys read as off.
func (s Snapshot) Switch(key SwitchKey) bool {
	return s.Switches[key]
}

// Clone returns a deep copy so callers cannot alter the published value.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Switches = make(map[SwitchKey]bool, len(s.Switches))
	for key, value := range s.Switches {
		out.Switches[key] = value
	}
	if s.Temperature != nil {
		temp := *s.Temperature
		out.Temperature = &temp
	}
	if s.Comovement != nil {
		mode := *s.Comovement
		out.Comovement = &mode
	}
	return out
}

// ControlRequest asks for one switch to change state.
type ControlRequest struct {
	Key SwitchKey
	On  bool
}

// Overlay is the caller's part of the control payload.
func (r ControlRequest) Overlay() map[string]any {
	return map[string]any{r.Key.WireField(): r.On}
}

// PollOutcome is the result of the most recently completed poll cycle.
type PollOutcome struct {
	Snapshot    *Snapshot
	Err         error
	CompletedAt time.Time
}

// OK reports whether the cycle produced a snapshot.
func (o PollOutcome) OK() bool {
	return o.Err == nil && o.Snapshot != nil
}
