package zinguo

import "time"

// Provisional vendor codes. The two revisions of the original integration
// disagreed on the off code (1 vs 0); both are configurable.
const (
	DefaultOnCode  = 2
	DefaultOffCode = 1
)

// StatusMap translates the vendor's numeric switch codes.
type StatusMap struct {
	OnCode  int
	OffCode int
}

// DefaultStatusMap returns the provisional code table.
func DefaultStatusMap() StatusMap {
	return StatusMap{OnCode: DefaultOnCode, OffCode: DefaultOffCode}
}

// State maps a code to a switch state. Only OnCode reads as on; OffCode and
// anything unrecognized read as off.
func (m StatusMap) State(code int) bool {
	return code == m.OnCode
}

// Normalize converts a raw device record into a Snapshot. It never fails:
// missing booleans read as false and missing strings as Unknown.
func Normalize(raw RawDevice, codes StatusMap) Snapshot {
	snap := Snapshot{
		ID:              orUnknown(raw.ID),
		MAC:             orUnknown(raw.MAC),
		Name:            orUnknown(raw.Name),
		HardwareVersion: orUnknown(raw.HardwareVersion),
		SoftwareVersion: orUnknown(raw.SoftwareVersion),
		Switches:        make(map[SwitchKey]bool, len(switchFields)),
		FetchedAt:       time.Now(),
	}
	if raw.Online != nil {
		snap.Online = *raw.Online
	}
	if raw.Temperature != nil {
		temp := *raw.Temperature
		snap.Temperature = &temp
	}
	if raw.Comovement != nil {
		mode := *raw.Comovement
		snap.Comovement = &mode
	}
	for key, field := range switchFields {
		code, ok := raw.Codes[field]
		snap.Switches[key] = ok && codes.State(code)
	}
	return snap
}

func orUnknown(value string) string {
	if value == "" {
		return Unknown
	}
	return value
}
