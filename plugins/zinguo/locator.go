package zinguo

import "fmt"

// FindDevice returns the first device whose MAC equals mac.
// Duplicates are not expected; the first match is authoritative.
func FindDevice(devices []RawDevice, mac string) (RawDevice, error) {
	for _, device := range devices {
		if device.MAC == mac {
			return device, nil
		}
	}
	return RawDevice{}, fmt.Errorf("%w: mac %s", ErrDeviceNotFound, mac)
}
