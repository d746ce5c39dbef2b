package audio

// Device represents an available audio input device.
type Device struct {
	// ID is the identifier passed to the capture command.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
}

// DeviceIDs returns the identifiers of devices in order.
func DeviceIDs(devices []Device) []string {
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = d.ID
	}
	return ids
}
