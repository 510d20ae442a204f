package system

import (
	"fmt"
	"io"

	"github.com/emmett/companion/internal/audio/device"
)

// DeviceManager prints and resolves audio devices for the command line
type DeviceManager struct {
	out io.Writer
}

// NewDeviceManager creates a new DeviceManager instance
func NewDeviceManager(out io.Writer) *DeviceManager {
	return &DeviceManager{out: out}
}

// ListDevices lists microphones and speakers
func (dm *DeviceManager) ListDevices() error {
	for _, kind := range []device.Kind{device.KindCapture, device.KindPlayback} {
		devices, err := device.List(kind)
		if err != nil {
			return fmt.Errorf("failed to list %s devices: %w", kind, err)
		}

		fmt.Fprintf(dm.out, "Found %d %s device(s):\n\n", len(devices), kind)
		for i, d := range devices {
			marker := ""
			if d.IsDefault {
				marker = " [DEFAULT]"
			}
			fmt.Fprintf(dm.out, "%d. %s%s\n", i+1, d.Name, marker)
			fmt.Fprintf(dm.out, "   ID: %s\n\n", d.ID)
		}
	}

	fmt.Fprintln(dm.out, "To use a specific device, run:")
	fmt.Fprintln(dm.out, "  companion --device \"<name or id>\" --output-device \"<name or id>\"")
	return nil
}

// SelectDevice resolves a query to a device, or the default when empty
func (dm *DeviceManager) SelectDevice(kind device.Kind, query string) (*device.Info, error) {
	if query == "" {
		return device.Default(kind)
	}
	d, err := device.Find(kind, query)
	if err != nil {
		return nil, fmt.Errorf("invalid %s device: %w", kind, err)
	}
	return d, nil
}
