// Package device binds the audio abstractions to the system's capture and
// playback hardware through miniaudio.
package device

import (
	"fmt"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/emmett/companion/internal/turn"
)

// Kind is the direction of an audio device
type Kind int

const (
	KindPlayback Kind = iota
	KindCapture
)

func (k Kind) String() string {
	if k == KindCapture {
		return "capture"
	}
	return "playback"
}

func (k Kind) malgo() malgo.DeviceType {
	if k == KindCapture {
		return malgo.Capture
	}
	return malgo.Playback
}

// Info describes an audio device
type Info struct {
	ID        string // stable within one enumeration, e.g. "capture-0"
	Name      string
	Kind      Kind
	IsDefault bool

	id malgo.DeviceID
}

// String returns a human-readable representation of the device
func (d Info) String() string {
	marker := ""
	if d.IsDefault {
		marker = " [DEFAULT]"
	}
	return fmt.Sprintf("%s: %s%s", d.ID, d.Name, marker)
}

func initContext() (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	return ctx, nil
}

func freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

// List returns the devices of the given kind
func List(kind Kind) ([]Info, error) {
	ctx, err := initContext()
	if err != nil {
		return nil, err
	}
	defer freeContext(ctx)

	return list(ctx, kind)
}

func list(ctx *malgo.AllocatedContext, kind Kind) ([]Info, error) {
	infos, err := ctx.Devices(kind.malgo())
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s devices: %w", kind, err)
	}

	devices := make([]Info, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, Info{
			ID:        fmt.Sprintf("%s-%d", kind, i),
			Name:      info.Name(),
			Kind:      kind,
			IsDefault: info.IsDefault > 0,
			id:        info.ID,
		})
	}
	return devices, nil
}

// Find looks a device up by ID or by case-insensitive partial name
func Find(kind Kind, query string) (*Info, error) {
	devices, err := List(kind)
	if err != nil {
		return nil, err
	}
	return match(devices, query)
}

func match(devices []Info, query string) (*Info, error) {
	for i := range devices {
		if devices[i].ID == query {
			return &devices[i], nil
		}
	}
	q := strings.ToLower(query)
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name), q) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("no device found matching %q", query)
}

// Default returns the default device of the given kind
func Default(kind Kind) (*Info, error) {
	devices, err := List(kind)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].IsDefault {
			return &devices[i], nil
		}
	}
	if len(devices) > 0 {
		return &devices[0], nil
	}
	return nil, fmt.Errorf("no %s devices found", kind)
}

// CheckCapture verifies that a capture device exists and, when id is set,
// that it is the one requested
func CheckCapture(id string) error {
	devices, err := List(KindCapture)
	if err != nil {
		return fmt.Errorf("%w: %w", turn.ErrCaptureUnavailable, err)
	}
	if len(devices) == 0 {
		return fmt.Errorf("%w: no microphone found", turn.ErrCaptureUnavailable)
	}
	if id != "" {
		if _, err := match(devices, id); err != nil {
			return fmt.Errorf("%w: %w", turn.ErrCaptureUnavailable, err)
		}
	}
	return nil
}

// resolve maps a configured device ID to miniaudio's device handle. An
// empty ID selects the system default.
func resolve(ctx *malgo.AllocatedContext, kind Kind, id string) (*malgo.DeviceID, error) {
	if id == "" {
		return nil, nil
	}
	devices, err := list(ctx, kind)
	if err != nil {
		return nil, err
	}
	info, err := match(devices, id)
	if err != nil {
		return nil, err
	}
	return &info.id, nil
}
