// Package input turns a global keyboard shortcut into session start/stop
// for a caregiver sitting next to the user.
package input

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.design/x/hotkey"
)

// DefaultHotkey starts and stops the conversation
const DefaultHotkey = "ctrl+shift+space"

// Toggler starts a session when idle and ends it otherwise
type Toggler interface {
	Toggle(ctx context.Context) (bool, error)
}

// HotkeyManager toggles the conversation on every key press
type HotkeyManager struct {
	toggler  Toggler
	logger   zerolog.Logger
	onChange func(active bool, err error)

	mu     sync.Mutex
	hk     *hotkey.Hotkey
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHotkeyManager creates a manager. onChange, when set, receives the
// outcome of every toggle.
func NewHotkeyManager(toggler Toggler, logger zerolog.Logger, onChange func(active bool, err error)) *HotkeyManager {
	return &HotkeyManager{
		toggler:  toggler,
		logger:   logger.With().Str("component", "hotkey").Logger(),
		onChange: onChange,
	}
}

// Start registers combo (for example "ctrl+shift+space") and listens for it
func (h *HotkeyManager) Start(ctx context.Context, combo string) error {
	mods, key, err := parseHotkey(combo)
	if err != nil {
		return fmt.Errorf("invalid hotkey: %w", err)
	}

	hk := hotkey.New(mods, key)
	if err := hk.Register(); err != nil {
		return fmt.Errorf("failed to register hotkey: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	h.mu.Lock()
	h.hk, h.cancel, h.done = hk, cancel, done
	h.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-hk.Keydown():
				if !ok {
					return
				}
				// presses that arrive while a toggle is in progress queue up
				// in the hotkey channel and toggle again afterwards
				active, err := h.toggler.Toggle(ctx)
				if err != nil {
					h.logger.Error().Err(err).Msg("hotkey toggle failed")
				} else {
					h.logger.Info().Bool("active", active).Msg("hotkey toggled conversation")
				}
				if h.onChange != nil {
					h.onChange(active, err)
				}
			}
		}
	}()

	h.logger.Debug().Str("hotkey", combo).Msg("hotkey registered")
	return nil
}

// Stop unregisters the hotkey
func (h *HotkeyManager) Stop() {
	h.mu.Lock()
	hk, cancel, done := h.hk, h.cancel, h.done
	h.hk, h.cancel, h.done = nil, nil, nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if hk != nil {
		hk.Unregister()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// parseHotkey parses a hotkey string like "ctrl+shift+space" into modifiers and key
func parseHotkey(s string) ([]hotkey.Modifier, hotkey.Key, error) {
	if strings.TrimSpace(s) == "" {
		return nil, 0, fmt.Errorf("empty hotkey string")
	}

	var mods []hotkey.Modifier
	var key hotkey.Key
	var keyFound bool

	for _, part := range strings.Split(strings.ToLower(s), "+") {
		part = strings.TrimSpace(part)
		switch part {
		case "ctrl", "control":
			mods = append(mods, hotkey.ModCtrl)
		case "shift":
			mods = append(mods, hotkey.ModShift)
		case "alt", "option":
			mods = append(mods, modAlt())
		case "cmd", "command", "super", "win":
			mods = append(mods, modSuper())
		default:
			if keyFound {
				return nil, 0, fmt.Errorf("multiple keys specified")
			}
			k, ok := keys[part]
			if !ok {
				return nil, 0, fmt.Errorf("unknown key: %s", part)
			}
			key, keyFound = k, true
		}
	}

	if !keyFound {
		return nil, 0, fmt.Errorf("no key specified")
	}
	return mods, key, nil
}

var keys = map[string]hotkey.Key{
	"space": hotkey.KeySpace, "return": hotkey.KeyReturn, "enter": hotkey.KeyReturn,
	"tab": hotkey.KeyTab, "escape": hotkey.KeyEscape, "esc": hotkey.KeyEscape,

	"a": hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD, "e": hotkey.KeyE,
	"f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH, "i": hotkey.KeyI, "j": hotkey.KeyJ,
	"k": hotkey.KeyK, "l": hotkey.KeyL, "m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO,
	"p": hotkey.KeyP, "q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX, "y": hotkey.KeyY,
	"z": hotkey.KeyZ,

	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3, "4": hotkey.Key4,
	"5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7, "8": hotkey.Key8, "9": hotkey.Key9,

	"f1": hotkey.KeyF1, "f2": hotkey.KeyF2, "f3": hotkey.KeyF3, "f4": hotkey.KeyF4,
	"f5": hotkey.KeyF5, "f6": hotkey.KeyF6, "f7": hotkey.KeyF7, "f8": hotkey.KeyF8,
	"f9": hotkey.KeyF9, "f10": hotkey.KeyF10, "f11": hotkey.KeyF11, "f12": hotkey.KeyF12,
}
