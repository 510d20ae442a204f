//go:build linux

package input

import "golang.design/x/hotkey"

// modAlt maps "alt" to Mod1
func modAlt() hotkey.Modifier {
	return hotkey.Mod1
}

// modSuper maps "cmd" and "super" to Mod4
func modSuper() hotkey.Modifier {
	return hotkey.Mod4
}
