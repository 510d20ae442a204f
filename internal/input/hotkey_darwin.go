//go:build darwin

package input

import "golang.design/x/hotkey"

// modAlt maps "alt" to Option
func modAlt() hotkey.Modifier {
	return hotkey.ModOption
}

// modSuper maps "cmd" to Command
func modSuper() hotkey.Modifier {
	return hotkey.ModCmd
}
