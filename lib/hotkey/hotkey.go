// Package hotkey matches keyboard events against the capture trigger.
package hotkey

import "unicode"

// KeyEvent is a keydown as observed by a bridge before the host page sees it.
type KeyEvent struct {
	// Key is the produced character ("s", "S", "ß" with Alt on macOS).
	Key string
	// Code is the physical key ("KeyS"); it survives modifier remapping.
	Code  string
	Alt   bool
	Ctrl  bool
	Shift bool
	Meta  bool
	// Editable is true when focus is on an input, textarea or contenteditable.
	Editable bool
	Repeat   bool
}

// Disposition tells the host how to treat the event after the bridge saw it.
type Disposition struct {
	PreventDefault  bool
	StopPropagation bool
}

// Handled is the disposition for an event the bridge consumed.
var Handled = Disposition{PreventDefault: true, StopPropagation: true}

// Hotkey is a modifier+letter combination.
type Hotkey struct {
	Letter rune
	Alt    bool
	Ctrl   bool
	Shift  bool
	Meta   bool
}

// Default is the trigger used when none is configured.
var Default = Hotkey{Letter: 'S', Alt: true, Shift: true}

// Match reports whether e should fire the trigger. Events aimed at editable
// elements and auto-repeats never match.
func (h Hotkey) Match(e KeyEvent) bool {
	if e.Editable || e.Repeat {
		return false
	}
	if e.Alt != h.Alt || e.Ctrl != h.Ctrl || e.Shift != h.Shift || e.Meta != h.Meta {
		return false
	}
	if e.Code == "Key"+string(h.Letter) {
		return true
	}
	r := []rune(e.Key)
	return len(r) == 1 && unicode.ToUpper(r[0]) == h.Letter
}
