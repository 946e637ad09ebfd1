// Package wedge separates barcode-scanner keystroke bursts from manual typing.
//
// A keyboard-wedge scanner delivers its payload through the same channel as the
// keyboard, one keystroke at a time, followed by a terminator key. The scanner's
// firmware paces characters much faster than any sustained human typist, so the
// Controller classifies every keystroke by its gap to the previous one:
//
//	Key Event → Timing Classifier → Burst Buffer → (terminator) → Payload Router
//	                    ↓                                             ↓
//	              pass through                        flag / submit / field value
//
// Fast keystrokes are absorbed into a burst and suppressed; slow keystrokes pass
// through untouched. When the terminator arrives the finalized burst is matched
// against an ordered rule list and exactly one action runs against the Host.
//
// The Controller is not safe for concurrent use. Every call, including the
// callbacks it schedules, must run on a single goroutine (see internal/loop).
package wedge

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Key identifies the kind of key carried by a KeyEvent.
type Key int

const (
	KeyRune      Key = iota // Printable character in KeyEvent.Rune
	KeyEnter                // Enter/Return
	KeyTab                  // Tab
	KeyBackspace            // Backspace/Delete backward
	KeyEscape               // Escape
	KeyModifier             // Shift, Ctrl, Alt or Meta pressed on its own
	KeyOther                // Navigation, function keys and anything else
)

func (k Key) String() string {
	switch k {
	case KeyRune:
		return "rune"
	case KeyEnter:
		return "enter"
	case KeyTab:
		return "tab"
	case KeyBackspace:
		return "backspace"
	case KeyEscape:
		return "escape"
	case KeyModifier:
		return "modifier"
	default:
		return "other"
	}
}

// ParseKey parses a key name as used in configuration and replay scripts.
func ParseKey(s string) (Key, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "enter", "return", "cr":
		return KeyEnter, nil
	case "tab":
		return KeyTab, nil
	case "backspace", "bs":
		return KeyBackspace, nil
	case "escape", "esc":
		return KeyEscape, nil
	case "shift", "ctrl", "control", "alt", "meta", "modifier":
		return KeyModifier, nil
	default:
		return KeyOther, fmt.Errorf("unknown key: %q", s)
	}
}

// Modifiers tracks modifier keys held during a key event.
type Modifiers struct {
	Shift bool `json:"shift,omitempty"`
	Ctrl  bool `json:"ctrl,omitempty"`
	Alt   bool `json:"alt,omitempty"`
	Meta  bool `json:"meta,omitempty"`
}

// Chord reports whether a command modifier (Ctrl, Alt or Meta) is held.
// Shift does not count: scanners emit it for upper-case characters.
func (m Modifiers) Chord() bool {
	return m.Ctrl || m.Alt || m.Meta
}

// KeyEvent is a single key press delivered by the host.
type KeyEvent struct {
	Key       Key       `json:"key"`
	Rune      rune      `json:"rune,omitempty"`
	Time      time.Time `json:"time"`
	Modifiers Modifiers `json:"modifiers,omitempty"`
}

// RuneEvent builds a printable key event.
func RuneEvent(r rune, at time.Time) KeyEvent {
	return KeyEvent{Key: KeyRune, Rune: r, Time: at}
}

// KeyPress builds a non-printable key event.
func KeyPress(k Key, at time.Time) KeyEvent {
	return KeyEvent{Key: k, Time: at}
}

// Printable reports whether the event carries a single printable character
// with no command modifier.
func (e KeyEvent) Printable() bool {
	return e.Key == KeyRune && unicode.IsPrint(e.Rune) && !e.Modifiers.Chord()
}

func (e KeyEvent) String() string {
	if e.Key == KeyRune {
		return fmt.Sprintf("%q", e.Rune)
	}
	return e.Key.String()
}
