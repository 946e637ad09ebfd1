package keystroke

import (
	"time"

	"scanwedge/internal/wedge"
)

// Linux input key codes (linux/input-event-codes.h).
const (
	keyEsc        = 1
	keyBackspace  = 14
	keyTab        = 15
	keyEnter      = 28
	keyLeftCtrl   = 29
	keyLeftShift  = 42
	keyRightShift = 54
	keyLeftAlt    = 56
	keyCapsLock   = 58
	keyKPEnter    = 96
	keyRightCtrl  = 97
	keyRightAlt   = 100
	keyLeftMeta   = 125
	keyRightMeta  = 126
)

// usLayout maps key codes to unshifted and shifted runes.
var usLayout = map[uint16][2]rune{
	2: {'1', '!'}, 3: {'2', '@'}, 4: {'3', '#'}, 5: {'4', '$'}, 6: {'5', '%'},
	7: {'6', '^'}, 8: {'7', '&'}, 9: {'8', '*'}, 10: {'9', '('}, 11: {'0', ')'},
	12: {'-', '_'}, 13: {'=', '+'},
	16: {'q', 'Q'}, 17: {'w', 'W'}, 18: {'e', 'E'}, 19: {'r', 'R'}, 20: {'t', 'T'},
	21: {'y', 'Y'}, 22: {'u', 'U'}, 23: {'i', 'I'}, 24: {'o', 'O'}, 25: {'p', 'P'},
	26: {'[', '{'}, 27: {']', '}'},
	30: {'a', 'A'}, 31: {'s', 'S'}, 32: {'d', 'D'}, 33: {'f', 'F'}, 34: {'g', 'G'},
	35: {'h', 'H'}, 36: {'j', 'J'}, 37: {'k', 'K'}, 38: {'l', 'L'},
	39: {';', ':'}, 40: {'\'', '"'}, 41: {'`', '~'}, 43: {'\\', '|'},
	44: {'z', 'Z'}, 45: {'x', 'X'}, 46: {'c', 'C'}, 47: {'v', 'V'}, 48: {'b', 'B'},
	49: {'n', 'N'}, 50: {'m', 'M'},
	51: {',', '<'}, 52: {'.', '>'}, 53: {'/', '?'},
	55: {'*', '*'}, 57: {' ', ' '},
	71: {'7', '7'}, 72: {'8', '8'}, 73: {'9', '9'}, 74: {'-', '-'},
	75: {'4', '4'}, 76: {'5', '5'}, 77: {'6', '6'}, 78: {'+', '+'},
	79: {'1', '1'}, 80: {'2', '2'}, 81: {'3', '3'}, 82: {'0', '0'}, 83: {'.', '.'},
}

// Translator turns raw key codes into key events, tracking modifier state
// across events. Values follow evdev: 0 release, 1 press, 2 autorepeat.
type Translator struct {
	shiftL, shiftR bool
	ctrlL, ctrlR   bool
	altL, altR     bool
	metaL, metaR   bool
	capsLock       bool
}

func (t *Translator) modifiers() wedge.Modifiers {
	return wedge.Modifiers{
		Shift: t.shiftL || t.shiftR,
		Ctrl:  t.ctrlL || t.ctrlR,
		Alt:   t.altL || t.altR,
		Meta:  t.metaL || t.metaR,
	}
}

// Translate returns the event for code, or false when nothing should be
// reported (releases and unmapped keys).
func (t *Translator) Translate(code uint16, value int32, at time.Time) (wedge.KeyEvent, bool) {
	pressed := value != 0

	if held := t.modifierFlag(code); held != nil {
		*held = pressed
		if value != 1 {
			return wedge.KeyEvent{}, false
		}
		return wedge.KeyEvent{Key: wedge.KeyModifier, Time: at, Modifiers: t.modifiers()}, true
	}
	if !pressed {
		return wedge.KeyEvent{}, false
	}

	ev := wedge.KeyEvent{Time: at, Modifiers: t.modifiers()}
	switch code {
	case keyCapsLock:
		if value == 1 {
			t.capsLock = !t.capsLock
		}
		ev.Key = wedge.KeyModifier
		return ev, value == 1
	case keyEnter, keyKPEnter:
		ev.Key = wedge.KeyEnter
	case keyTab:
		ev.Key = wedge.KeyTab
	case keyBackspace:
		ev.Key = wedge.KeyBackspace
	case keyEsc:
		ev.Key = wedge.KeyEscape
	default:
		pair, ok := usLayout[code]
		if !ok {
			ev.Key = wedge.KeyOther
			return ev, true
		}
		shifted := ev.Modifiers.Shift
		if t.capsLock && pair[0] >= 'a' && pair[0] <= 'z' {
			shifted = !shifted
		}
		ev.Key = wedge.KeyRune
		ev.Rune = pair[0]
		if shifted {
			ev.Rune = pair[1]
		}
	}
	return ev, true
}

func (t *Translator) modifierFlag(code uint16) *bool {
	switch code {
	case keyLeftShift:
		return &t.shiftL
	case keyRightShift:
		return &t.shiftR
	case keyLeftCtrl:
		return &t.ctrlL
	case keyRightCtrl:
		return &t.ctrlR
	case keyLeftAlt:
		return &t.altL
	case keyRightAlt:
		return &t.altR
	case keyLeftMeta:
		return &t.metaL
	case keyRightMeta:
		return &t.metaR
	}
	return nil
}
