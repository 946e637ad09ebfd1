package tui

import (
	"time"

	"github.com/gdamore/tcell/v2"

	"scanwedge/internal/wedge"
)

// convertKey maps a terminal key to a wedge key event. The terminal
// reports Enter, Tab and Backspace as their control-key equivalents, so
// they are matched before the generic Ctrl range.
func convertKey(k tcell.Key, r rune, mod tcell.ModMask, at time.Time) wedge.KeyEvent {
	ev := wedge.KeyEvent{
		Time: at,
		Modifiers: wedge.Modifiers{
			Shift: mod&tcell.ModShift != 0,
			Ctrl:  mod&tcell.ModCtrl != 0,
			Alt:   mod&tcell.ModAlt != 0,
			Meta:  mod&tcell.ModMeta != 0,
		},
	}
	switch k {
	case tcell.KeyRune:
		ev.Key = wedge.KeyRune
		ev.Rune = r
	case tcell.KeyEnter:
		ev.Key = wedge.KeyEnter
	case tcell.KeyTab:
		ev.Key = wedge.KeyTab
	case tcell.KeyBacktab:
		ev.Key = wedge.KeyTab
		ev.Modifiers.Shift = true
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		ev.Key = wedge.KeyBackspace
	case tcell.KeyEscape:
		ev.Key = wedge.KeyEscape
	default:
		ev.Key = wedge.KeyOther
		if k >= tcell.KeyCtrlA && k <= tcell.KeyCtrlZ {
			ev.Modifiers.Ctrl = true
			ev.Rune = 'a' + rune(k-tcell.KeyCtrlA)
		}
	}
	return ev
}

func isQuit(k tcell.Key) bool {
	return k == tcell.KeyCtrlC || k == tcell.KeyCtrlQ
}
