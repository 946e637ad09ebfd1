package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanwedge/internal/config"
	"scanwedge/internal/form"
	"scanwedge/internal/loop"
	"scanwedge/internal/wedge"
)

func TestConvertKey(t *testing.T) {
	at := time.Unix(10, 0)
	tests := []struct {
		name string
		key  tcell.Key
		r    rune
		mod  tcell.ModMask
		want wedge.KeyEvent
	}{
		{"rune", tcell.KeyRune, 'a', 0, wedge.KeyEvent{Key: wedge.KeyRune, Rune: 'a', Time: at}},
		{"shifted rune", tcell.KeyRune, 'A', tcell.ModShift, wedge.KeyEvent{Key: wedge.KeyRune, Rune: 'A', Time: at, Modifiers: wedge.Modifiers{Shift: true}}},
		{"alt rune", tcell.KeyRune, 'x', tcell.ModAlt, wedge.KeyEvent{Key: wedge.KeyRune, Rune: 'x', Time: at, Modifiers: wedge.Modifiers{Alt: true}}},
		{"enter", tcell.KeyEnter, 0, 0, wedge.KeyEvent{Key: wedge.KeyEnter, Time: at}},
		{"tab", tcell.KeyTab, 0, 0, wedge.KeyEvent{Key: wedge.KeyTab, Time: at}},
		{"backtab", tcell.KeyBacktab, 0, 0, wedge.KeyEvent{Key: wedge.KeyTab, Time: at, Modifiers: wedge.Modifiers{Shift: true}}},
		{"backspace", tcell.KeyBackspace2, 0, 0, wedge.KeyEvent{Key: wedge.KeyBackspace, Time: at}},
		{"escape", tcell.KeyEscape, 0, 0, wedge.KeyEvent{Key: wedge.KeyEscape, Time: at}},
		{"ctrl-v", tcell.KeyCtrlV, 0, tcell.ModCtrl, wedge.KeyEvent{Key: wedge.KeyOther, Rune: 'v', Time: at, Modifiers: wedge.Modifiers{Ctrl: true}}},
		{"arrow", tcell.KeyUp, 0, 0, wedge.KeyEvent{Key: wedge.KeyOther, Time: at}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, convertKey(tt.key, tt.r, tt.mod, at))
		})
	}
	assert.True(t, isQuit(tcell.KeyCtrlC))
	assert.False(t, isQuit(tcell.KeyEnter))
}

func newTestApp(t *testing.T) (*App, tcell.SimulationScreen, *wedge.ManualScheduler) {
	t.Helper()
	screen := tcell.NewSimulationScreen("UTF-8")
	require.NoError(t, screen.Init())
	t.Cleanup(screen.Fini)
	screen.SetSize(80, 20)

	app := New(screen, loop.New(0), nil)
	page, err := form.New(config.DefaultConfig().Form, form.Options{Post: app.Post})
	require.NoError(t, err)
	sched := wedge.NewManualScheduler(time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC))
	ctl, err := wedge.NewController(wedge.DefaultConfig(), page, sched, nil)
	require.NoError(t, err)
	app.Bind(page, ctl)
	return app, screen, sched
}

func screenText(s tcell.SimulationScreen) []string {
	cells, w, h := s.GetContents()
	lines := make([]string, h)
	for y := 0; y < h; y++ {
		var sb strings.Builder
		for x := 0; x < w; x++ {
			c := cells[y*w+x]
			if len(c.Runes) == 0 {
				sb.WriteRune(' ')
				continue
			}
			sb.WriteRune(c.Runes[0])
		}
		lines[y] = strings.TrimRight(sb.String(), " ")
	}
	return lines
}

func contains(lines []string, sub string) bool {
	for _, l := range lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}

func TestScanShowsInForm(t *testing.T) {
	app, screen, sched := newTestApp(t)

	var bursts []*wedge.Burst
	app.OnBurst = func(b *wedge.Burst) { bursts = append(bursts, b) }

	for i, r := range "KG001" {
		if i > 0 {
			sched.Advance(5 * time.Millisecond)
		}
		app.Deliver(wedge.RuneEvent(r, sched.Now()))
	}
	sched.Advance(5 * time.Millisecond)
	d := app.Deliver(wedge.KeyPress(wedge.KeyEnter, sched.Now()))

	require.NotNil(t, d.Burst)
	require.Len(t, bursts, 1)
	assert.Equal(t, "KG001", bursts[0].Code)

	lines := screenText(screen)
	assert.True(t, contains(lines, "Package No.  KG001"), "screen:\n%s", strings.Join(lines, "\n"))
	assert.True(t, contains(lines, "[ ] "))
	assert.True(t, contains(lines, `last scan: value "KG001"`))
	assert.True(t, contains(lines, "scans 1"))
}

func TestFlagScanChecksBox(t *testing.T) {
	app, screen, sched := newTestApp(t)
	for i, r := range wedge.DefaultFlagCode {
		if i > 0 {
			sched.Advance(5 * time.Millisecond)
		}
		app.Deliver(wedge.RuneEvent(r, sched.Now()))
	}
	sched.Advance(5 * time.Millisecond)
	app.Deliver(wedge.KeyPress(wedge.KeyEnter, sched.Now()))

	assert.True(t, contains(screenText(screen), "[x] "))
}

func TestRunRequiresBind(t *testing.T) {
	screen := tcell.NewSimulationScreen("UTF-8")
	require.NoError(t, screen.Init())
	defer screen.Fini()
	app := New(screen, loop.New(0), nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	assert.Error(t, app.Run(ctx))
}
