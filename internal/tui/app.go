// Package tui hosts the entry form in a terminal. Every terminal event is
// posted to the loop, where it passes through the wedge controller before
// the form sees it.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gdamore/tcell/v2"

	"scanwedge/internal/form"
	"scanwedge/internal/loop"
	"scanwedge/internal/wedge"
)

var (
	styleDefault  = tcell.StyleDefault
	styleTitle    = tcell.StyleDefault.Bold(true)
	styleLabel    = tcell.StyleDefault.Foreground(tcell.ColorSilver)
	styleFocus    = tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true)
	styleSelected = tcell.StyleDefault.Reverse(true)
	styleReadOnly = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleOK       = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	styleFail     = tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
	styleFooter   = tcell.StyleDefault.Foreground(tcell.ColorGray)
)

// App draws the form and feeds it terminal keys.
type App struct {
	screen tcell.Screen
	loop   *loop.Loop
	page   *form.Page
	ctl    *wedge.Controller
	log    *slog.Logger

	// OnBurst is called on the loop for every finalized burst.
	OnBurst func(b *wedge.Burst)

	last   *wedge.Burst
	cancel context.CancelFunc
}

// New creates an app drawing on screen. Bind must be called before Run.
func New(screen tcell.Screen, lp *loop.Loop, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		screen: screen,
		loop:   lp,
		log:    logger.With(slog.String("component", "tui")),
	}
}

// Bind attaches the form and the controller guarding it.
func (a *App) Bind(page *form.Page, ctl *wedge.Controller) {
	a.page = page
	a.ctl = ctl
}

// Post runs fn on the loop and redraws afterwards.
func (a *App) Post(fn func()) bool {
	return a.loop.Post(func() {
		fn()
		a.draw()
	})
}

// Scheduler returns a wedge scheduler whose callbacks redraw the screen.
func (a *App) Scheduler() wedge.Scheduler {
	return redrawScheduler{a}
}

type redrawScheduler struct{ a *App }

func (s redrawScheduler) AfterFunc(d time.Duration, fn func()) wedge.Task {
	return s.a.loop.AfterFunc(d, func() {
		fn()
		s.a.draw()
	})
}

// Run draws the form and processes events until ctx is done or the
// operator quits. The caller owns the screen and must Fini it afterwards,
// which also stops the event reader.
func (a *App) Run(ctx context.Context) error {
	if a.page == nil || a.ctl == nil {
		return errors.New("tui: Bind not called")
	}
	ctx, a.cancel = context.WithCancel(ctx)
	defer a.cancel()

	go a.poll()
	a.loop.Post(a.draw)

	err := a.loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) poll() {
	for {
		ev := a.screen.PollEvent()
		if ev == nil {
			return
		}
		if !a.loop.Post(func() { a.handle(ev) }) {
			return
		}
	}
}

func (a *App) handle(ev tcell.Event) {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		if isQuit(ev.Key()) {
			a.log.Info("quit requested")
			if a.cancel != nil {
				a.cancel()
			}
			return
		}
		a.Deliver(convertKey(ev.Key(), ev.Rune(), ev.Modifiers(), ev.When()))
	case *tcell.EventResize:
		a.screen.Sync()
		a.draw()
	}
}

// Deliver runs one key through the controller and the form, then redraws.
// It must be called on the loop.
func (a *App) Deliver(ev wedge.KeyEvent) wedge.Decision {
	d := a.page.Deliver(a.ctl, ev)
	if d.Burst != nil {
		a.last = d.Burst
		if a.OnBurst != nil {
			a.OnBurst(d.Burst)
		}
	}
	a.draw()
	return d
}

func (a *App) draw() {
	if a.page == nil {
		return
	}
	s := a.screen
	s.Clear()
	s.HideCursor()
	w, h := s.Size()

	title := a.page.Title()
	if title == "" {
		title = a.page.Name()
	}
	put(s, 1, 0, title, styleTitle)

	labelWidth := 0
	for _, f := range a.page.Fields() {
		labelWidth = max(labelWidth, len([]rune(f.Label())))
	}

	row := 2
	for _, f := range a.page.Fields() {
		ls := styleLabel
		if f.Focused() {
			ls = styleFocus
		}
		put(s, 1, row, fmt.Sprintf("%-*s", labelWidth, f.Label()), ls)
		x := 1 + labelWidth + 2

		vs := styleDefault
		switch {
		case f.ReadOnly():
			vs = styleReadOnly
		case f.Selected():
			vs = styleSelected
		}
		end := put(s, x, row, f.Value(), vs)
		if f.Focused() && !f.ReadOnly() {
			s.ShowCursor(end, row)
		}
		row++
	}

	if cb := a.page.Flag(); cb != nil {
		row++
		mark := "[ ]"
		if cb.Checked() {
			mark = "[x]"
		}
		st := styleDefault
		if cb.Focused() {
			st = styleFocus
		}
		put(s, 1, row, mark+" "+cb.Label(), st)
		row++
	}

	row++
	if a.page.Pending() {
		put(s, 1, row, "submitting...", styleLabel)
	} else if st := a.page.Status(); st.Message != "" {
		style := styleOK
		if !st.OK {
			style = styleFail
		}
		put(s, 1, row, st.Message, style)
	}

	if h > row+2 {
		put(s, 1, h-2, a.lastBurstLine(), styleFooter)
		footer := fmt.Sprintf("scans %d  abandoned %d  |  Tab/Enter next field  Space toggle  Ctrl+C quit",
			a.ctl.Stats().Finalized, a.ctl.Stats().Abandoned)
		put(s, 1, h-1, truncate(footer, w-2), styleFooter)
	}
	s.Show()
}

func (a *App) lastBurstLine() string {
	b := a.last
	if b == nil {
		return ""
	}
	return fmt.Sprintf("last scan: %s %q (%d chars in %s)", b.Action, b.Code, b.Chars, b.Duration().Round(time.Millisecond))
}

// put draws text from (x, y) and returns the column after it.
func put(s tcell.Screen, x, y int, text string, style tcell.Style) int {
	for _, r := range text {
		s.SetContent(x, y, r, nil, style)
		x++
	}
	return x
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n < 0 {
		return ""
	}
	if len(r) > n {
		return string(r[:n])
	}
	return s
}
