package keystroke

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"scanwedge/internal/wedge"
)

// Step is one scripted key at an offset from the start of the script.
type Step struct {
	Offset time.Duration
	Event  wedge.KeyEvent
}

// Script is a recorded key sequence.
//
// The text form has one entry per line; blank lines and lines starting with
// '#' are ignored:
//
//	<ms> <key>                  one key at <ms> after the start
//	<ms> type <gap_ms> <text>   text typed from <ms>, one rune every <gap_ms>
//
// A key is a single character, "space", a key name understood by
// wedge.ParseKey, or a chord such as "ctrl+c". Offsets never decrease.
type Script []Step

// ParseScript reads the text form.
func ParseScript(r io.Reader) (Script, error) {
	var (
		s    Script
		last time.Duration
		line int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		head, rest, _ := strings.Cut(text, " ")
		ms, err := strconv.Atoi(head)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("line %d: bad offset %q", line, head)
		}
		at := time.Duration(ms) * time.Millisecond
		if at < last {
			return nil, fmt.Errorf("line %d: offset %v before previous %v", line, at, last)
		}
		rest = strings.TrimSpace(rest)

		if typed, ok := strings.CutPrefix(rest, "type "); ok {
			gapText, payload, found := strings.Cut(strings.TrimSpace(typed), " ")
			gap, err := strconv.Atoi(gapText)
			if !found || err != nil || gap < 0 {
				return nil, fmt.Errorf("line %d: want \"type <gap_ms> <text>\"", line)
			}
			for i, r := range []rune(payload) {
				off := at + time.Duration(i*gap)*time.Millisecond
				s = append(s, Step{Offset: off, Event: wedge.KeyEvent{Key: wedge.KeyRune, Rune: r}})
				last = off
			}
			continue
		}

		ev, err := parseKeySpec(rest)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		s = append(s, Step{Offset: at, Event: ev})
		last = at
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return s, nil
}

func parseKeySpec(spec string) (wedge.KeyEvent, error) {
	var ev wedge.KeyEvent
	if spec == "" {
		return ev, fmt.Errorf("missing key")
	}
	if utf8.RuneCountInString(spec) == 1 {
		r, _ := utf8.DecodeRuneInString(spec)
		return wedge.KeyEvent{Key: wedge.KeyRune, Rune: r}, nil
	}
	if strings.EqualFold(spec, "space") {
		return wedge.KeyEvent{Key: wedge.KeyRune, Rune: ' '}, nil
	}

	if mod, key, ok := strings.Cut(spec, "+"); ok && key != "" {
		switch strings.ToLower(mod) {
		case "shift":
			ev.Modifiers.Shift = true
		case "ctrl", "control":
			ev.Modifiers.Ctrl = true
		case "alt":
			ev.Modifiers.Alt = true
		case "meta", "cmd", "super":
			ev.Modifiers.Meta = true
		default:
			return ev, fmt.Errorf("unknown modifier %q", mod)
		}
		inner, err := parseKeySpec(key)
		if err != nil {
			return ev, err
		}
		inner.Modifiers = ev.Modifiers
		return inner, nil
	}

	k, err := wedge.ParseKey(spec)
	if err != nil {
		return ev, err
	}
	return wedge.KeyEvent{Key: k}, nil
}

// Events stamps the script against start.
func (s Script) Events(start time.Time) []wedge.KeyEvent {
	out := make([]wedge.KeyEvent, len(s))
	for i, st := range s {
		ev := st.Event
		ev.Time = start.Add(st.Offset)
		out[i] = ev
	}
	return out
}

// Duration is the offset of the last step.
func (s Script) Duration() time.Duration {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1].Offset
}

// Drive replays the script in virtual time: the scheduler's clock is moved
// to each event before handle sees it, and finally past the last event by
// settle so trailing timers fire.
func (s Script) Drive(sched *wedge.ManualScheduler, settle time.Duration, handle func(wedge.KeyEvent)) {
	for _, ev := range s.Events(sched.Now()) {
		sched.AdvanceTo(ev.Time)
		handle(ev)
	}
	sched.Advance(settle)
}

// ScriptSource plays a script in real time, stamping each event with the
// wall clock when it is emitted.
type ScriptSource struct {
	baseSource
	script Script
	now    func() time.Time
}

// NewScriptSource creates a real-time player for s.
func NewScriptSource(s Script) *ScriptSource {
	return &ScriptSource{script: s, now: time.Now}
}

// Start implements Source.
func (p *ScriptSource) Start(ctx context.Context) error {
	ctx, err := p.begin(ctx)
	if err != nil {
		return err
	}
	go p.play(ctx)
	return nil
}

func (p *ScriptSource) play(ctx context.Context) {
	defer p.finish(nil)

	start := p.now()
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for _, st := range p.script {
		if wait := st.Offset - p.now().Sub(start); wait > 0 {
			timer.Reset(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				return
			}
		}
		ev := st.Event
		ev.Time = p.now()
		if !p.emit(ctx, ev) {
			return
		}
	}
}
