package keystroke

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strings"
	"time"

	"scanwedge/internal/wedge"
)

// Profile shapes the synthetic sessions produced by Generate.
type Profile struct {
	Name        string
	Description string

	// Scanner pacing between characters of one burst.
	ScanGapMs    float64
	ScanJitterMs float64

	// Human typing, log-normal around the median and never faster than
	// MinTypeGapMs.
	TypeMedianMs float64
	TypeStdDevMs float64
	MinTypeGapMs float64

	// PauseMs is the minimum quiet time before each scan or typed entry.
	PauseMs    float64
	PauseMaxMs float64

	ManualProbability float64 // package number typed instead of scanned
	FlagProbability   float64 // abnormal flag scanned before submitting
}

// Profiles are the built-in generator profiles.
var Profiles = map[string]Profile{
	"scanner": {
		Name:            "scanner",
		Description:     "Every package scanned with a fast wedge scanner",
		ScanGapMs:       5,
		ScanJitterMs:    3,
		TypeMedianMs:    180,
		TypeStdDevMs:    80,
		MinTypeGapMs:    90,
		PauseMs:         400,
		PauseMaxMs:      2500,
		FlagProbability: 0.3,
	},
	"slow-scanner": {
		Name:            "slow-scanner",
		Description:     "Bluetooth scanner pacing close to the gate",
		ScanGapMs:       35,
		ScanJitterMs:    8,
		TypeMedianMs:    180,
		TypeStdDevMs:    80,
		MinTypeGapMs:    90,
		PauseMs:         400,
		PauseMaxMs:      2500,
		FlagProbability: 0.2,
	},
	"mixed": {
		Name:              "mixed",
		Description:       "Scanning with occasional hand-typed package numbers",
		ScanGapMs:         6,
		ScanJitterMs:      4,
		TypeMedianMs:      220,
		TypeStdDevMs:      120,
		MinTypeGapMs:      70,
		PauseMs:           600,
		PauseMaxMs:        4000,
		ManualProbability: 0.25,
		FlagProbability:   0.25,
	},
}

// Summary counts what Generate put into a script.
type Summary struct {
	Records int // submit scans
	Scans   int // scanner bursts, control codes included
	Flags   int
	Manual  int // hand-typed entries ended by a manual Enter
}

// Generate builds a session of records, each made of a package number, an
// optional abnormal flag scan and a submit scan. Codes are scanned with
// Enter as terminator.
func Generate(rng *rand.Rand, p Profile, records int, flagCode, submitCode string) (Script, Summary) {
	g := &generator{rng: rng, p: p}
	var sum Summary
	for i := 0; i < records; i++ {
		pkg := fmt.Sprintf("KG%08d", rng.Intn(100000000))
		if rng.Float64() < p.ManualProbability {
			g.typed(pkg)
			sum.Manual++
		} else {
			g.scan(pkg)
			sum.Scans++
		}
		if rng.Float64() < p.FlagProbability {
			g.scan(flagCode)
			sum.Scans++
			sum.Flags++
		}
		g.scan(submitCode)
		sum.Scans++
		sum.Records++
	}
	return g.out, sum
}

type generator struct {
	rng *rand.Rand
	p   Profile
	at  time.Duration
	out Script
}

func (g *generator) emit(ev wedge.KeyEvent) {
	g.out = append(g.out, Step{Offset: g.at, Event: ev})
}

func (g *generator) advance(ms float64) {
	g.at += time.Duration(ms * float64(time.Millisecond)).Round(time.Millisecond)
}

func (g *generator) pause() {
	if len(g.out) == 0 {
		return
	}
	g.advance(g.p.PauseMs + g.rng.Float64()*(g.p.PauseMaxMs-g.p.PauseMs))
}

func (g *generator) scanGap() float64 {
	gap := g.p.ScanGapMs + (g.rng.Float64()*2-1)*g.p.ScanJitterMs
	return math.Max(gap, 1)
}

func (g *generator) scan(code string) {
	g.pause()
	for i, r := range code {
		if i > 0 {
			g.advance(g.scanGap())
		}
		g.emit(wedge.KeyEvent{Key: wedge.KeyRune, Rune: r})
	}
	g.advance(g.scanGap())
	g.emit(wedge.KeyEvent{Key: wedge.KeyEnter})
}

func (g *generator) typed(text string) {
	g.pause()
	for i, r := range text {
		if i > 0 {
			g.advance(g.typeGap())
		}
		g.emit(wedge.KeyEvent{Key: wedge.KeyRune, Rune: r})
	}
	g.advance(g.typeGap())
	g.emit(wedge.KeyEvent{Key: wedge.KeyEnter})
}

func (g *generator) typeGap() float64 {
	return math.Max(logNormal(g.rng, g.p.TypeMedianMs, g.p.TypeStdDevMs), g.p.MinTypeGapMs)
}

// logNormal samples around median with roughly the given spread.
func logNormal(rng *rand.Rand, median, stdDev float64) float64 {
	sigma := math.Max(math.Log(1+stdDev/median), 0.1)
	return math.Exp(math.Log(median) + sigma*rng.NormFloat64())
}

// Format writes s in the text form ParseScript reads, one key per line.
func (s Script) Format(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for i, st := range s {
		spec, err := formatKeySpec(st.Event)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		fmt.Fprintf(bw, "%d %s\n", st.Offset.Milliseconds(), spec)
	}
	return bw.Flush()
}

func formatKeySpec(ev wedge.KeyEvent) (string, error) {
	var name string
	switch ev.Key {
	case wedge.KeyRune:
		switch {
		case ev.Rune == ' ':
			name = "space"
		case ev.Rune < ' ' || ev.Rune == 0x7f:
			return "", fmt.Errorf("control character %U has no script form", ev.Rune)
		default:
			name = string(ev.Rune)
		}
	case wedge.KeyEnter, wedge.KeyTab, wedge.KeyBackspace, wedge.KeyEscape:
		name = ev.Key.String()
	case wedge.KeyModifier:
		name = "modifier"
	default:
		return "", fmt.Errorf("key %s has no script form", ev.Key)
	}

	var mods []string
	m := ev.Modifiers
	for _, held := range []struct {
		on   bool
		name string
	}{{m.Shift, "shift"}, {m.Ctrl, "ctrl"}, {m.Alt, "alt"}, {m.Meta, "meta"}} {
		if held.on {
			mods = append(mods, held.name)
		}
	}
	switch len(mods) {
	case 0:
		return name, nil
	case 1:
		return mods[0] + "+" + name, nil
	default:
		return "", fmt.Errorf("chord %s+%s has no script form", strings.Join(mods, "+"), name)
	}
}
