package feedback

import (
	"math"
	"time"

	"github.com/gopxl/beep"
)

// fade is the attack and release ramp that keeps tones from clicking.
const fade = 8 * time.Millisecond

type tone struct {
	freq   float64
	rate   beep.SampleRate
	volume float64
	pos    int
	total  int
	ramp   int
}

// Tone returns a sine tone of freq Hz lasting d, with short linear fades at
// both ends.
func Tone(freq float64, d time.Duration, volume float64, rate beep.SampleRate) beep.Streamer {
	total := rate.N(d)
	ramp := rate.N(fade)
	if ramp*2 > total {
		ramp = total / 2
	}
	return &tone{freq: freq, rate: rate, volume: volume, total: total, ramp: ramp}
}

func (t *tone) Stream(samples [][2]float64) (n int, ok bool) {
	if t.pos >= t.total {
		return 0, false
	}
	for i := range samples {
		if t.pos >= t.total {
			break
		}
		gain := t.volume
		switch {
		case t.ramp > 0 && t.pos < t.ramp:
			gain *= float64(t.pos) / float64(t.ramp)
		case t.ramp > 0 && t.total-t.pos < t.ramp:
			gain *= float64(t.total-t.pos) / float64(t.ramp)
		}
		v := gain * math.Sin(2*math.Pi*t.freq*float64(t.pos)/float64(t.rate))
		samples[i][0] = v
		samples[i][1] = v
		t.pos++
		n++
	}
	return n, true
}

func (t *tone) Err() error { return nil }
