// Package feedback plays short tones when a record is accepted or refused,
// so the operator does not need to look at the screen between scans.
package feedback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"

	"scanwedge/internal/config"
)

const volume = 0.4

// Notifier signals outcomes to the operator.
type Notifier interface {
	Success()
	Failure()
	Close()
}

// Nop is a Notifier that does nothing.
type Nop struct{}

func (Nop) Success() {}
func (Nop) Failure() {}
func (Nop) Close()   {}

// Player plays tones through the system speaker.
type Player struct {
	mu          sync.Mutex
	cfg         config.FeedbackConfig
	rate        beep.SampleRate
	mixer       *beep.Mixer
	initialized bool
}

// New returns a Player for cfg, or Nop when feedback is disabled or no
// audio device can be opened. The failure is logged.
func New(cfg config.FeedbackConfig, logger *slog.Logger) Notifier {
	if !cfg.Enabled {
		return Nop{}
	}
	p := NewPlayer(cfg)
	if err := p.Initialize(); err != nil {
		if logger != nil {
			logger.Warn("audio feedback unavailable", "error", err)
		}
		return Nop{}
	}
	return p
}

// NewPlayer creates a player. Call Initialize before playing.
func NewPlayer(cfg config.FeedbackConfig) *Player {
	return &Player{
		cfg:   cfg,
		rate:  beep.SampleRate(cfg.SampleRate),
		mixer: &beep.Mixer{},
	}
}

// Initialize opens the speaker.
func (p *Player) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}
	if p.rate <= 0 {
		return fmt.Errorf("invalid sample rate %d", p.rate)
	}
	if err := speaker.Init(p.rate, p.rate.N(50*time.Millisecond)); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	speaker.Play(p.mixer)
	p.initialized = true
	return nil
}

// Success plays the high tone.
func (p *Player) Success() { p.play(p.cfg.SuccessHz) }

// Failure plays the low tone twice.
func (p *Player) Failure() {
	d := p.cfg.Tone()
	gap := beep.Silence(p.rate.N(d / 2))
	p.enqueue(beep.Seq(
		Tone(p.cfg.FailureHz, d, volume, p.rate),
		gap,
		Tone(p.cfg.FailureHz, d, volume, p.rate),
	))
}

func (p *Player) play(freq float64) {
	p.enqueue(Tone(freq, p.cfg.Tone(), volume, p.rate))
}

func (p *Player) enqueue(s beep.Streamer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return
	}
	speaker.Lock()
	p.mixer.Add(s)
	speaker.Unlock()
}

// Close silences pending tones.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return
	}
	speaker.Lock()
	p.mixer.Clear()
	speaker.Unlock()
	p.initialized = false
}
