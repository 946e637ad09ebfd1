package wedge

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Burst is a finalized scanner burst and what the router did with it.
type Burst struct {
	Code    string    // trimmed burst content
	Value   string    // value written into the field (ActionValue only)
	Action  Action    // action taken
	Rule    string    // name of the rule that fired
	Chars   int       // characters absorbed, lead included
	Started time.Time // first character
	Ended   time.Time // terminator

	origin      Field
	snapshot    string
	hasSnapshot bool
	selected    bool
}

// Duration is the time from the first character to the terminator.
func (b *Burst) Duration() time.Duration {
	return b.Ended.Sub(b.Started)
}

// Decision tells the host what to do with the key it just delivered.
type Decision struct {
	// Suppress vetoes the key's default effect.
	Suppress bool
	// Burst is set when the key finalized a scanner burst.
	Burst *Burst
}

// Stats counts controller outcomes since creation.
type Stats struct {
	Finalized   int            `json:"finalized"`
	Abandoned   int            `json:"abandoned"`
	ManualEnter int            `json:"manual_enter"`
	Suppressed  int            `json:"suppressed"`
	ByAction    map[string]int `json:"by_action"`
}

// Controller owns the single burst state of one host page.
type Controller struct {
	cfg   Config
	rules []Rule
	norm  *Normalizer
	host  Host
	sched Scheduler
	log   *slog.Logger

	// timing
	last     time.Time
	haveLast bool

	// burst
	lead        rune
	haveLead    bool
	leadAt      time.Time
	buf         []rune
	fast        int
	origin      Field
	snapshot    string
	hasSnapshot bool
	selected    bool
	idle        Task

	stats Stats
}

// NewController creates a controller for host. A nil logger uses slog.Default.
func NewController(cfg Config, host Host, sched Scheduler, logger *slog.Logger) (*Controller, error) {
	if host == nil {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if sched == nil {
		return nil, fmt.Errorf("%w: scheduler is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		host:  host,
		sched: sched,
		log:   logger.With(slog.String("component", "wedge")),
		stats: Stats{ByAction: make(map[string]int)},
	}
	if err := c.Configure(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Configure swaps in a new configuration and resets the burst state.
func (c *Controller) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	norm, err := NewNormalizer(cfg.SegmentPattern)
	if err != nil {
		return err
	}
	c.reset()
	c.cfg = cfg
	c.norm = norm
	c.rules = buildRules(cfg.Codes)
	return nil
}

// Config returns the active configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Rules returns the rule names in evaluation order.
func (c *Controller) Rules() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Name
	}
	return names
}

// Stats returns a copy of the outcome counters.
func (c *Controller) Stats() Stats {
	s := c.stats
	s.ByAction = make(map[string]int, len(c.stats.ByAction))
	for k, v := range c.stats.ByAction {
		s.ByAction[k] = v
	}
	return s
}

// Buffering reports whether a burst is open.
func (c *Controller) Buffering() bool {
	return len(c.buf) > 0
}

// HandleKeyEvent classifies ev and returns whether the host must suppress it.
// It must be called before any other host logic sees the key.
func (c *Controller) HandleKeyEvent(ev KeyEvent) Decision {
	fast := c.classify(ev.Time)

	switch {
	case ev.Key == c.cfg.Terminator && !ev.Modifiers.Chord():
		return c.terminate(ev)
	case ev.Key == KeyModifier:
		if c.Buffering() {
			c.armIdle()
		}
		return Decision{}
	case ev.Printable():
		return c.accept(ev, fast)
	default:
		c.abandon()
		return Decision{}
	}
}

// Reset discards any open burst and the timing history. The next keystroke
// is treated like the first of a session.
func (c *Controller) Reset() {
	c.reset()
}

// classify is the timing gate. The first keystroke after a reset has no
// prior sample and is never fast.
func (c *Controller) classify(at time.Time) bool {
	fast := false
	if c.haveLast {
		gap := at.Sub(c.last)
		fast = gap >= 0 && gap < c.cfg.ScanInterval
	}
	c.last = at
	c.haveLast = true
	return fast
}

func (c *Controller) accept(ev KeyEvent, fast bool) Decision {
	if !fast {
		// A slow character passes through. It may be the lead of a scan
		// whose remaining characters arrive fast, so remember it along
		// with the state of the field it lands in.
		c.abandon()
		c.lead, c.haveLead, c.leadAt = ev.Rune, true, ev.Time
		c.captureOrigin()
		return Decision{}
	}

	if !c.Buffering() && !c.haveLead {
		c.captureOrigin()
	}
	c.buf = append(c.buf, ev.Rune)
	c.fast++
	c.stats.Suppressed++
	c.armIdle()
	return Decision{Suppress: true}
}

func (c *Controller) captureOrigin() {
	c.origin = c.host.ActiveElement()
	c.snapshot, c.hasSnapshot, c.selected = "", false, false
	if sink, ok := c.origin.(FieldSink); ok {
		c.snapshot, c.hasSnapshot, c.selected = sink.Value(), true, sink.Selected()
	}
}

func (c *Controller) terminate(ev KeyEvent) Decision {
	if c.fast == 0 {
		// Manual Enter: let it through so the page can move focus.
		c.stats.ManualEnter++
		c.reset()
		return Decision{}
	}

	var sb strings.Builder
	started := ev.Time
	chars := len(c.buf)
	if c.haveLead {
		sb.WriteRune(c.lead)
		started = c.leadAt
		chars++
	}
	sb.WriteString(string(c.buf))

	b := &Burst{
		Code:        strings.TrimSpace(sb.String()),
		Chars:       chars,
		Started:     started,
		Ended:       ev.Time,
		origin:      c.origin,
		snapshot:    c.snapshot,
		hasSnapshot: c.hasSnapshot,
		selected:    c.selected,
	}
	c.reset()

	c.stats.Suppressed++
	c.route(b)
	return Decision{Suppress: true, Burst: b}
}

// route runs the first matching rule.
func (c *Controller) route(b *Burst) {
	for _, r := range c.rules {
		if !r.Match(b.Code) {
			continue
		}
		b.Action = r.Action
		b.Rule = r.Name
		r.apply(c, b)
		break
	}
	c.stats.Finalized++
	c.stats.ByAction[b.Action.String()]++
	c.log.Debug("burst finalized",
		"rule", b.Rule,
		"chars", b.Chars,
		"duration", b.Duration(),
	)
}

func (c *Controller) applyFlag(b *Burst) {
	c.restoreOrigin(b)
	cb, ok := c.host.FlagControl()
	if !ok {
		c.log.Warn("flag code scanned but no flag control on page")
		return
	}
	cb.SetChecked(true)
	if origin := b.origin; origin != nil {
		c.sched.AfterFunc(c.cfg.FocusDelay, origin.Focus)
	}
}

func (c *Controller) applySubmit(b *Burst) {
	c.restoreOrigin(b)
	form, ok := c.host.Form()
	if !ok {
		c.log.Warn("submit code scanned but no form on page")
		return
	}
	if err := form.Submit(); err != nil {
		c.log.Warn("form submit failed", "error", err)
	}
	c.sched.AfterFunc(c.cfg.FocusDelay, func() {
		if first, ok := form.FirstField(); ok {
			first.Focus()
		}
	})
}

func (c *Controller) applyValue(b *Burst) {
	b.Value = c.norm.Normalize(b.Code)
	active := c.host.ActiveElement()
	if active == nil {
		c.log.Debug("scan dropped: no focused field")
		return
	}
	sink, ok := active.(FieldSink)
	if !ok {
		c.log.Debug("scan dropped: focused element takes no value", "element", active.Name())
		return
	}
	if err := sink.SetValue(b.Value); err != nil {
		c.log.Debug("scan dropped", "element", active.Name(), "error", err)
		return
	}
	sink.SelectAll()
}

// restoreOrigin undoes the lead character that passed through before the
// burst was recognized, so control codes leave text fields untouched. The
// selection is part of the field state: a selected value stays selected.
func (c *Controller) restoreOrigin(b *Burst) {
	if !b.hasSnapshot {
		return
	}
	sink, ok := b.origin.(FieldSink)
	if !ok {
		return
	}
	if sink.Value() != b.snapshot {
		if err := sink.SetValue(b.snapshot); err != nil {
			c.log.Debug("restore field failed", "element", sink.Name(), "error", err)
			return
		}
	}
	if b.selected && !sink.Selected() {
		sink.SelectAll()
	}
}

func (c *Controller) armIdle() {
	if c.idle != nil {
		c.idle.Stop()
	}
	c.idle = c.sched.AfterFunc(c.cfg.IdleTimeout, c.expire)
}

// expire abandons the open burst when the idle task fires.
func (c *Controller) expire() {
	c.idle = nil
	c.abandon()
	c.reset()
}

// abandon drops an open burst without acting on it. Absorbed characters are
// not replayed; a lead character that reached the field is taken back out.
func (c *Controller) abandon() {
	if c.fast > 0 {
		c.stats.Abandoned++
		c.log.Debug("burst abandoned", "chars", len(c.buf))
		c.restoreOrigin(&Burst{origin: c.origin, snapshot: c.snapshot, hasSnapshot: c.hasSnapshot, selected: c.selected})
	}
	c.clearBurst()
}

// clearBurst drops the burst and cancels its idle task. Every path that ends
// a burst goes through here.
func (c *Controller) clearBurst() {
	if c.idle != nil {
		c.idle.Stop()
		c.idle = nil
	}
	c.buf = c.buf[:0]
	c.fast = 0
	c.lead, c.haveLead, c.leadAt = 0, false, time.Time{}
	c.origin = nil
	c.snapshot, c.hasSnapshot, c.selected = "", false, false
}

func (c *Controller) reset() {
	c.clearBurst()
	c.last, c.haveLast = time.Time{}, false
}
