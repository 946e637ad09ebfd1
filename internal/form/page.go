// Package form is the workstation's entry form: ordered text fields, an
// optional flag checkbox and a submit path. A Page is the host the wedge
// controller acts on, and it applies the default effect of every key the
// controller lets through.
package form

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scanwedge/internal/config"
	"scanwedge/internal/schemavalidation"
	"scanwedge/internal/wedge"
)

var (
	// ErrBusy is returned by Submit while a submission is in flight.
	ErrBusy = errors.New("submission in progress")

	// ErrNoSubmitter is returned by Submit when the page has nowhere to
	// send records.
	ErrNoSubmitter = errors.New("no submitter configured")
)

// Submitter delivers a record and returns a message for the operator.
type Submitter interface {
	Submit(ctx context.Context, form string, fields map[string]any) (string, error)
}

// Status is the outcome shown under the form.
type Status struct {
	OK      bool
	Message string
	At      time.Time
}

// Options wires a Page to its collaborators. Every member is optional.
type Options struct {
	Submitter Submitter
	Validator *schemavalidation.FormValidator

	// Post runs fn on the goroutine that owns the page. Submission results
	// arrive through it. Nil runs fn directly on the submitting goroutine.
	Post func(fn func()) bool

	// OnStatus is called on the owning goroutine after each submission.
	OnStatus func(Status)

	// Timeout bounds one submission. Zero means 10s.
	Timeout time.Duration

	Logger *slog.Logger
}

// Page is one entry form. It is not safe for concurrent use; callers
// serialize access the same way they serialize the wedge controller.
type Page struct {
	name   string
	title  string
	fields []*Field
	flag   *Checkbox
	focus  int

	opts    Options
	log     *slog.Logger
	pending bool
	status  Status
	now     func() time.Time
}

// New builds a page from its configuration. Focus starts on the first
// writable field.
func New(cfg config.FormConfig, opts Options) (*Page, error) {
	if len(cfg.Fields) == 0 {
		return nil, fmt.Errorf("form %q has no fields", cfg.Name)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Page{
		name:  cfg.Name,
		title: cfg.Title,
		opts:  opts,
		log:   logger.With(slog.String("component", "form"), slog.String("form", cfg.Name)),
		now:   time.Now,
	}
	for _, fc := range cfg.Fields {
		label := fc.Label
		if label == "" {
			label = fc.Name
		}
		p.fields = append(p.fields, &Field{
			page:      p,
			name:      fc.Name,
			label:     label,
			required:  fc.Required,
			readOnly:  fc.ReadOnly,
			maxLength: fc.MaxLength,
		})
	}
	if cfg.Flag != "" {
		label := cfg.FlagLabel
		if label == "" {
			label = cfg.Flag
		}
		p.flag = &Checkbox{page: p, name: cfg.Flag, label: label}
	}
	p.FocusFirst()
	return p, nil
}

func (p *Page) Name() string  { return p.name }
func (p *Page) Title() string { return p.title }

// Fields returns the text fields in order.
func (p *Page) Fields() []*Field { return p.fields }

// Field returns the named field.
func (p *Page) Field(name string) (*Field, bool) {
	for _, f := range p.fields {
		if f.name == name {
			return f, true
		}
	}
	return nil, false
}

// Flag returns the flag checkbox, or nil when the form has none.
func (p *Page) Flag() *Checkbox { return p.flag }

// Status returns the last submission outcome.
func (p *Page) Status() Status { return p.status }

// Pending reports whether a submission is in flight.
func (p *Page) Pending() bool { return p.pending }

func (p *Page) elements() int {
	if p.flag != nil {
		return len(p.fields) + 1
	}
	return len(p.fields)
}

func (p *Page) element(i int) wedge.Field {
	if i < len(p.fields) {
		return p.fields[i]
	}
	if p.flag == nil {
		return nil
	}
	return p.flag
}

func (p *Page) focusElement(el wedge.Field) {
	for i := 0; i < p.elements(); i++ {
		if p.element(i) == el {
			p.focus = i
			return
		}
	}
}

// ActiveElement implements wedge.Host.
func (p *Page) ActiveElement() wedge.Field {
	return p.element(p.focus)
}

// FlagControl implements wedge.Host.
func (p *Page) FlagControl() (wedge.Checkbox, bool) {
	if p.flag == nil {
		return nil, false
	}
	return p.flag, true
}

// Form implements wedge.Host.
func (p *Page) Form() (wedge.Form, bool) {
	return p, true
}

// FirstField implements wedge.Form: the first writable text field.
func (p *Page) FirstField() (wedge.Field, bool) {
	for _, f := range p.fields {
		if !f.readOnly {
			return f, true
		}
	}
	return nil, false
}

// FocusFirst focuses the first writable field and selects its content.
func (p *Page) FocusFirst() {
	if f, ok := p.FirstField(); ok {
		f.Focus()
		f.(*Field).SelectAll()
		return
	}
	p.focus = 0
}

// FocusNext moves focus forward, wrapping at the end and skipping
// read-only fields.
func (p *Page) FocusNext() { p.step(1) }

// FocusPrev moves focus backward.
func (p *Page) FocusPrev() { p.step(-1) }

func (p *Page) step(dir int) {
	n := p.elements()
	for i := 1; i <= n; i++ {
		next := ((p.focus+dir*i)%n + n) % n
		if f, ok := p.element(next).(*Field); ok && f.readOnly {
			continue
		}
		p.focus = next
		return
	}
}

// Values collects the record: every text field by name and the flag as a
// boolean.
func (p *Page) Values() map[string]any {
	out := make(map[string]any, len(p.fields)+1)
	for _, f := range p.fields {
		out[f.name] = f.value
	}
	if p.flag != nil {
		out[p.flag.name] = p.flag.checked
	}
	return out
}

// Reset clears every writable field and the flag, and focuses the first
// field.
func (p *Page) Reset() {
	for _, f := range p.fields {
		if !f.readOnly {
			f.clear()
		}
	}
	if p.flag != nil {
		p.flag.checked = false
	}
	p.FocusFirst()
}

// Submit validates the record and hands it to the submitter. It returns
// once the record is on its way; the outcome arrives through OnStatus.
// A record that fails validation is reported immediately.
func (p *Page) Submit() error {
	if p.pending {
		return ErrBusy
	}
	fields := p.Values()
	if v := p.opts.Validator; v != nil {
		if err := v.Validate(fields); err != nil {
			p.setStatus(false, err.Error())
			return err
		}
	}
	if p.opts.Submitter == nil {
		p.setStatus(false, ErrNoSubmitter.Error())
		return ErrNoSubmitter
	}

	p.pending = true
	p.log.Debug("submitting record")
	go p.send(fields)
	return nil
}

func (p *Page) send(fields map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.Timeout)
	defer cancel()
	msg, err := p.opts.Submitter.Submit(ctx, p.name, fields)

	done := func() { p.finish(msg, err) }
	if p.opts.Post == nil {
		done()
		return
	}
	if !p.opts.Post(done) {
		p.log.Warn("submission result dropped: page loop stopped", "error", err)
	}
}

func (p *Page) finish(msg string, err error) {
	p.pending = false
	if err != nil {
		p.log.Warn("submission failed", "error", err)
		p.setStatus(false, err.Error())
		return
	}
	if msg == "" {
		msg = "saved"
	}
	p.log.Info("record submitted")
	p.Reset()
	p.setStatus(true, msg)
}

func (p *Page) setStatus(ok bool, msg string) {
	p.status = Status{OK: ok, Message: msg, At: p.now()}
	if p.opts.OnStatus != nil {
		p.opts.OnStatus(p.status)
	}
}

// Apply performs the default effect of a key the controller did not
// suppress: typing into the focused field, deleting, toggling the flag
// with space, and moving focus with Enter and Tab.
func (p *Page) Apply(ev wedge.KeyEvent) {
	active := p.ActiveElement()
	switch {
	case ev.Printable():
		switch el := active.(type) {
		case *Field:
			if err := el.Insert(ev.Rune); err != nil {
				p.log.Debug("key ignored", "field", el.name, "error", err)
			}
		case *Checkbox:
			if ev.Rune == ' ' {
				el.Toggle()
			}
		}
	case ev.Key == wedge.KeyBackspace:
		if f, ok := active.(*Field); ok {
			_ = f.Backspace()
		}
	case ev.Key == wedge.KeyEnter && !ev.Modifiers.Chord():
		p.FocusNext()
	case ev.Key == wedge.KeyTab && !ev.Modifiers.Chord():
		if ev.Modifiers.Shift {
			p.FocusPrev()
		} else {
			p.FocusNext()
		}
	}
}

// Deliver runs ev through ctl and, unless suppressed, applies its default
// effect. It returns the controller's decision.
func (p *Page) Deliver(ctl *wedge.Controller, ev wedge.KeyEvent) wedge.Decision {
	d := ctl.HandleKeyEvent(ev)
	if !d.Suppress {
		p.Apply(ev)
	}
	return d
}
