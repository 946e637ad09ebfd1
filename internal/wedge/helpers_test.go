package wedge

import (
	"errors"
	"time"
)

var errReadOnly = errors.New("read-only")

type fakeField struct {
	host     *fakeHost
	name     string
	value    string
	selected bool
	readOnly bool
	writes   []string
	focused  int
}

func (f *fakeField) Name() string  { return f.name }
func (f *fakeField) Value() string { return f.value }

func (f *fakeField) SetValue(v string) error {
	if f.readOnly {
		return errReadOnly
	}
	f.value = v
	f.selected = false
	f.writes = append(f.writes, v)
	return nil
}

func (f *fakeField) SelectAll()      { f.selected = true }
func (f *fakeField) Selected() bool { return f.selected }

func (f *fakeField) Focus() {
	f.focused++
	f.host.active = f
}

// insert is what the host does with a key the controller let through.
func (f *fakeField) insert(r rune) {
	if f.selected {
		f.value = ""
		f.selected = false
	}
	f.value += string(r)
}

type fakeCheckbox struct {
	host    *fakeHost
	checked bool
}

func (c *fakeCheckbox) Name() string      { return "flag" }
func (c *fakeCheckbox) Focus()            { c.host.active = c }
func (c *fakeCheckbox) SetChecked(v bool) { c.checked = v }

type fakeForm struct {
	first   *fakeField
	submits int
	err     error
}

func (f *fakeForm) Submit() error {
	f.submits++
	return f.err
}

func (f *fakeForm) FirstField() (Field, bool) {
	if f.first == nil {
		return nil, false
	}
	return f.first, true
}

type fakeHost struct {
	active Field
	flag   *fakeCheckbox
	form   *fakeForm
}

func (h *fakeHost) ActiveElement() Field { return h.active }

func (h *fakeHost) FlagControl() (Checkbox, bool) {
	if h.flag == nil {
		return nil, false
	}
	return h.flag, true
}

func (h *fakeHost) Form() (Form, bool) {
	if h.form == nil {
		return nil, false
	}
	return h.form, true
}

// harness drives a controller the way a host page would: keys the controller
// does not suppress reach the focused field.
type harness struct {
	ctl    *Controller
	sched  *ManualScheduler
	host   *fakeHost
	first  *fakeField
	second *fakeField
}

func newHarness(cfg Config) (*harness, error) {
	host := &fakeHost{}
	first := &fakeField{host: host, name: "packageNo"}
	second := &fakeField{host: host, name: "remark"}
	host.flag = &fakeCheckbox{host: host}
	host.form = &fakeForm{first: first}
	host.active = first

	sched := NewManualScheduler(time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC))
	ctl, err := NewController(cfg, host, sched, nil)
	if err != nil {
		return nil, err
	}
	return &harness{ctl: ctl, sched: sched, host: host, first: first, second: second}, nil
}

func (h *harness) deliver(ev KeyEvent) Decision {
	d := h.ctl.HandleKeyEvent(ev)
	if !d.Suppress && ev.Printable() {
		if f, ok := h.host.active.(*fakeField); ok && !f.readOnly {
			f.insert(ev.Rune)
		}
	}
	return d
}

// typeString delivers s one rune at a time, advancing the clock by gap
// before every key after the first.
func (h *harness) typeString(s string, gap time.Duration) []Decision {
	var out []Decision
	for i, r := range s {
		if i > 0 {
			h.sched.Advance(gap)
		}
		out = append(out, h.deliver(RuneEvent(r, h.sched.Now())))
	}
	return out
}

func (h *harness) press(k Key, gap time.Duration) Decision {
	h.sched.Advance(gap)
	return h.deliver(KeyPress(k, h.sched.Now()))
}

// scan emits s at scanner pace followed by the terminator.
func (h *harness) scan(s string) Decision {
	h.typeString(s, 5*time.Millisecond)
	return h.press(KeyEnter, 5*time.Millisecond)
}

func suppressedCount(ds []Decision) int {
	n := 0
	for _, d := range ds {
		if d.Suppress {
			n++
		}
	}
	return n
}
