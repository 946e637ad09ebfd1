package form

import (
	"errors"
	"unicode/utf8"
)

var (
	// ErrReadOnly is returned when writing to a read-only field.
	ErrReadOnly = errors.New("field is read-only")

	// ErrTooLong is returned when an edit would exceed the field's limit.
	ErrTooLong = errors.New("value exceeds field length")
)

// Field is a single-line text input.
type Field struct {
	page      *Page
	name      string
	label     string
	required  bool
	readOnly  bool
	maxLength int

	value    string
	selected bool
}

func (f *Field) Name() string   { return f.name }
func (f *Field) Label() string  { return f.label }
func (f *Field) Value() string  { return f.value }
func (f *Field) Required() bool { return f.required }
func (f *Field) ReadOnly() bool { return f.readOnly }
func (f *Field) Selected() bool { return f.selected }
func (f *Field) Focused() bool  { return f.page.ActiveElement() == f }

// SetValue replaces the content and clears the selection.
func (f *Field) SetValue(v string) error {
	if f.readOnly {
		return ErrReadOnly
	}
	if f.maxLength > 0 && utf8.RuneCountInString(v) > f.maxLength {
		return ErrTooLong
	}
	f.value = v
	f.selected = false
	return nil
}

// SelectAll marks the whole content selected; the next typed character
// replaces it.
func (f *Field) SelectAll() {
	f.selected = f.value != ""
}

// Focus moves the page's focus here.
func (f *Field) Focus() {
	f.page.focusElement(f)
}

// Insert types r at the end of the content, or over it when selected.
func (f *Field) Insert(r rune) error {
	if f.readOnly {
		return ErrReadOnly
	}
	next := f.value + string(r)
	if f.selected {
		next = string(r)
	}
	if f.maxLength > 0 && utf8.RuneCountInString(next) > f.maxLength {
		return ErrTooLong
	}
	f.value = next
	f.selected = false
	return nil
}

// Backspace deletes the last character, or everything when selected.
func (f *Field) Backspace() error {
	if f.readOnly {
		return ErrReadOnly
	}
	switch {
	case f.selected:
		f.value = ""
	case f.value != "":
		_, size := utf8.DecodeLastRuneInString(f.value)
		f.value = f.value[:len(f.value)-size]
	}
	f.selected = false
	return nil
}

func (f *Field) clear() {
	f.value = ""
	f.selected = false
}

// Checkbox is the form's flag control.
type Checkbox struct {
	page    *Page
	name    string
	label   string
	checked bool
}

func (c *Checkbox) Name() string      { return c.name }
func (c *Checkbox) Label() string     { return c.label }
func (c *Checkbox) Checked() bool     { return c.checked }
func (c *Checkbox) SetChecked(v bool) { c.checked = v }
func (c *Checkbox) Toggle()           { c.checked = !c.checked }
func (c *Checkbox) Focus()            { c.page.focusElement(c) }
func (c *Checkbox) Focused() bool     { return c.page.ActiveElement() == c }
