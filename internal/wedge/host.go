package wedge

// Field is an element of the host page that can hold input focus.
type Field interface {
	Name() string
	Focus()
}

// FieldSink is a focusable element that accepts direct text assignment.
type FieldSink interface {
	Field
	Value() string
	SetValue(v string) error
	SelectAll()
	// Selected reports whether the whole content is selected, so the next
	// typed character replaces it.
	Selected() bool
}

// Checkbox is the designated flag control.
type Checkbox interface {
	SetChecked(checked bool)
}

// Form is the designated host form.
type Form interface {
	// Submit runs the form's submission path as if the user triggered it.
	Submit() error
	// FirstField returns the form's first input-capable field.
	FirstField() (Field, bool)
}

// Host is the page the Controller acts on. Lookups return false when the
// collaborator is absent; the corresponding action then degrades to a no-op.
type Host interface {
	ActiveElement() Field
	FlagControl() (Checkbox, bool)
	Form() (Form, bool)
}
