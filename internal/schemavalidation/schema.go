// Package schemavalidation checks form records against JSON Schema. Every
// submission body must match the record envelope, and each form's fields
// must match a schema derived from its configuration.
package schemavalidation

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"scanwedge/internal/config"
)

const (
	draft      = "https://json-schema.org/draft/2020-12/schema"
	envelopeID = "https://scanwedge.local/schema/record-envelope-v1.json"
	formBase   = "https://scanwedge.local/schema/forms/"
)

//go:embed envelope.schema.json
var envelopeSchema []byte

// ErrInvalidRecord is wrapped by every validation failure.
var ErrInvalidRecord = errors.New("invalid record")

// Envelope is a decoded submission body.
type Envelope struct {
	Fields   map[string]any `json:"fields"`
	ClientID string         `json:"client_id,omitempty"`
}

var envelope = mustCompile(envelopeID, envelopeSchema)

func mustCompile(id string, doc []byte) *jsonschema.Schema {
	s, err := compile(id, doc)
	if err != nil {
		panic(err)
	}
	return s
}

func compile(id string, doc []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true
	if err := compiler.AddResource(id, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	s, err := compiler.Compile(id)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return s, nil
}

// DecodeEnvelope parses and validates a submission body.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if err := envelope.Validate(instance); err != nil {
		return nil, wrap(err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return &env, nil
}

// FormValidator validates the fields of one form.
type FormValidator struct {
	name   string
	doc    []byte
	schema *jsonschema.Schema
}

// ForForm builds the field schema for fc and compiles it.
func ForForm(fc config.FormConfig) (*FormValidator, error) {
	doc, err := json.MarshalIndent(FormSchema(fc), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode form schema: %w", err)
	}
	s, err := compile(formBase+fc.Name+".json", doc)
	if err != nil {
		return nil, fmt.Errorf("form %q: %w", fc.Name, err)
	}
	return &FormValidator{name: fc.Name, doc: doc, schema: s}, nil
}

// Name returns the form name.
func (v *FormValidator) Name() string { return v.name }

// Document returns the generated schema.
func (v *FormValidator) Document() []byte { return v.doc }

// Validate checks fields. Values must be JSON types; strings and booleans
// are what forms produce.
func (v *FormValidator) Validate(fields map[string]any) error {
	instance := make(map[string]any, len(fields))
	for k, val := range fields {
		instance[k] = val
	}
	if err := v.schema.Validate(instance); err != nil {
		return wrap(err)
	}
	return nil
}

// FormSchema describes fc's fields as a JSON Schema document. Required
// fields must be non-empty; read-only fields may be omitted.
func FormSchema(fc config.FormConfig) map[string]any {
	props := make(map[string]any, len(fc.Fields)+1)
	required := []string{}
	for _, f := range fc.Fields {
		p := map[string]any{"type": "string"}
		if f.Label != "" {
			p["title"] = f.Label
		}
		if f.MaxLength > 0 {
			p["maxLength"] = f.MaxLength
		}
		if f.Pattern != "" {
			p["pattern"] = f.Pattern
		}
		if f.Required {
			p["minLength"] = 1
			required = append(required, f.Name)
		}
		props[f.Name] = p
	}
	if fc.Flag != "" {
		props[fc.Flag] = map[string]any{"type": "boolean"}
	}

	doc := map[string]any{
		"$schema":              draft,
		"$id":                  formBase + fc.Name + ".json",
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
	if fc.Title != "" {
		doc["title"] = fc.Title
	}
	return doc
}

// Violation is one failed keyword.
type Violation struct {
	Field   string
	Message string
}

func (v Violation) String() string {
	if v.Field == "" {
		return v.Message
	}
	return v.Field + ": " + v.Message
}

// Error reports every violation of one record.
type Error struct {
	Violations []Violation
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return ErrInvalidRecord.Error() + ": " + strings.Join(parts, "; ")
}

func (e *Error) Unwrap() error { return ErrInvalidRecord }

func wrap(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	var out []Violation
	collect(ve, &out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return &Error{Violations: out}
}

// collect flattens the cause tree to its leaves.
func collect(ve *jsonschema.ValidationError, out *[]Violation) {
	if len(ve.Causes) == 0 {
		field := strings.TrimPrefix(ve.InstanceLocation, "/")
		field = strings.ReplaceAll(field, "/", ".")
		*out = append(*out, Violation{Field: field, Message: ve.Message})
		return
	}
	for _, c := range ve.Causes {
		collect(c, out)
	}
}
