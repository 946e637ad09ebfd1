package schemavalidation

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"scanwedge/internal/config"
)

type schemaCase struct {
	name         string
	schemaID     string
	schemaPath   string
	instancePath string
}

func TestSchemaValidation(t *testing.T) {
	cases := []schemaCase{
		{
			name:         "record-envelope",
			schemaID:     envelopeID,
			schemaPath:   "envelope.schema.json",
			instancePath: filepath.Join("testdata", "abnormal-record.json"),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			validateInstance(t, tc.schemaID, tc.schemaPath, tc.instancePath)
		})
	}
}

func validateInstance(t *testing.T, schemaID, schemaPath, instancePath string) {
	schemaData, err := os.ReadFile(schemaPath)
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}

	instanceData, err := os.ReadFile(instancePath)
	if err != nil {
		t.Fatalf("read instance: %v", err)
	}

	var instance any
	if err := json.Unmarshal(instanceData, &instance); err != nil {
		t.Fatalf("unmarshal instance: %v", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaID, bytes.NewReader(schemaData)); err != nil {
		t.Fatalf("add schema resource: %v", err)
	}
	schema, err := compiler.Compile(schemaID)
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}

	if err := schema.Validate(instance); err != nil {
		t.Fatalf("schema validation failed for %s: %v", filepath.Base(instancePath), err)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "abnormal-record.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	env, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Fields["packageNo"] != "KG2025100100017" {
		t.Errorf("packageNo = %v", env.Fields["packageNo"])
	}
	if env.Fields["abnormal"] != true {
		t.Errorf("abnormal = %v", env.Fields["abnormal"])
	}
	if env.ClientID == "" {
		t.Error("client id not decoded")
	}
}

func TestDecodeEnvelopeRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"fields":`},
		{"missing fields", `{}`},
		{"fields not object", `{"fields": "x"}`},
		{"nested value", `{"fields": {"a": {"b": 1}}}`},
		{"bad field name", `{"fields": {"9lives": "x"}}`},
		{"unknown member", `{"fields": {}, "extra": 1}`},
		{"bad client id", `{"fields": {}, "client_id": "nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tt.body))
			if !errors.Is(err, ErrInvalidRecord) {
				t.Fatalf("err = %v, want ErrInvalidRecord", err)
			}
		})
	}
}

func TestFormValidator(t *testing.T) {
	fc := config.DefaultConfig().Form
	fc.Fields[0].Pattern = `^[A-Z0-9-]+$`

	v, err := ForForm(fc)
	if err != nil {
		t.Fatalf("ForForm: %v", err)
	}
	if v.Name() != "abnormal" {
		t.Errorf("Name() = %q", v.Name())
	}
	if !json.Valid(v.Document()) {
		t.Error("generated schema is not valid JSON")
	}

	ok := map[string]any{"packageNo": "KG-001", "remark": "", "abnormal": true}
	if err := v.Validate(ok); err != nil {
		t.Fatalf("Validate(valid) = %v", err)
	}

	tests := []struct {
		name   string
		fields map[string]any
		field  string
	}{
		{"required empty", map[string]any{"packageNo": "", "abnormal": false}, "packageNo"},
		{"required missing", map[string]any{"remark": "x"}, ""},
		{"pattern", map[string]any{"packageNo": "kg 001"}, "packageNo"},
		{"too long", map[string]any{"packageNo": strings.Repeat("A", 65)}, "packageNo"},
		{"flag type", map[string]any{"packageNo": "A1", "abnormal": "yes"}, "abnormal"},
		{"unknown field", map[string]any{"packageNo": "A1", "weight": "3"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.fields)
			var se *Error
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if !errors.Is(err, ErrInvalidRecord) {
				t.Error("error does not wrap ErrInvalidRecord")
			}
			if len(se.Violations) == 0 {
				t.Fatal("no violations reported")
			}
			if tt.field != "" && se.Violations[0].Field != tt.field {
				t.Errorf("field = %q, want %q", se.Violations[0].Field, tt.field)
			}
		})
	}
}

func TestForFormBadPattern(t *testing.T) {
	fc := config.DefaultConfig().Form
	fc.Fields[0].Pattern = `([`
	if _, err := ForForm(fc); err == nil {
		t.Fatal("expected compile error for invalid pattern")
	}
}
