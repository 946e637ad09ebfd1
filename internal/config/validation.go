package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
)

// ErrInvalidConfig is matched by every ValidationErrors value.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError is one problem with one field.
type ValidationError struct {
	Field   string
	Message string
	Warning bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i := range e {
		msgs[i] = e[i].Error()
	}
	return strings.Join(msgs, "; ")
}

// Is lets errors.Is match ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Warnings returns only the non-fatal issues.
func (e ValidationErrors) Warnings() ValidationErrors {
	var out ValidationErrors
	for _, v := range e {
		if v.Warning {
			out = append(out, v)
		}
	}
	return out
}

// Errors returns only the fatal issues.
func (e ValidationErrors) Errors() ValidationErrors {
	var out ValidationErrors
	for _, v := range e {
		if !v.Warning {
			out = append(out, v)
		}
	}
	return out
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationErrors) warn(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Warning: true})
}

// ValidateConfig returns a ValidationErrors holding every fatal problem, or
// nil. Warnings alone do not fail validation; use Check to see them.
func ValidateConfig(c *Config) error {
	errs := Check(c).Errors()
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Check returns every problem found, warnings included.
func Check(c *Config) ValidationErrors {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors
	validateScanner(&c.Scanner, &errs)
	validateForm(&c.Form, &errs)
	validateBackend(&c.Backend, &errs)
	validateStorage(&c.Storage, &errs)
	validateLogging(&c.Logging, &errs)
	validateFeedback(&c.Feedback, &errs)
	validateDevice(&c.Device, &errs)
	validateServer(&c.Server, &errs)
	return errs
}

func validateScanner(s *ScannerConfig, errs *ValidationErrors) {
	if _, err := s.Wedge(); err != nil {
		errs.add("scanner", "%v", err)
	}
	seen := make(map[string]bool)
	for _, cc := range s.Codes {
		key := cc.Code
		if cc.IgnoreCase {
			key = strings.ToLower(key)
		}
		if seen[key] {
			errs.warn("scanner.codes", "code %q is listed more than once", cc.Code)
		}
		seen[key] = true
	}
}

var formNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func validateForm(f *FormConfig, errs *ValidationErrors) {
	if !formNameRe.MatchString(f.Name) {
		errs.add("form.name", "must be letters, digits, '-' or '_', got %q", f.Name)
	}
	if !strings.HasPrefix(f.Endpoint, "/") {
		errs.add("form.endpoint", "must start with '/', got %q", f.Endpoint)
	}
	if len(f.Fields) == 0 {
		errs.add("form.fields", "at least one field is required")
	}

	names := make(map[string]bool)
	editable := 0
	for i, fc := range f.Fields {
		field := fmt.Sprintf("form.fields[%d]", i)
		switch {
		case fc.Name == "":
			errs.add(field+".name", "required field is missing")
		case names[fc.Name]:
			errs.add(field+".name", "duplicate field %q", fc.Name)
		case fc.Name == f.Flag:
			errs.add(field+".name", "field %q collides with the flag", fc.Name)
		}
		names[fc.Name] = true
		if !fc.ReadOnly {
			editable++
		}
		if fc.Pattern != "" {
			if _, err := regexp.Compile(fc.Pattern); err != nil {
				errs.add(field+".pattern", "invalid regular expression: %v", err)
			}
		}
		if fc.MaxLength < 0 {
			errs.add(field+".max_length", "cannot be negative")
		}
	}
	if len(f.Fields) > 0 && editable == 0 {
		errs.add("form.fields", "at least one field must be editable")
	}
}

func validateBackend(b *BackendConfig, errs *ValidationErrors) {
	if b.URL == "" {
		errs.warn("backend.url", "no backend configured; records stay local")
	} else if !isValidURL(b.URL) {
		errs.add("backend.url", "must be an http or https URL, got %q", b.URL)
	}
	if b.TimeoutMs <= 0 {
		errs.add("backend.timeout_ms", "must be positive")
	}
}

func validateStorage(s *StorageConfig, errs *ValidationErrors) {
	if s.Path == "" {
		errs.add("storage.path", "required field is missing")
	}
	if s.BusyTimeoutMs < 0 {
		errs.add("storage.busy_timeout_ms", "cannot be negative")
	}
}

func validateLogging(l *LoggingConfig, errs *ValidationErrors) {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs.add("logging.level", "invalid log level: %s (valid: debug, info, warn, error)", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		errs.add("logging.format", "invalid log format: %s (valid: text, json)", l.Format)
	}
	switch l.Output {
	case "stdout", "stderr", "none":
	case "file", "both":
		if l.FilePath == "" {
			errs.add("logging.file_path", "file path is required when output is %q", l.Output)
		}
	default:
		errs.add("logging.output", "invalid output: %q (valid: stdout, stderr, file, both, none)", l.Output)
	}
	if l.MaxSizeMB < 1 {
		errs.add("logging.max_size_mb", "max size must be at least 1 MB")
	}
	if l.MaxBackups < 0 {
		errs.add("logging.max_backups", "max backups cannot be negative")
	}
	if l.MaxAgeDays < 0 {
		errs.add("logging.max_age_days", "max age cannot be negative")
	}
}

func validateFeedback(f *FeedbackConfig, errs *ValidationErrors) {
	if !f.Enabled {
		return
	}
	if f.SampleRate < 8000 || f.SampleRate > 192000 {
		errs.add("feedback.sample_rate", "value must be between 8000 and 192000")
	}
	if f.ToneMs < 1 || f.ToneMs > 2000 {
		errs.add("feedback.tone_ms", "value must be between 1 and 2000")
	}
	if f.SuccessHz <= 0 || f.FailureHz <= 0 {
		errs.add("feedback", "tone frequencies must be positive")
	}
}

func validateDevice(d *DeviceConfig, errs *ValidationErrors) {
	if !d.Enabled {
		return
	}
	if d.Path == "" && d.Name == "" {
		errs.add("device", "path or name is required when the device is enabled")
		return
	}
	if d.Path != "" {
		if _, err := os.Stat(d.Path); err != nil {
			errs.warn("device.path", "%v", err)
		}
	}
}

func validateServer(s *ServerConfig, errs *ValidationErrors) {
	if s.Addr == "" {
		errs.add("server.addr", "required field is missing")
	}
	if s.DatabasePath == "" {
		errs.add("server.database_path", "required field is missing")
	}
	for i, name := range s.Forms {
		if !formNameRe.MatchString(name) {
			errs.add(fmt.Sprintf("server.forms[%d]", i), "invalid form name %q", name)
		}
	}
}

func isValidURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
