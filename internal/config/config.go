// Package config handles configuration loading, validation, and hot reload
// for the scanwedge binaries.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"scanwedge/internal/logging"
	"scanwedge/internal/wedge"
)

// Config holds the complete configuration shared by scanform, scand and
// scanctl. Each binary reads the sections it needs.
type Config struct {
	// Scanner tunes burst detection.
	Scanner ScannerConfig `toml:"scanner" json:"scanner" yaml:"scanner"`

	// Form describes the entry form shown by the workstation.
	Form FormConfig `toml:"form" json:"form" yaml:"form"`

	// Backend is where submitted records are posted.
	Backend BackendConfig `toml:"backend" json:"backend" yaml:"backend"`

	// Storage is the workstation's local record database.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	Logging  LoggingConfig  `toml:"logging" json:"logging" yaml:"logging"`
	Feedback FeedbackConfig `toml:"feedback" json:"feedback" yaml:"feedback"`

	// Device optionally reads a dedicated scanner input device.
	Device DeviceConfig `toml:"device" json:"device" yaml:"device"`

	// Server configures the receiving backend (scand).
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// ScannerConfig tunes the wedge controller.
type ScannerConfig struct {
	// ScanIntervalMs is the pacing gate in milliseconds.
	ScanIntervalMs int `toml:"scan_interval_ms" json:"scan_interval_ms" yaml:"scan_interval_ms"`

	// IdleTimeoutMs abandons a burst with no further keys.
	IdleTimeoutMs int `toml:"idle_timeout_ms" json:"idle_timeout_ms" yaml:"idle_timeout_ms"`

	// FocusDelayMs defers focus changes after flag and submit codes.
	FocusDelayMs int `toml:"focus_delay_ms" json:"focus_delay_ms" yaml:"focus_delay_ms"`

	// Terminator is "enter" or "tab".
	Terminator string `toml:"terminator" json:"terminator" yaml:"terminator"`

	// Codes are the reserved control codes.
	Codes []CodeConfig `toml:"codes" json:"codes" yaml:"codes"`

	// SegmentPattern recognizes one structured-payload group.
	SegmentPattern string `toml:"segment_pattern" json:"segment_pattern" yaml:"segment_pattern"`
}

// CodeConfig is one control code.
type CodeConfig struct {
	Code       string `toml:"code" json:"code" yaml:"code"`
	Action     string `toml:"action" json:"action" yaml:"action"`
	IgnoreCase bool   `toml:"ignore_case" json:"ignore_case" yaml:"ignore_case"`
}

// FormConfig describes the entry form.
type FormConfig struct {
	// Name identifies the form to the backend.
	Name string `toml:"name" json:"name" yaml:"name"`

	// Title is shown above the fields.
	Title string `toml:"title" json:"title" yaml:"title"`

	// Endpoint is appended to Backend.URL when posting.
	Endpoint string `toml:"endpoint" json:"endpoint" yaml:"endpoint"`

	Fields []FieldConfig `toml:"fields" json:"fields" yaml:"fields"`

	// Flag is the name of the flag checkbox. Empty disables it.
	Flag      string `toml:"flag" json:"flag" yaml:"flag"`
	FlagLabel string `toml:"flag_label" json:"flag_label" yaml:"flag_label"`
}

// FieldConfig describes one text field.
type FieldConfig struct {
	Name     string `toml:"name" json:"name" yaml:"name"`
	Label    string `toml:"label" json:"label" yaml:"label"`
	Required bool   `toml:"required" json:"required" yaml:"required"`
	ReadOnly bool   `toml:"read_only" json:"read_only" yaml:"read_only"`
	// Pattern is an optional regular expression the value must match.
	Pattern string `toml:"pattern" json:"pattern" yaml:"pattern"`
	// MaxLength caps the value length. Zero means unlimited.
	MaxLength int `toml:"max_length" json:"max_length" yaml:"max_length"`
}

// BackendConfig holds submission settings.
type BackendConfig struct {
	// URL is the backend base URL. Empty keeps records local only.
	URL string `toml:"url" json:"url" yaml:"url"`

	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`

	// SyncOnStart re-posts unsynced records when scanform starts.
	SyncOnStart bool `toml:"sync_on_start" json:"sync_on_start" yaml:"sync_on_start"`
}

// StorageConfig holds the local database settings.
type StorageConfig struct {
	Path          string `toml:"path" json:"path" yaml:"path"`
	BusyTimeoutMs int    `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
}

// FeedbackConfig holds the audible feedback settings.
type FeedbackConfig struct {
	Enabled    bool    `toml:"enabled" json:"enabled" yaml:"enabled"`
	SampleRate int     `toml:"sample_rate" json:"sample_rate" yaml:"sample_rate"`
	ToneMs     int     `toml:"tone_ms" json:"tone_ms" yaml:"tone_ms"`
	SuccessHz  float64 `toml:"success_hz" json:"success_hz" yaml:"success_hz"`
	FailureHz  float64 `toml:"failure_hz" json:"failure_hz" yaml:"failure_hz"`
}

// DeviceConfig selects a dedicated scanner input device.
type DeviceConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is an evdev node such as /dev/input/event5. When empty the first
	// device whose name contains Name is used.
	Path string `toml:"path" json:"path" yaml:"path"`
	Name string `toml:"name" json:"name" yaml:"name"`

	// Grab takes the device exclusively so its keys reach no other program.
	Grab bool `toml:"grab" json:"grab" yaml:"grab"`
}

// ServerConfig holds scand settings.
type ServerConfig struct {
	Addr         string `toml:"addr" json:"addr" yaml:"addr"`
	DatabasePath string `toml:"database_path" json:"database_path" yaml:"database_path"`
	// Forms lists extra form names scand accepts with only the record
	// envelope checked. The configured form is always accepted.
	Forms []string `toml:"forms" json:"forms" yaml:"forms"`
}

// DefaultConfig returns the workstation defaults: the package-exception form
// with a package number, a remark and the abnormal checkbox.
func DefaultConfig() *Config {
	dir := DataDir()
	wc := wedge.DefaultConfig()

	return &Config{
		Scanner: ScannerConfig{
			ScanIntervalMs: int(wc.ScanInterval / time.Millisecond),
			IdleTimeoutMs:  int(wc.IdleTimeout / time.Millisecond),
			FocusDelayMs:   int(wc.FocusDelay / time.Millisecond),
			Terminator:     "enter",
			Codes: []CodeConfig{
				{Code: wedge.DefaultFlagCode, Action: "flag", IgnoreCase: true},
				{Code: wedge.DefaultSubmitCode, Action: "submit"},
			},
			SegmentPattern: wedge.DefaultSegmentPattern,
		},
		Form: FormConfig{
			Name:     "abnormal",
			Title:    "Package exception",
			Endpoint: "/api/forms/abnormal",
			Fields: []FieldConfig{
				{Name: "packageNo", Label: "Package No.", Required: true, MaxLength: 64},
				{Name: "remark", Label: "Remark", MaxLength: 256},
			},
			Flag:      "abnormal",
			FlagLabel: "Abnormal",
		},
		Backend: BackendConfig{
			URL:         "http://127.0.0.1:8087",
			TimeoutMs:   5000,
			SyncOnStart: true,
		},
		Storage: StorageConfig{
			Path:          filepath.Join(dir, "scanform.db"),
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "file",
			FilePath:   logging.DefaultLogPath("scanform"),
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Feedback: FeedbackConfig{
			Enabled:    true,
			SampleRate: 44100,
			ToneMs:     120,
			SuccessHz:  1320,
			FailureHz:  220,
		},
		Device: DeviceConfig{
			Name: "Barcode",
			Grab: true,
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8087",
			DatabasePath: filepath.Join(dir, "scand.db"),
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if p := FindConfigFile(); p != "" {
		return p
	}
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// DataDir returns the base data directory. SCANWEDGE_DATA_DIR overrides the
// platform default.
func DataDir() string {
	if envDir := os.Getenv("SCANWEDGE_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// Load reads configuration from path. A missing file yields the defaults.
// TOML, JSON and YAML are chosen by extension. Environment overrides are
// applied but the result is not validated.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the configured files live in.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Storage.Path),
		filepath.Dir(c.Server.DatabasePath),
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies SCANWEDGE_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("SCANWEDGE_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("SCANWEDGE_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("SCANWEDGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SCANWEDGE_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("SCANWEDGE_DEVICE"); v != "" {
		c.Device.Enabled = true
		c.Device.Path = v
	}
	if v := os.Getenv("SCANWEDGE_LISTEN"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("SCANWEDGE_SERVER_DB_PATH"); v != "" {
		c.Server.DatabasePath = v
	}
	c.Scanner.applyEnvOverrides()
}

func (s *ScannerConfig) applyEnvOverrides() {
	idleSet := false
	if ms, ok := envInt("SCANWEDGE_IDLE_TIMEOUT_MS"); ok {
		s.IdleTimeoutMs = ms
		idleSet = true
	}
	if ms, ok := envInt("SCANWEDGE_SCAN_INTERVAL_MS"); ok {
		s.ScanIntervalMs = ms
		// Keep the idle timeout above the gate unless it was set explicitly.
		if !idleSet && s.IdleTimeoutMs <= ms {
			s.IdleTimeoutMs = ms + int((wedge.DefaultIdleTimeout-wedge.DefaultScanInterval)/time.Millisecond)
		}
	}
	if ms, ok := envInt("SCANWEDGE_FOCUS_DELAY_MS"); ok {
		s.FocusDelayMs = ms
	}
	if v := os.Getenv("SCANWEDGE_TERMINATOR"); v != "" {
		s.Terminator = v
	}
	if v := os.Getenv("SCANWEDGE_FLAG_CODE"); v != "" {
		s.setCode("flag", v, true)
	}
	if v := os.Getenv("SCANWEDGE_SUBMIT_CODE"); v != "" {
		s.setCode("submit", v, false)
	}
	if v := os.Getenv("SCANWEDGE_SEGMENT_PATTERN"); v != "" {
		s.SegmentPattern = v
	}
}

// setCode replaces the first code bound to action, or adds one. A new code
// takes ignoreCase; a replaced one keeps its setting.
func (s *ScannerConfig) setCode(action, code string, ignoreCase bool) {
	codes := append([]CodeConfig(nil), s.Codes...)
	for i := range codes {
		if strings.EqualFold(codes[i].Action, action) {
			codes[i].Code = code
			s.Codes = codes
			return
		}
	}
	s.Codes = append(codes, CodeConfig{Code: code, Action: action, IgnoreCase: ignoreCase})
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Scanner:  c.Scanner,
		Form:     c.Form,
		Backend:  c.Backend,
		Storage:  c.Storage,
		Logging:  c.Logging,
		Feedback: c.Feedback,
		Device:   c.Device,
		Server:   c.Server,
	}
	clone.Scanner.Codes = append([]CodeConfig(nil), c.Scanner.Codes...)
	clone.Form.Fields = append([]FieldConfig(nil), c.Form.Fields...)
	clone.Server.Forms = append([]string(nil), c.Server.Forms...)
	return clone
}

// Wedge converts the scanner section into a controller configuration.
func (s ScannerConfig) Wedge() (wedge.Config, error) {
	term, err := wedge.ParseKey(s.Terminator)
	if err != nil {
		return wedge.Config{}, fmt.Errorf("scanner.terminator: %w", err)
	}
	wc := wedge.Config{
		ScanInterval:   time.Duration(s.ScanIntervalMs) * time.Millisecond,
		IdleTimeout:    time.Duration(s.IdleTimeoutMs) * time.Millisecond,
		FocusDelay:     time.Duration(s.FocusDelayMs) * time.Millisecond,
		Terminator:     term,
		SegmentPattern: s.SegmentPattern,
	}
	for i, cc := range s.Codes {
		action, err := wedge.ParseAction(cc.Action)
		if err != nil {
			return wedge.Config{}, fmt.Errorf("scanner.codes[%d]: %w", i, err)
		}
		wc.Codes = append(wc.Codes, wedge.ControlCode{Code: cc.Code, Action: action, IgnoreCase: cc.IgnoreCase})
	}
	if err := wc.Validate(); err != nil {
		return wedge.Config{}, err
	}
	return wc, nil
}

// Logger converts the logging section for the logging package. component
// names the binary.
func (l LoggingConfig) Logger(component string) (*logging.Config, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(l.Format)
	if err != nil {
		return nil, err
	}
	return &logging.Config{
		Level:      level,
		Format:     format,
		Output:     l.Output,
		FilePath:   l.FilePath,
		MaxSize:    int64(l.MaxSizeMB),
		MaxAge:     l.MaxAgeDays,
		MaxBackups: l.MaxBackups,
		Compress:   l.Compress,
		Component:  component,
	}, nil
}

// Timeout returns the backend request timeout.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// Tone returns the feedback tone length.
func (f FeedbackConfig) Tone() time.Duration {
	return time.Duration(f.ToneMs) * time.Millisecond
}

// Encode writes the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("encode TOML: %w", err)
	}
	return buf.Bytes(), nil
}
