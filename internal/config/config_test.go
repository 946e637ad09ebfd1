package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scanwedge/internal/wedge"
)

func TestDefaultConfigIsValid(t *testing.T) {
	t.Setenv("SCANWEDGE_DATA_DIR", t.TempDir())
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	wc, err := cfg.Scanner.Wedge()
	if err != nil {
		t.Fatalf("Wedge: %v", err)
	}
	if wc.ScanInterval != 50*time.Millisecond {
		t.Errorf("scan interval = %v", wc.ScanInterval)
	}
	if wc.IdleTimeout <= wc.ScanInterval {
		t.Errorf("idle timeout %v must exceed scan interval", wc.IdleTimeout)
	}
	if wc.Terminator != wedge.KeyEnter {
		t.Errorf("terminator = %v", wc.Terminator)
	}
	if len(wc.Codes) != 2 {
		t.Fatalf("expected 2 control codes, got %d", len(wc.Codes))
	}
}

func TestDataDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SCANWEDGE_DATA_DIR", dir)

	if got := DataDir(); got != dir {
		t.Errorf("DataDir = %s, want %s", got, dir)
	}
	if !strings.HasPrefix(DefaultConfig().Storage.Path, dir) {
		t.Errorf("storage path not under data dir: %s", DefaultConfig().Storage.Path)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Form.Name != "abnormal" {
		t.Errorf("expected defaults, got form %q", cfg.Form.Name)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
# packing station 3
[scanner]
scan_interval_ms = 30
idle_timeout_ms = 60
terminator = "tab"

[[scanner.codes]]
code = "DONE"
action = "submit"

[form]
name = "receiving"
endpoint = "/api/forms/receiving"

[[form.fields]]
name = "sku"
required = true

[backend]
url = "https://wms.example.test"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Scanner.ScanIntervalMs != 30 || cfg.Scanner.Terminator != "tab" {
		t.Errorf("scanner not decoded: %+v", cfg.Scanner)
	}
	if len(cfg.Scanner.Codes) != 1 || cfg.Scanner.Codes[0].Code != "DONE" {
		t.Errorf("codes = %+v", cfg.Scanner.Codes)
	}
	if len(cfg.Form.Fields) != 1 || cfg.Form.Fields[0].Name != "sku" {
		t.Errorf("fields = %+v", cfg.Form.Fields)
	}
	// Untouched sections keep their defaults.
	if cfg.Backend.TimeoutMs != 5000 {
		t.Errorf("backend timeout = %d", cfg.Backend.TimeoutMs)
	}
}

func TestLoadJSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"config.json": `{"backend": {"url": "http://10.0.0.5:8087", "timeout_ms": 900}}`,
		"config.yaml": "backend:\n  url: http://10.0.0.5:8087\n  timeout_ms: 900\n",
	}
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(content), 0600); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Backend.URL != "http://10.0.0.5:8087" || cfg.Backend.Timeout() != 900*time.Millisecond {
				t.Errorf("backend = %+v", cfg.Backend)
			}
		})
	}
}

func TestLoadUnknownExtensionAutoDetects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanform.conf")
	if err := os.WriteFile(path, []byte(`{"storage": {"path": "/tmp/x.db"}}`), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Path != "/tmp/x.db" {
		t.Errorf("storage path = %s", cfg.Storage.Path)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[scanner\nscan_interval_ms = "), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCANWEDGE_BACKEND_URL", "http://override:1")
	t.Setenv("SCANWEDGE_LOG_LEVEL", "debug")
	t.Setenv("SCANWEDGE_DEVICE", "/dev/input/event9")
	t.Setenv("SCANWEDGE_SCAN_INTERVAL_MS", "35")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.URL != "http://override:1" {
		t.Errorf("backend url = %s", cfg.Backend.URL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s", cfg.Logging.Level)
	}
	if !cfg.Device.Enabled || cfg.Device.Path != "/dev/input/event9" {
		t.Errorf("device = %+v", cfg.Device)
	}
	if cfg.Scanner.ScanIntervalMs != 35 {
		t.Errorf("scan interval = %d", cfg.Scanner.ScanIntervalMs)
	}
}

func TestScanIntervalOverrideRaisesIdleTimeout(t *testing.T) {
	t.Setenv("SCANWEDGE_SCAN_INTERVAL_MS", "120")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scanner.ScanIntervalMs != 120 || cfg.Scanner.IdleTimeoutMs != 150 {
		t.Errorf("interval %d, idle %d; want 120 and 150", cfg.Scanner.ScanIntervalMs, cfg.Scanner.IdleTimeoutMs)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	wc, err := cfg.Scanner.Wedge()
	if err != nil {
		t.Fatal(err)
	}
	if wc.IdleTimeout <= wc.ScanInterval {
		t.Errorf("idle %v not above gate %v", wc.IdleTimeout, wc.ScanInterval)
	}
}

func TestIdleTimeoutOverrideWins(t *testing.T) {
	t.Setenv("SCANWEDGE_SCAN_INTERVAL_MS", "120")
	t.Setenv("SCANWEDGE_IDLE_TIMEOUT_MS", "100")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scanner.IdleTimeoutMs != 100 {
		t.Errorf("idle = %d, want 100", cfg.Scanner.IdleTimeoutMs)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected an explicit idle timeout below the gate to be rejected")
	}
}

func TestScannerEnvOverrides(t *testing.T) {
	t.Setenv("SCANWEDGE_FLAG_CODE", "##DAMAGED##")
	t.Setenv("SCANWEDGE_SUBMIT_CODE", "GO!")
	t.Setenv("SCANWEDGE_SEGMENT_PATTERN", `\[(\d+)\]([^\[\]]*)`)
	t.Setenv("SCANWEDGE_FOCUS_DELAY_MS", "25")
	t.Setenv("SCANWEDGE_TERMINATOR", "tab")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatal(err)
	}
	wc, err := cfg.Scanner.Wedge()
	if err != nil {
		t.Fatal(err)
	}

	codes := map[wedge.Action]wedge.ControlCode{}
	for _, c := range wc.Codes {
		codes[c.Action] = c
	}
	if len(wc.Codes) != 2 {
		t.Errorf("got %d codes, want 2", len(wc.Codes))
	}
	if c := codes[wedge.ActionFlag]; c.Code != "##DAMAGED##" || !c.IgnoreCase {
		t.Errorf("flag code = %+v", c)
	}
	if c := codes[wedge.ActionSubmit]; c.Code != "GO!" {
		t.Errorf("submit code = %+v", c)
	}
	if wc.SegmentPattern != `\[(\d+)\]([^\[\]]*)` {
		t.Errorf("segment pattern = %s", wc.SegmentPattern)
	}
	if wc.FocusDelay != 25*time.Millisecond {
		t.Errorf("focus delay = %v", wc.FocusDelay)
	}
	if wc.Terminator != wedge.KeyTab {
		t.Errorf("terminator = %v", wc.Terminator)
	}

	// The defaults are not touched by the override.
	if DefaultConfig().Scanner.Codes[0].Code != wedge.DefaultFlagCode {
		t.Error("override leaked into DefaultConfig")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scanner.IdleTimeoutMs = 10
	cfg.Form.Name = "bad name"
	cfg.Form.Fields = append(cfg.Form.Fields, FieldConfig{Name: "packageNo"})
	cfg.Backend.URL = "ftp://nowhere"
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("error does not match ErrInvalidConfig: %v", err)
	}
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	fields := make(map[string]bool)
	for _, v := range verrs {
		fields[v.Field] = true
	}
	for _, want := range []string{"scanner", "form.name", "form.fields[2].name", "backend.url", "logging.level"} {
		if !fields[want] {
			t.Errorf("missing error for %s in %v", want, verrs)
		}
	}
}

func TestValidateWarningsDoNotFail(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.URL = ""
	cfg.Device.Enabled = true
	cfg.Device.Path = filepath.Join(t.TempDir(), "event42")

	if err := cfg.Validate(); err != nil {
		t.Fatalf("warnings should not fail validation: %v", err)
	}
	if w := Check(cfg).Warnings(); len(w) != 2 {
		t.Errorf("expected 2 warnings, got %v", w)
	}
}

func TestValidateFlagCollision(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Form.Flag = "remark"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when a field shares the flag name")
	}
}

func TestSaveAndLoadOrCreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if !created {
		t.Error("expected file to be created")
	}

	cfg.Scanner.FocusDelayMs = 45
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	again, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if created {
		t.Error("file should already exist")
	}
	if again.Scanner.FocusDelayMs != 45 {
		t.Errorf("focus delay = %d", again.Scanner.FocusDelayMs)
	}
	if len(again.Form.Fields) != len(cfg.Form.Fields) {
		t.Errorf("fields = %+v", again.Form.Fields)
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Scanner.Codes[0].Code = "CHANGED"
	clone.Form.Fields[0].Name = "changed"

	if cfg.Scanner.Codes[0].Code == "CHANGED" || cfg.Form.Fields[0].Name == "changed" {
		t.Error("Clone shares slices with the original")
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.Path = filepath.Join(dir, "a", "scanform.db")
	cfg.Server.DatabasePath = filepath.Join(dir, "b", "scand.db")
	cfg.Logging.FilePath = filepath.Join(dir, "c", "scanform.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, sub := range []string{"a", "b", "c"} {
		if info, err := os.Stat(filepath.Join(dir, sub)); err != nil || !info.IsDir() {
			t.Errorf("directory %s not created", sub)
		}
	}
}

func TestLoggerConversion(t *testing.T) {
	lc := DefaultConfig().Logging
	lc.Format = "json"
	got, err := lc.Logger("scand")
	if err != nil {
		t.Fatal(err)
	}
	if got.Component != "scand" || got.MaxSize != int64(lc.MaxSizeMB) {
		t.Errorf("logger config = %+v", got)
	}

	lc.Level = "chatty"
	if _, err := lc.Logger("scand"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestLoaderWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := SaveConfig(DefaultConfig(), path); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(path)
	if _, err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	changed := make(chan *Config, 1)
	l.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})
	if err := l.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer l.Close()

	cfg := DefaultConfig()
	cfg.Scanner.ScanIntervalMs = 40
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changed:
		if c.Scanner.ScanIntervalMs != 40 {
			t.Errorf("reloaded interval = %d", c.Scanner.ScanIntervalMs)
		}
		if l.Config().Scanner.ScanIntervalMs != 40 {
			t.Error("loader did not keep the reloaded config")
		}
	case err := <-l.Errors():
		t.Fatalf("reload error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestLoaderRejectsInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := SaveConfig(DefaultConfig(), path); err != nil {
		t.Fatal(err)
	}
	l := NewLoader(path)
	if _, err := l.Load(); err != nil {
		t.Fatal(err)
	}
	if err := l.Watch(); err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	cfg := DefaultConfig()
	cfg.Scanner.ScanIntervalMs = 0
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-l.Errors():
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload error observed")
	}
	if l.Config().Scanner.ScanIntervalMs != 50 {
		t.Error("invalid config replaced the loaded one")
	}
}
