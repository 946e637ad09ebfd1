// scanform is the packing-station workstation. It shows the entry form in
// the terminal and tells barcode-scanner bursts apart from typing:
//
//	scan a package label    fills the focused field and selects it
//	scan the flag code      ticks the flag checkbox
//	scan the submit code    submits the form
//
// Records are kept in a local database until the backend acknowledges
// them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"

	"scanwedge/internal/config"
	"scanwedge/internal/feedback"
	"scanwedge/internal/form"
	"scanwedge/internal/keystroke"
	"scanwedge/internal/logging"
	"scanwedge/internal/loop"
	"scanwedge/internal/schemavalidation"
	"scanwedge/internal/store"
	"scanwedge/internal/submit"
	"scanwedge/internal/tui"
	"scanwedge/internal/wedge"
)

var (
	configPath = flag.String("config", "", "path to config file")
	devicePath = flag.String("device", "", "scanner input device (overrides config)")
	noSound    = flag.Bool("no-sound", false, "disable audible feedback")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scanform: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *devicePath != "" {
		cfg.Device.Enabled = true
		cfg.Device.Path = *devicePath
	}
	if *noSound {
		cfg.Feedback.Enabled = false
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()
	logging.SetDefault(logger)
	log := logger.Logger

	st, err := store.OpenWithTimeout(cfg.Storage.Path, time.Duration(cfg.Storage.BusyTimeoutMs)*time.Millisecond)
	if err != nil {
		return err
	}
	defer st.Close()

	validator, err := schemavalidation.ForForm(cfg.Form)
	if err != nil {
		return err
	}
	wc, err := cfg.Scanner.Wedge()
	if err != nil {
		return err
	}

	pipeline := submit.NewPipeline(st, submit.NewClient(cfg.Backend.URL, cfg.Backend.Timeout()), cfg.Form.Endpoint, log)
	notifier := feedback.New(cfg.Feedback, log)
	defer notifier.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("open terminal: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("init terminal: %w", err)
	}
	defer screen.Fini()

	lp := loop.New(0)
	app := tui.New(screen, lp, log)

	page, err := form.New(cfg.Form, form.Options{
		Submitter: pipeline,
		Validator: validator,
		Post:      app.Post,
		Timeout:   cfg.Backend.Timeout() + time.Second,
		Logger:    log,
		OnStatus: func(s form.Status) {
			if s.OK {
				notifier.Success()
			} else {
				notifier.Failure()
			}
		},
	})
	if err != nil {
		return err
	}
	ctl, err := wedge.NewController(wc, page, app.Scheduler(), log)
	if err != nil {
		return err
	}
	app.Bind(page, ctl)
	scans := store.NewScanLog(st, 256, log)
	defer scans.Close()
	app.OnBurst = func(b *wedge.Burst) { scans.Record(scanEntry(b)) }

	loader.OnChange(func(c *config.Config) {
		next, err := c.Scanner.Wedge()
		if err != nil {
			log.Warn("ignoring scanner config", "error", err)
			return
		}
		app.Post(func() {
			if err := ctl.Configure(next); err != nil {
				log.Warn("reconfigure controller", "error", err)
				return
			}
			log.Info("scanner config reloaded", "rules", ctl.Rules())
		})
	})
	if err := loader.Watch(); err != nil {
		log.Warn("config hot reload disabled", "error", err)
	}
	defer loader.Close()
	go func() {
		for {
			select {
			case err := <-loader.Errors():
				log.Warn("config reload failed", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()

	if cfg.Device.Enabled {
		src, err := startDevice(ctx, cfg.Device, app, log)
		if err != nil {
			log.Warn("scanner device unavailable, using terminal input only", "error", err)
		} else {
			defer src.Stop()
		}
	}

	if cfg.Backend.SyncOnStart {
		go func() {
			if _, err := pipeline.Sync(ctx, -1); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("startup sync failed", "error", err)
			}
		}()
	}

	log.Info("workstation started", "form", cfg.Form.Name, "backend", cfg.Backend.URL, "rules", ctl.Rules())
	err = app.Run(ctx)
	log.Info("workstation stopped", "stats", ctl.Stats())
	return err
}

// newLogger never writes to the terminal, which belongs to the form.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lc, err := cfg.Logging.Logger("scanform")
	if err != nil {
		return nil, err
	}
	switch lc.Output {
	case "stdout", "stderr", "both":
		lc.Output = "file"
	}
	if lc.Output == "file" && lc.FilePath == "" {
		lc.FilePath = logging.DefaultLogPath("scanform")
	}
	return logging.New(lc)
}

func startDevice(ctx context.Context, dc config.DeviceConfig, app *tui.App, log *slog.Logger) (keystroke.Source, error) {
	path, err := keystroke.ResolveDevice(dc.Path, dc.Name)
	if err != nil {
		return nil, err
	}
	src := keystroke.NewEvdevSource(path, dc.Grab)
	if err := src.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("reading scanner device", "path", path, "grab", dc.Grab)

	go func() {
		for ev := range src.Events() {
			ev := ev
			if !app.Post(func() { app.Deliver(ev) }) {
				return
			}
		}
		if err := src.Err(); err != nil {
			log.Warn("scanner device stopped", "error", err)
		}
	}()
	return src, nil
}

func scanEntry(b *wedge.Burst) store.ScanEntry {
	return store.ScanEntry{
		At:       b.Ended,
		Action:   b.Action.String(),
		Rule:     b.Rule,
		Code:     b.Code,
		Value:    b.Value,
		Chars:    b.Chars,
		Duration: b.Duration(),
	}
}
