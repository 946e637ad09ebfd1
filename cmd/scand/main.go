// scand receives form records from scanform workstations and stores them.
//
//	POST /api/forms/{form}          store one record
//	GET  /api/forms/{form}/records  list recent records
//	GET  /api/forms/{form}/schema   field schema of a form
//	GET  /api/stats                 record counts
//	GET  /health                    component health
//	GET  /metrics                   Prometheus metrics
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scanwedge/internal/api"
	"scanwedge/internal/config"
	"scanwedge/internal/logging"
	"scanwedge/internal/schemavalidation"
	"scanwedge/internal/store"
)

var (
	configPath = flag.String("config", "", "path to config file")
	addr       = flag.String("addr", "", "listen address (overrides config)")
	dbPath     = flag.String("db", "", "database path (overrides config)")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scand: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.NewLoader(path).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Server.DatabasePath = *dbPath
	}

	lc, err := cfg.Logging.Logger("scand")
	if err != nil {
		return err
	}
	if lc.Output == "file" {
		lc.Output = "both"
	}
	if lc.FilePath == "" || lc.FilePath == logging.DefaultLogPath("scanform") {
		lc.FilePath = logging.DefaultLogPath("scand")
	}
	logger, err := logging.New(lc)
	if err != nil {
		return err
	}
	defer logger.Close()
	logging.SetDefault(logger)
	log := logger.Logger

	st, err := store.Open(cfg.Server.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	validator, err := schemavalidation.ForForm(cfg.Form)
	if err != nil {
		return err
	}
	var extra []string
	for _, name := range cfg.Server.Forms {
		if name != cfg.Form.Name {
			extra = append(extra, name)
		}
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServer(st, []*schemavalidation.FormValidator{validator}, extra, log).NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr, "db", cfg.Server.DatabasePath, "form", cfg.Form.Name)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
