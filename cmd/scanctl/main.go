// scanctl inspects and maintains a scanform workstation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"scanwedge/internal/config"
	"scanwedge/internal/form"
	"scanwedge/internal/keystroke"
	"scanwedge/internal/schemavalidation"
	"scanwedge/internal/store"
	"scanwedge/internal/submit"
	"scanwedge/internal/wedge"
)

var (
	configPath = flag.String("config", "", "path to config file")
	limit      = flag.Int("n", 20, "number of entries to show (0 for all)")
	formName   = flag.String("form", "", "restrict records to one form")
	asJSON     = flag.Bool("json", false, "print JSON")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "records":
		err = cmdRecords()
	case "scans":
		err = cmdScans()
	case "stats":
		err = cmdStats()
	case "sync":
		err = cmdSync()
	case "verify":
		err = cmdVerify()
	case "replay":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: scanctl replay <script>")
			os.Exit(1)
		}
		err = cmdReplay(flag.Arg(1))
	case "gen":
		err = cmdGen(flag.Args()[1:])
	case "check-config":
		err = cmdCheckConfig()
	case "schema":
		err = cmdSchema()
	case "devices":
		err = cmdDevices()
	case "migrate":
		err = cmdMigrate()
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `scanctl - Maintenance utility for scanform

Usage: scanctl [options] <command> [args]

Commands:
  records          List stored records, newest first
  scans            List recent scanner bursts
  stats            Show record and scan counts
  sync             Re-send records the backend has not acknowledged
  verify           Check stored records against their fingerprints
  replay <script>  Run a key script through the scan classifier
  gen [options]    Write a synthetic key script (-profile, -records, -seed)
  check-config     Validate the configuration file
  schema           Print the JSON Schema of the configured form
  devices          List input devices that could be a scanner
  migrate          Show database schema version
  help             Show this help message

Options:
  -config <path>   Path to config file
  -n <count>       Number of entries to show (default 20, 0 for all)
  -form <name>     Restrict records to one form
  -json            Print JSON`)
}

func loadConfig() *config.Config {
	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if _, err := os.Stat(cfg.Storage.Path); os.IsNotExist(err) {
		return nil, fmt.Errorf("no database at %s", cfg.Storage.Path)
	}
	return store.OpenWithTimeout(cfg.Storage.Path, time.Duration(cfg.Storage.BusyTimeoutMs)*time.Millisecond)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdRecords() error {
	st, err := openStore(loadConfig())
	if err != nil {
		return err
	}
	defer st.Close()

	recs, err := st.ListRecords(*formName, *limit)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(recs)
	}
	if len(recs) == 0 {
		fmt.Println("No records.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tFORM\tSTATE\tFIELDS")
	for _, r := range recs {
		state := "synced"
		if !r.Synced {
			state = fmt.Sprintf("pending (%d tries)", r.Attempts)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Form, state, formatFields(r.Fields))
	}
	return w.Flush()
}

func formatFields(fields map[string]any) string {
	data, err := json.Marshal(fields)
	if err != nil {
		return "?"
	}
	return string(data)
}

func cmdScans() error {
	st, err := openStore(loadConfig())
	if err != nil {
		return err
	}
	defer st.Close()

	scans, err := st.ListScans(*limit)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(scans)
	}
	if len(scans) == 0 {
		fmt.Println("No scans.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tCODE\tCHARS\tDURATION")
	for _, s := range scans {
		fmt.Fprintf(w, "%s\t%s\t%q\t%d\t%s\n", s.At.Format("15:04:05.000"), s.Action, s.Code, s.Chars, s.Duration)
	}
	return w.Flush()
}

func cmdStats() error {
	cfg := loadConfig()
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats()
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(stats)
	}
	fmt.Printf("Database: %s\n", cfg.Storage.Path)
	fmt.Printf("  Records:  %d\n", stats.Records)
	fmt.Printf("  Pending:  %d\n", stats.Pending)
	fmt.Printf("  Scans:    %d\n", stats.Scans)
	return nil
}

func cmdSync() error {
	cfg := loadConfig()
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := submit.NewPipeline(st, submit.NewClient(cfg.Backend.URL, cfg.Backend.Timeout()), cfg.Form.Endpoint, nil)
	rep, err := p.Sync(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Printf("Attempted %d, delivered %d, failed %d\n", rep.Attempted, rep.Delivered, rep.Failed)
	if rep.Failed > 0 {
		return fmt.Errorf("%d records still pending", rep.Failed)
	}
	return nil
}

func cmdVerify() error {
	st, err := openStore(loadConfig())
	if err != nil {
		return err
	}
	defer st.Close()

	bad, err := st.VerifyAllRecords()
	if err != nil {
		return err
	}
	if len(bad) == 0 {
		fmt.Println("All records match their fingerprints.")
		return nil
	}
	ids := make([]string, len(bad))
	for i, id := range bad {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Errorf("fingerprint mismatch in records %s", strings.Join(ids, ", "))
}

// printSubmitter stands in for the backend during a replay.
type printSubmitter struct{ n int }

func (p *printSubmitter) Submit(_ context.Context, name string, fields map[string]any) (string, error) {
	p.n++
	fmt.Printf("  submit %s %s\n", name, formatFields(fields))
	return "", nil
}

func cmdReplay(path string) error {
	cfg := loadConfig()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	script, err := keystroke.ParseScript(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	wc, err := cfg.Scanner.Wedge()
	if err != nil {
		return err
	}
	validator, err := schemavalidation.ForForm(cfg.Form)
	if err != nil {
		return err
	}

	posts := make(chan func(), 4)
	sub := &printSubmitter{}
	page, err := form.New(cfg.Form, form.Options{
		Submitter: sub,
		Validator: validator,
		Post:      func(fn func()) bool { posts <- fn; return true },
		OnStatus: func(s form.Status) {
			fmt.Printf("  status ok=%v %s\n", s.OK, s.Message)
		},
	})
	if err != nil {
		return err
	}
	page.FocusFirst()

	sched := wedge.NewManualScheduler(time.Now())
	ctl, err := wedge.NewController(wc, page, sched, nil)
	if err != nil {
		return err
	}

	start := sched.Now()
	script.Drive(sched, 2*wc.IdleTimeout, func(ev wedge.KeyEvent) {
		d := page.Deliver(ctl, ev)
		if b := d.Burst; b != nil {
			fmt.Printf("%8s  %-7s %-24q rule=%s chars=%d in %s\n",
				ev.Time.Sub(start).Round(time.Millisecond), b.Action, b.Code, b.Rule, b.Chars, b.Duration())
		}
		for page.Pending() {
			(<-posts)()
		}
	})

	fmt.Println("Final values:")
	values := page.Values()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, fld := range page.Fields() {
		fmt.Fprintf(w, "  %s\t%q\n", fld.Name(), fld.Value())
	}
	if cb := page.Flag(); cb != nil {
		fmt.Fprintf(w, "  %s\t%v\n", cb.Name(), values[cb.Name()])
	}
	if err := w.Flush(); err != nil {
		return err
	}

	st := ctl.Stats()
	fmt.Printf("Bursts %d, abandoned %d, manual enter %d, suppressed %d, submitted %d\n",
		st.Finalized, st.Abandoned, st.ManualEnter, st.Suppressed, sub.n)
	return nil
}

func cmdGen(args []string) error {
	fs := flag.NewFlagSet("gen", flag.ContinueOnError)
	profileName := fs.String("profile", "mixed", "generator profile")
	records := fs.Int("records", 10, "records to generate")
	seed := fs.Int64("seed", 0, "random seed (0 uses the clock)")
	list := fs.Bool("list", false, "list profiles")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *list {
		names := make([]string, 0, len(keystroke.Profiles))
		for name := range keystroke.Profiles {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-14s %s\n", name, keystroke.Profiles[name].Description)
		}
		return nil
	}

	p, ok := keystroke.Profiles[*profileName]
	if !ok {
		return fmt.Errorf("unknown profile %q (try -list)", *profileName)
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	wc, err := loadConfig().Scanner.Wedge()
	if err != nil {
		return err
	}
	var flagCode, submitCode string
	for _, c := range wc.Codes {
		switch {
		case c.Action == wedge.ActionFlag && flagCode == "":
			flagCode = c.Code
		case c.Action == wedge.ActionSubmit && submitCode == "":
			submitCode = c.Code
		}
	}
	if flagCode == "" || submitCode == "" {
		return fmt.Errorf("configuration needs a flag and a submit code")
	}

	script, sum := keystroke.Generate(rand.New(rand.NewSource(*seed)), p, *records, flagCode, submitCode)
	fmt.Printf("# profile %s, seed %d: %d records, %d scans, %d flags, %d typed by hand\n",
		p.Name, *seed, sum.Records, sum.Scans, sum.Flags, sum.Manual)
	return script.Format(os.Stdout)
}

func cmdCheckConfig() error {
	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	fmt.Printf("Config: %s\n", path)

	issues := config.Check(cfg)
	for _, w := range issues.Warnings() {
		fmt.Printf("  warning: %s: %s\n", w.Field, w.Message)
	}
	errs := issues.Errors()
	for _, e := range errs {
		fmt.Printf("  error:   %s: %s\n", e.Field, e.Message)
	}
	if len(errs) > 0 {
		return errs
	}

	if _, err := schemavalidation.ForForm(cfg.Form); err != nil {
		return err
	}
	wc, err := cfg.Scanner.Wedge()
	if err != nil {
		return err
	}
	fmt.Printf("  scan interval %s, idle timeout %s, terminator %s, %d control codes\n",
		wc.ScanInterval, wc.IdleTimeout, wc.Terminator, len(wc.Codes))
	fmt.Println("OK")
	return nil
}

func cmdSchema() error {
	v, err := schemavalidation.ForForm(loadConfig().Form)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(v.Document(), '\n'))
	return err
}

func cmdDevices() error {
	devices, err := keystroke.ListDevices()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tKEYBOARD\tNAME")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%v\t%s\n", d.Path, d.Keyboard, d.Name)
	}
	return w.Flush()
}

func cmdMigrate() error {
	st, err := openStore(loadConfig())
	if err != nil {
		return err
	}
	defer st.Close()

	status, err := store.GetMigrationStatus(st.DB())
	if err != nil {
		return err
	}
	fmt.Printf("Schema version %d of %d\n", status.CurrentVersion, status.LatestVersion)
	for _, m := range status.Pending {
		fmt.Printf("  pending: v%d %s\n", m.Version, m.Description)
	}
	return store.ValidateSchema(st.DB())
}
