package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"golang.org/x/term"

	"calcli/internal/config"
	"calcli/internal/log"
	"calcli/internal/repl"
	"calcli/internal/store"
	"calcli/internal/view"
)

func printHelp() {
	fmt.Fprintf(os.Stderr, `calcli — a terminal calendar client

Browse, search, add, edit and delete events — recurring series
included — on any configured backend: local .ics files, CalDAV
collections, Google Calendar, or an encrypted vault file.

USAGE:
    %s [OPTIONS] [COMMAND...]

Without a COMMAND an interactive shell starts; with one, the single
command runs and the program exits (e.g. "%s agenda").

OPTIONS:
    -h, --help            Show this help message and exit
    -config PATH          Config file (default: ~/.calcli/config.yaml;
                          created with defaults on first run)
    -calendar NAME        Calendar to open (default from config)
    -past-years N         Default window: years back from today
    -future-years N       Default window: years forward from today
    -no-auto-sync         Do not persist after each mutation
    -color MODE           ANSI color: auto, always or never
    -ascii                Plain ASCII grids instead of box drawing
    -v                    Verbose diagnostics on stderr

CONFIGURATION:
    A YAML file listing named calendars. Example:

    default_calendar: personal
    past_years: 5
    future_years: 5
    auto_sync: true
    calendars:
      - name: personal
        type: file
        paths: ["~/.calcli/personal.ics"]
        backup: true
      - name: work
        type: gcal
        credentials_path: ~/.calcli/credentials.json
        token_path: ~/.calcli/work-token.json
      - name: shared
        type: caldav
        url: https://caldav.example.com/alice/calendars/shared/
        username: alice
      - name: private
        type: vault
        path: ~/.calcli/private.vault

SHELL COMMANDS:
    agenda(g) calw(w) calm(m) search(s) add(a) edit(e) delete(d)
    sync(y) reload mirror help(h) quit(q) — 'help' for details.

ENVIRONMENT VARIABLES:
    CALCLI_CONFIG         Config file path (overridden by -config)
    CALCLI_CALENDAR       Calendar name (overridden by -calendar)
`, os.Args[0], os.Args[0])
}

func main() {
	helpFlag := flag.Bool("help", false, "Show help message")
	helpFlagShort := flag.Bool("h", false, "Show help message (shorthand)")
	configPath := flag.String("config", "", "Path to YAML config file")
	calendarName := flag.String("calendar", "", "Calendar to open")
	pastYears := flag.Int("past-years", 0, "Default window: years back")
	futureYears := flag.Int("future-years", 0, "Default window: years forward")
	noAutoSync := flag.Bool("no-auto-sync", false, "Do not persist after each mutation")
	colorMode := flag.String("color", "", "ANSI color: auto, always or never")
	asciiArt := flag.Bool("ascii", false, "ASCII grids")
	verbose := flag.Bool("v", false, "Verbose diagnostics")
	flag.Parse()

	if *helpFlag || *helpFlagShort {
		printHelp()
		os.Exit(0)
	}

	if *verbose {
		log.SetLevel(log.LevelDebug)
	} else {
		log.SetLevel(log.LevelWarn)
	}

	ctx := context.Background()

	// Precedence: flags > environment > config file > defaults.
	path := *configPath
	if path == "" {
		path = os.Getenv("CALCLI_CONFIG")
	}
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	if *pastYears > 0 {
		cfg.PastYears = *pastYears
	}
	if *futureYears > 0 {
		cfg.FutureYears = *futureYears
	}
	if *noAutoSync {
		cfg.AutoSync = false
	}
	if *colorMode != "" {
		cfg.Color = *colorMode
	}
	if *asciiArt {
		cfg.ASCII = true
	}
	if err := cfg.Validate(); err != nil {
		fatalf("Invalid config: %v", err)
	}

	name := *calendarName
	if name == "" {
		name = os.Getenv("CALCLI_CALENDAR")
	}

	factory := newBackendFactory(ctx, cfg)
	backend, err := factory.Open(name)
	if err != nil {
		fatalf("Failed to open calendar: %v", err)
	}

	session, err := store.Open(backend)
	if err != nil {
		fatalf("Failed to read calendar: %v", err)
	}

	shell := &repl.REPL{
		Session:  session,
		Config:   cfg,
		Factory:  factory.Open,
		AutoSync: cfg.AutoSync,
		Opts: view.Options{
			Color: useColor(cfg.Color),
			ASCII: cfg.ASCII,
		},
		In:  os.Stdin,
		Out: os.Stdout,
	}

	// One-shot mode: run the given command and exit.
	if flag.NArg() > 0 {
		if err := shell.Execute(strings.Join(flag.Args(), " ")); err != nil {
			fatalf("%v", err)
		}
		if session.Dirty() {
			if err := session.Flush(); err != nil {
				fatalf("Failed to persist: %v", err)
			}
		}
		return
	}

	if cfg.AutoSyncCron != "" {
		scheduler := cron.New()
		if _, err := scheduler.AddFunc(cfg.AutoSyncCron, shell.Tick); err != nil {
			fatalf("Bad autosync_cron %q: %v", cfg.AutoSyncCron, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	if err := shell.Run(); err != nil {
		fatalf("%v", err)
	}
}

func useColor(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return term.IsTerminal(int(os.Stdout.Fd()))
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
