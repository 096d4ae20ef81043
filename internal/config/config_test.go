package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_FirstRunWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calcli", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned an error: %v", err)
	}
	if cfg.DefaultCalendar != "personal" {
		t.Errorf("default calendar = %q, want personal", cfg.DefaultCalendar)
	}
	if len(cfg.Calendars) != 1 || cfg.Calendars[0].Type != TypeFile {
		t.Errorf("default calendars = %+v", cfg.Calendars)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("default config was not written: %v", err)
	}
	if !strings.Contains(string(data), "default_calendar: personal") {
		t.Errorf("written config does not look like the default:\n%s", data)
	}

	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestLoad_ParsesAllCalendarTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `default_calendar: work
past_years: 2
future_years: 3
auto_sync: false
autosync_cron: "*/10 * * * *"
color: never
calendars:
  - name: personal
    type: file
    paths: ["/tmp/personal.ics"]
    backup: true
  - name: work
    type: gcal
    credentials_path: /tmp/credentials.json
    token_path: /tmp/token.json
    calendar_id: primary
  - name: shared
    type: caldav
    url: https://dav.example.com/cal/
    username: alice
  - name: private
    type: vault
    path: /tmp/private.vault
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile returned an error: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned an error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned an error: %v", err)
	}

	if cfg.DefaultCalendar != "work" || cfg.PastYears != 2 || cfg.FutureYears != 3 {
		t.Errorf("top-level fields = %q / %d / %d", cfg.DefaultCalendar, cfg.PastYears, cfg.FutureYears)
	}
	if cfg.AutoSync {
		t.Error("auto_sync: false was not honored")
	}
	if cfg.AutoSyncCron != "*/10 * * * *" {
		t.Errorf("autosync_cron = %q", cfg.AutoSyncCron)
	}
	if len(cfg.Calendars) != 4 {
		t.Fatalf("calendars = %d, want 4", len(cfg.Calendars))
	}

	caldav, err := cfg.Find("shared")
	if err != nil {
		t.Fatalf("Find returned an error: %v", err)
	}
	if caldav.URL != "https://dav.example.com/cal/" || caldav.Username != "alice" {
		t.Errorf("caldav calendar = %+v", caldav)
	}
}

func TestNormalize(t *testing.T) {
	cfg := &Config{Calendars: []Calendar{{Name: "only", Type: TypeFile, Paths: []string{"x.ics"}}}}
	cfg.Normalize()

	if cfg.PastYears != 5 || cfg.FutureYears != 5 {
		t.Errorf("window defaults = %d / %d, want 5 / 5", cfg.PastYears, cfg.FutureYears)
	}
	if cfg.Color != "auto" {
		t.Errorf("color default = %q", cfg.Color)
	}
	if cfg.DefaultCalendar != "only" {
		t.Errorf("default calendar = %q, want the single configured one", cfg.DefaultCalendar)
	}
}

func TestNormalize_ExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	cfg := &Config{Calendars: []Calendar{
		{Name: "f", Type: TypeFile, Paths: []string{"~/.calcli/cal.ics"}},
		{Name: "v", Type: TypeVault, Path: "~/.calcli/p.vault"},
	}}
	cfg.Normalize()

	if want := filepath.Join(home, ".calcli", "cal.ics"); cfg.Calendars[0].Paths[0] != want {
		t.Errorf("file path = %q, want %q", cfg.Calendars[0].Paths[0], want)
	}
	if want := filepath.Join(home, ".calcli", "p.vault"); cfg.Calendars[1].Path != want {
		t.Errorf("vault path = %q, want %q", cfg.Calendars[1].Path, want)
	}
}

func TestValidate_Rejections(t *testing.T) {
	base := func() *Config {
		return &Config{
			DefaultCalendar: "a",
			PastYears:       5,
			FutureYears:     5,
			Color:           "auto",
			Calendars:       []Calendar{{Name: "a", Type: TypeFile, Paths: []string{"a.ics"}}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no calendars", func(c *Config) { c.Calendars = nil }, "no calendars"},
		{"unnamed calendar", func(c *Config) { c.Calendars[0].Name = "" }, "no name"},
		{"unknown type", func(c *Config) { c.Calendars[0].Type = "ftp" }, "unknown type"},
		{"file without path", func(c *Config) { c.Calendars[0].Paths = nil }, "at least one path"},
		{"duplicate names", func(c *Config) {
			c.Calendars = append(c.Calendars, Calendar{Name: "a", Type: TypeFile, Paths: []string{"b.ics"}})
		}, "duplicate"},
		{"missing default", func(c *Config) { c.DefaultCalendar = "nope" }, "not configured"},
		{"bad color", func(c *Config) { c.Color = "sometimes" }, "color"},
		{"caldav without url", func(c *Config) {
			c.Calendars[0] = Calendar{Name: "a", Type: TypeCalDAV, Username: "u"}
		}, "url"},
		{"gcal without token path", func(c *Config) {
			c.Calendars[0] = Calendar{Name: "a", Type: TypeGoogle, CredentialsPath: "c.json"}
		}, "token_path"},
		{"vault without path", func(c *Config) {
			c.Calendars[0] = Calendar{Name: "a", Type: TypeVault}
		}, "path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestFind(t *testing.T) {
	cfg := &Config{
		DefaultCalendar: "b",
		Calendars: []Calendar{
			{Name: "a", Type: TypeFile, Paths: []string{"a.ics"}},
			{Name: "b", Type: TypeFile, Paths: []string{"b.ics"}},
		},
	}

	cal, err := cfg.Find("")
	if err != nil {
		t.Fatalf("Find returned an error: %v", err)
	}
	if cal.Name != "b" {
		t.Errorf("empty name resolved to %q, want the default", cal.Name)
	}

	cal, err = cfg.Find("a")
	if err != nil {
		t.Fatalf("Find returned an error: %v", err)
	}
	if cal.Name != "a" {
		t.Errorf("Find(a) = %q", cal.Name)
	}

	if _, err := cfg.Find("missing"); err == nil {
		t.Error("Find of an unknown calendar succeeded")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.DefaultCalendar = "renamed"
	cfg.Calendars[0].Name = "renamed"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save returned an error: %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned an error: %v", err)
	}
	if back.DefaultCalendar != "renamed" {
		t.Errorf("round trip default calendar = %q", back.DefaultCalendar)
	}
}

func TestLoadGoogleCredentials(t *testing.T) {
	dir := t.TempDir()

	installed := filepath.Join(dir, "installed.json")
	os.WriteFile(installed, []byte(`{"installed":{"client_id":"id1","client_secret":"sec1"}}`), 0600)
	id, secret, err := LoadGoogleCredentials(installed)
	if err != nil {
		t.Fatalf("LoadGoogleCredentials returned an error: %v", err)
	}
	if id != "id1" || secret != "sec1" {
		t.Errorf("installed credentials = %q / %q", id, secret)
	}

	web := filepath.Join(dir, "web.json")
	os.WriteFile(web, []byte(`{"web":{"client_id":"id2","client_secret":"sec2"}}`), 0600)
	id, secret, err = LoadGoogleCredentials(web)
	if err != nil {
		t.Fatalf("LoadGoogleCredentials returned an error: %v", err)
	}
	if id != "id2" || secret != "sec2" {
		t.Errorf("web credentials = %q / %q", id, secret)
	}

	empty := filepath.Join(dir, "empty.json")
	os.WriteFile(empty, []byte(`{}`), 0600)
	if _, _, err := LoadGoogleCredentials(empty); err == nil {
		t.Error("LoadGoogleCredentials accepted a file without client sections")
	}

	if _, _, err := LoadGoogleCredentials(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("LoadGoogleCredentials accepted a missing file")
	}
}
