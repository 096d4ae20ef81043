// Package config loads and validates the calcli configuration: the set
// of named calendars, the default query window, and shell behavior.
// Precedence is flags > environment > file > defaults; flag and
// environment overrides are applied by the caller, never read here.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Calendar types.
const (
	TypeFile   = "file"
	TypeCalDAV = "caldav"
	TypeGoogle = "gcal"
	TypeVault  = "vault"
)

// Calendar describes one configured backend.
type Calendar struct {
	// Name addresses the calendar from the shell.
	Name string `yaml:"name"`

	// Type is one of "file", "caldav", "gcal", "vault".
	Type string `yaml:"type"`

	// Paths lists the .ics files of a file calendar. One path is
	// writable; several form a read-only union.
	Paths []string `yaml:"paths,omitempty"`

	// Backup keeps a .bak copy before a file calendar is overwritten.
	Backup bool `yaml:"backup,omitempty"`

	// URL is the CalDAV collection URL.
	URL string `yaml:"url,omitempty"`

	// Username and Password are CalDAV basic-auth credentials. An empty
	// password is prompted for at open time.
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// CredentialsPath and TokenPath configure the Google OAuth client.
	CredentialsPath string `yaml:"credentials_path,omitempty"`
	TokenPath       string `yaml:"token_path,omitempty"`

	// CalendarID selects the Google calendar ("primary" when empty).
	CalendarID string `yaml:"calendar_id,omitempty"`

	// Path is the vault file of a vault calendar.
	Path string `yaml:"path,omitempty"`
}

// Config is the top-level configuration.
type Config struct {
	// DefaultCalendar names the calendar commands use when none is given.
	DefaultCalendar string `yaml:"default_calendar"`

	// PastYears and FutureYears bound the default query window around
	// now when a command gives no explicit range.
	PastYears   int `yaml:"past_years"`
	FutureYears int `yaml:"future_years"`

	// AutoSync persists after every successful add/edit/delete.
	AutoSync bool `yaml:"auto_sync"`

	// AutoSyncCron, when set, flushes and refreshes the open calendar on
	// a cron schedule while the shell runs (e.g. "*/10 * * * *").
	AutoSyncCron string `yaml:"autosync_cron,omitempty"`

	// Color controls ANSI color in views: "auto", "always" or "never".
	Color string `yaml:"color"`

	// ASCII replaces box-drawing characters in grids with ASCII art.
	ASCII bool `yaml:"ascii,omitempty"`

	Calendars []Calendar `yaml:"calendars"`
}

// Default returns the in-memory default configuration: a single file
// calendar under the user's home.
func Default() *Config {
	return &Config{
		DefaultCalendar: "personal",
		PastYears:       5,
		FutureYears:     5,
		AutoSync:        true,
		Color:           "auto",
		Calendars: []Calendar{
			{Name: "personal", Type: TypeFile, Paths: []string{"~/.calcli/personal.ics"}, Backup: true},
		},
	}
}

// DefaultPath returns the standard config location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".calcli.yaml"
	}
	return filepath.Join(home, ".calcli", "config.yaml")
}

// Load reads the YAML config at path. A missing file writes the default
// config there first and returns it, so the first run leaves something
// to edit.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		cfg.Normalize()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes the config atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Normalize fills missing values with defaults so partial configs keep
// working.
func (c *Config) Normalize() {
	if c.PastYears <= 0 {
		c.PastYears = 5
	}
	if c.FutureYears <= 0 {
		c.FutureYears = 5
	}
	if c.Color == "" {
		c.Color = "auto"
	}
	if c.DefaultCalendar == "" && len(c.Calendars) > 0 {
		c.DefaultCalendar = c.Calendars[0].Name
	}
	for i := range c.Calendars {
		for j, p := range c.Calendars[i].Paths {
			c.Calendars[i].Paths[j] = expandHome(p)
		}
		c.Calendars[i].Path = expandHome(c.Calendars[i].Path)
		c.Calendars[i].TokenPath = expandHome(c.Calendars[i].TokenPath)
		c.Calendars[i].CredentialsPath = expandHome(c.Calendars[i].CredentialsPath)
	}
}

// Validate checks the whole config: every calendar valid, names unique,
// the default calendar present.
func (c *Config) Validate() error {
	if len(c.Calendars) == 0 {
		return fmt.Errorf("no calendars configured")
	}

	seen := make(map[string]bool)
	for i := range c.Calendars {
		cal := &c.Calendars[i]
		if err := cal.Validate(); err != nil {
			return err
		}
		if seen[cal.Name] {
			return fmt.Errorf("duplicate calendar name %q", cal.Name)
		}
		seen[cal.Name] = true
	}

	if !seen[c.DefaultCalendar] {
		return fmt.Errorf("default calendar %q is not configured", c.DefaultCalendar)
	}
	switch c.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("color must be auto, always or never, got %q", c.Color)
	}
	return nil
}

// Validate checks the per-type required fields of one calendar.
func (cal *Calendar) Validate() error {
	if cal.Name == "" {
		return fmt.Errorf("calendar has no name")
	}
	switch cal.Type {
	case TypeFile:
		if len(cal.Paths) == 0 {
			return fmt.Errorf("calendar %q: file calendar needs at least one path", cal.Name)
		}
	case TypeCalDAV:
		if cal.URL == "" {
			return fmt.Errorf("calendar %q: caldav calendar needs a url", cal.Name)
		}
		if cal.Username == "" {
			return fmt.Errorf("calendar %q: caldav calendar needs a username", cal.Name)
		}
	case TypeGoogle:
		if cal.CredentialsPath == "" {
			return fmt.Errorf("calendar %q: gcal calendar needs a credentials_path", cal.Name)
		}
		if cal.TokenPath == "" {
			return fmt.Errorf("calendar %q: gcal calendar needs a token_path", cal.Name)
		}
	case TypeVault:
		if cal.Path == "" {
			return fmt.Errorf("calendar %q: vault calendar needs a path", cal.Name)
		}
	default:
		return fmt.Errorf("calendar %q: unknown type %q (expected file, caldav, gcal or vault)", cal.Name, cal.Type)
	}
	return nil
}

// Find returns the calendar with the given name, or the default
// calendar when name is empty.
func (c *Config) Find(name string) (*Calendar, error) {
	if name == "" {
		name = c.DefaultCalendar
	}
	for i := range c.Calendars {
		if c.Calendars[i].Name == name {
			return &c.Calendars[i], nil
		}
	}
	return nil, fmt.Errorf("no calendar named %q in config", name)
}

func expandHome(p string) string {
	if p == "~" || len(p) >= 2 && p[0] == '~' && p[1] == '/' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}

// GoogleCredentials is the shape of a Google OAuth credentials JSON
// file as downloaded from the Cloud Console.
type GoogleCredentials struct {
	Installed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"installed"`
	Web struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"web"`
}

// LoadGoogleCredentials reads the OAuth client id and secret from a
// credentials JSON file, trying the "installed" section first.
func LoadGoogleCredentials(path string) (clientID, clientSecret string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds GoogleCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", "", fmt.Errorf("failed to parse credentials file: %w", err)
	}

	if creds.Installed.ClientID != "" {
		return creds.Installed.ClientID, creds.Installed.ClientSecret, nil
	}
	if creds.Web.ClientID != "" {
		return creds.Web.ClientID, creds.Web.ClientSecret, nil
	}
	return "", "", fmt.Errorf("no client_id found in credentials file (expected 'installed' or 'web' section)")
}
