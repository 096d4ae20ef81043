package main

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"

	"calcli/internal/auth"
	"calcli/internal/config"
	"calcli/internal/store"
	"calcli/internal/store/caldav"
	"calcli/internal/store/file"
	"calcli/internal/store/gcal"
	"calcli/internal/store/vault"
)

// backendFactory builds backends from the typed calendar configuration.
// Opened backends are cached by name so the shell session and a mirror
// run share one instance.
type backendFactory struct {
	ctx    context.Context
	cfg    *config.Config
	opened map[string]store.Backend
}

func newBackendFactory(ctx context.Context, cfg *config.Config) *backendFactory {
	return &backendFactory{ctx: ctx, cfg: cfg, opened: make(map[string]store.Backend)}
}

// Open returns the backend for a configured calendar name. Credentials
// missing from the config are prompted for here, once per calendar.
func (f *backendFactory) Open(name string) (store.Backend, error) {
	cal, err := f.cfg.Find(name)
	if err != nil {
		return nil, err
	}
	if b, ok := f.opened[cal.Name]; ok {
		return b, nil
	}

	var backend store.Backend
	switch cal.Type {
	case config.TypeFile:
		backend, err = file.New(cal.Name, cal.Paths, cal.Backup)

	case config.TypeCalDAV:
		password := cal.Password
		if password == "" {
			password, err = auth.PromptSecret(fmt.Sprintf("Password for %s@%s: ", cal.Username, cal.URL))
			if err != nil {
				return nil, err
			}
		}
		backend, err = caldav.New(cal.Name, cal.URL, cal.Username, password)

	case config.TypeGoogle:
		backend, err = f.openGoogle(cal)

	case config.TypeVault:
		var passphrase string
		passphrase, err = auth.PromptSecret(fmt.Sprintf("Passphrase for vault %q: ", cal.Name))
		if err != nil {
			return nil, err
		}
		backend, err = vault.New(cal.Name, cal.Path, []byte(passphrase))

	default:
		return nil, fmt.Errorf("calendar %q: unknown type %q", cal.Name, cal.Type)
	}
	if err != nil {
		return nil, err
	}

	f.opened[cal.Name] = backend
	return backend, nil
}

func (f *backendFactory) openGoogle(cal *config.Calendar) (store.Backend, error) {
	clientID, clientSecret, err := config.LoadGoogleCredentials(cal.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("calendar %q: %w", cal.Name, err)
	}

	oauthConfig := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  "http://127.0.0.1:8080",
		Scopes: []string{
			calendar.CalendarScope,
			calendar.CalendarEventsScope,
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}

	tokenStore := auth.NewFileTokenStore(cal.TokenPath)
	httpClient, err := auth.GetAuthenticatedClient(f.ctx, oauthConfig, tokenStore)
	if err != nil {
		return nil, fmt.Errorf("calendar %q: %w", cal.Name, err)
	}

	return gcal.New(f.ctx, httpClient, cal.Name, cal.CalendarID)
}
