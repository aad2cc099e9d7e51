// Package gcal syncs meetings from Google Calendar into the hub. Events are
// read in a window around now, converted to model.CalendarEvent and upserted
// through the hub so client matching runs on every sync.
package gcal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/KafClaw/clienthub/internal/secrets"
)

// Scopes requested by clienthub. Sync never writes to the calendar.
var Scopes = []string{calendar.CalendarReadonlyScope}

// OAuthConfig reads an OAuth client secret file downloaded from the Google
// Cloud console.
func OAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read client secret file %s: %w", credentialsFile, err)
	}
	cfg, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secret file: %w", err)
	}
	return cfg, nil
}

// AuthURL returns the consent URL for a first authorization. Offline access
// makes Google return a refresh token.
func AuthURL(cfg *oauth2.Config) string {
	return cfg.AuthCodeURL("clienthub", oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for a token and stores it.
func Exchange(ctx context.Context, cfg *oauth2.Config, code, tokenFile string) error {
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	return SaveToken(tokenFile, tok)
}

// TokenFromFile reads an oauth2.Token written by SaveToken. Unencrypted
// token files are still accepted.
func TokenFromFile(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	plain, err := secrets.Open(data)
	if err != nil {
		return nil, fmt.Errorf("unseal token %s: %w", path, err)
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(plain, tok); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", path, err)
	}
	return tok, nil
}

// SaveToken encrypts tok and writes it to path, readable by the owner only.
func SaveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	plain, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	sealed, err := secrets.Seal(plain)
	if err != nil {
		return fmt.Errorf("seal token: %w", err)
	}
	if err := os.WriteFile(path, sealed, 0600); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// NewService builds an authenticated Calendar service from a client secret
// and a previously saved token. The returned client refreshes the access
// token on its own.
func NewService(ctx context.Context, credentialsFile, tokenFile string) (*calendar.Service, error) {
	cfg, err := OAuthConfig(credentialsFile)
	if err != nil {
		return nil, err
	}
	tok, err := TokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("no calendar token (run `clienthub gcal auth`): %w", err)
	}
	srv, err := calendar.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return srv, nil
}
