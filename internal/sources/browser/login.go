package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
)

// LoginOptions controls an interactive session capture
type LoginOptions struct {
	LoginURL      string
	SuccessPrefix string        // URL prefix reached once login (and any 2FA) completes
	PollInterval  time.Duration // Defaults to one second
}

// CaptureLogin opens a visible browser at the login page, waits for the
// operator to finish signing in, then exports cookies and localStorage to
// the paths in cfg with 0600 permissions.
func CaptureLogin(ctx context.Context, cfg common.BrowserConfig, opts LoginOptions, logger arbor.ILogger) error {
	if opts.LoginURL == "" || opts.SuccessPrefix == "" {
		return fmt.Errorf("login url and success prefix are required")
	}
	if cfg.CookiesPath == "" {
		return fmt.Errorf("browser.cookies_path is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	cookiesPath, storagePath := cfg.CookiesPath, cfg.LocalStoragePath

	// Start from a clean profile and always show the window
	cfg.Headless = false
	cfg.CookiesPath = ""
	cfg.LocalStoragePath = ""

	session := NewSession(cfg, logger)
	if err := session.Open(ctx); err != nil {
		return err
	}
	defer session.Close()

	if err := session.Navigate(ctx, opts.LoginURL); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}

	logger.Info().
		Str("login_url", opts.LoginURL).
		Str("success_prefix", opts.SuccessPrefix).
		Msg("Waiting for login to complete in the browser window")

	if err := waitForPrefix(ctx, session, opts.SuccessPrefix, opts.PollInterval); err != nil {
		return err
	}

	cookies, err := session.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cookies: %w", err)
	}
	if err := saveJSON(cookiesPath, cookies); err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}

	if storagePath != "" {
		storage, err := session.LocalStorage(ctx)
		if err != nil {
			return fmt.Errorf("failed to read local storage: %w", err)
		}
		if err := saveJSON(storagePath, storage); err != nil {
			return fmt.Errorf("failed to save local storage: %w", err)
		}
	}

	logger.Info().
		Int("cookies", len(cookies)).
		Str("cookies_path", cookiesPath).
		Str("local_storage_path", storagePath).
		Msg("Login session captured")
	return nil
}

// locator is the part of Session that waitForPrefix needs
type locator interface {
	Location(ctx context.Context) (string, error)
}

func waitForPrefix(ctx context.Context, l locator, prefix string, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		loc, err := l.Location(ctx)
		if err == nil && strings.HasPrefix(loc, prefix) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("login not completed: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func saveJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return writeJSON(path, v)
}
