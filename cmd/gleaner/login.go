package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/gleaner/internal/sources/browser"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Capture a browser session for the jobboard source",
	Long: `Opens a visible browser at the login page. Sign in by hand; once the
browser reaches the success URL the cookies and localStorage are written to the
paths in the [browser] config section.`,
	RunE: runLogin,
}

var (
	loginURL      string
	successPrefix string
)

func init() {
	loginCmd.Flags().StringVar(&loginURL, "url", "", "Login page URL (default {jobboard.base_url}/login)")
	loginCmd.Flags().StringVar(&successPrefix, "success-prefix", "", "URL prefix that marks a completed login (default {jobboard.base_url}/feed)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	base := strings.TrimRight(config.JobBoard.BaseURL, "/")
	if loginURL == "" {
		loginURL = base + "/login"
	}
	if successPrefix == "" {
		successPrefix = base + "/feed"
	}
	if !strings.HasPrefix(loginURL, "http") {
		return fmt.Errorf("login url %q is not absolute; set --url or jobboard.base_url", loginURL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := browser.CaptureLogin(ctx, config.Browser, browser.LoginOptions{
		LoginURL:      loginURL,
		SuccessPrefix: successPrefix,
	}, logger); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "session saved to %s and %s\n", config.Browser.CookiesPath, config.Browser.LocalStoragePath)
	return nil
}
