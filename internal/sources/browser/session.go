// Package browser wraps a chromedp session carrying a captured login.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
)

// Session is one browser tab with cookies and localStorage restored.
// Methods are not safe for concurrent use.
type Session struct {
	cfg    common.BrowserConfig
	logger arbor.ILogger

	mu          sync.Mutex
	ctx         context.Context
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
}

// NewSession creates an unopened session
func NewSession(cfg common.BrowserConfig, logger arbor.ILogger) *Session {
	return &Session{cfg: cfg, logger: logger}
}

// AllocatorOptions builds the Chrome flags for cfg
func AllocatorOptions(cfg common.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-gpu", cfg.DisableGPU),
		chromedp.Flag("no-sandbox", cfg.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.Proxy))
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight))
	}
	return opts
}

// Open starts Chrome and restores the stored session
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("browser session already open")
	}

	cookies, err := LoadCookies(s.cfg.CookiesPath)
	if err != nil {
		return err
	}
	storage, err := LoadLocalStorage(s.cfg.LocalStoragePath)
	if err != nil {
		return err
	}
	script, err := LocalStorageScript(storage)
	if err != nil {
		return err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), AllocatorOptions(s.cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// The first Run launches Chrome; it must not carry a timeout or the
	// browser dies with it
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	startCtx, cancel := s.bound(ctx, tabCtx, s.cfg.NavigationTimeout)
	defer cancel()

	now := time.Now()
	err = chromedp.Run(startCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, c := range cookies {
				p := c.Param(now)
				if err := network.SetCookie(p.Name, p.Value).
					WithDomain(p.Domain).
					WithPath(p.Path).
					WithSecure(p.Secure).
					WithHTTPOnly(p.HTTPOnly).
					WithSameSite(p.SameSite).
					WithExpires(p.Expires).
					Do(ctx); err != nil {
					s.logger.Warn().
						Err(err).
						Str("cookie", c.Name).
						Str("domain", p.Domain).
						Msg("Failed to inject cookie")
				}
			}
			if script != "" {
				if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
					return fmt.Errorf("failed to install local storage script: %w", err)
				}
			}
			return nil
		}),
	)
	if err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("failed to start browser: %w", err)
	}

	s.ctx = tabCtx
	s.allocCancel = allocCancel
	s.tabCancel = tabCancel

	s.logger.Info().
		Bool("headless", s.cfg.Headless).
		Bool("proxy", s.cfg.Proxy != "").
		Int("cookies", len(cookies)).
		Int("local_storage", len(storage)).
		Msg("Browser session opened")
	return nil
}

// Close shuts Chrome down; safe on an unopened session
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		return nil
	}
	if err := chromedp.Cancel(s.ctx); err != nil {
		s.logger.Debug().Err(err).Msg("Browser cancel returned error")
	}
	s.tabCancel()
	s.allocCancel()
	s.ctx = nil
	s.logger.Debug().Msg("Browser session closed")
	return nil
}

// Navigate loads url and waits for the document
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, s.cfg.NavigationTimeout, chromedp.Navigate(url))
}

// Location returns the current document URL
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	err := s.run(ctx, s.cfg.WaitTimeout, chromedp.Location(&loc))
	return loc, err
}

// WaitVisible waits for sel to become visible
func (s *Session) WaitVisible(ctx context.Context, sel string) error {
	return s.run(ctx, s.cfg.WaitTimeout, chromedp.WaitVisible(sel, chromedp.ByQuery))
}

// Exists reports whether sel matches anything right now
func (s *Session) Exists(ctx context.Context, sel string) (bool, error) {
	n, err := s.Count(ctx, sel)
	return n > 0, err
}

// Count returns the number of elements matching sel right now
func (s *Session) Count(ctx context.Context, sel string) (int, error) {
	var n int
	err := s.eval(ctx, `document.querySelectorAll(%s).length`, &n, sel)
	return n, err
}

// OuterHTML returns the markup of the first element matching sel
func (s *Session) OuterHTML(ctx context.Context, sel string) (string, error) {
	var html string
	err := s.run(ctx, s.cfg.WaitTimeout, chromedp.OuterHTML(sel, &html, chromedp.ByQuery))
	return html, err
}

// OuterHTMLAll returns the markup of every element matching sel
func (s *Session) OuterHTMLAll(ctx context.Context, sel string) ([]string, error) {
	var out []string
	err := s.eval(ctx, `Array.from(document.querySelectorAll(%s), e => e.outerHTML)`, &out, sel)
	return out, err
}

// Click clicks the first element matching sel
func (s *Session) Click(ctx context.Context, sel string) error {
	return s.run(ctx, s.cfg.WaitTimeout, chromedp.Click(sel, chromedp.ByQuery))
}

// ClickNth clicks the n-th element matching sel
func (s *Session) ClickNth(ctx context.Context, sel string, n int) error {
	var ok bool
	script := fmt.Sprintf(`(() => { const e = document.querySelectorAll(%%s)[%d]; if (!e) return false; e.scrollIntoView(); e.click(); return true; })()`, n)
	if err := s.eval(ctx, script, &ok, sel); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no element %d for %s", n, sel)
	}
	return nil
}

// ScrollToBottom scrolls the element matching sel, or the window when sel is empty
func (s *Session) ScrollToBottom(ctx context.Context, sel string) error {
	if sel == "" {
		return s.run(ctx, s.cfg.WaitTimeout, chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil))
	}
	var ok bool
	return s.eval(ctx, `(() => { const e = document.querySelector(%s); if (!e) return false; e.scrollTo({top: e.scrollHeight}); return true; })()`, &ok, sel)
}

// Sleep pauses for d unless ctx ends first
func (s *Session) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Cookies returns the cookies currently held by the browser
func (s *Session) Cookies(ctx context.Context) ([]Cookie, error) {
	var out []Cookie
	err := s.run(ctx, s.cfg.WaitTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			out = append(out, fromNetwork(c))
		}
		return nil
	}))
	return out, err
}

// LocalStorage returns the current origin's localStorage entries
func (s *Session) LocalStorage(ctx context.Context) (map[string]string, error) {
	entries := make(map[string]string)
	err := s.run(ctx, s.cfg.WaitTimeout, chromedp.Evaluate(`Object.fromEntries(Object.entries(localStorage))`, &entries))
	return entries, err
}

// eval runs a script with sel quoted into its %s placeholder
func (s *Session) eval(ctx context.Context, script string, res any, sel string) error {
	quoted, err := json.Marshal(sel)
	if err != nil {
		return err
	}
	return s.run(ctx, s.cfg.WaitTimeout, chromedp.Evaluate(fmt.Sprintf(script, quoted), res))
}

func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	s.mu.Lock()
	tab := s.ctx
	s.mu.Unlock()
	if tab == nil {
		return fmt.Errorf("browser session not open")
	}

	runCtx, cancel := s.bound(ctx, tab, timeout)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// bound derives a context from the browser tab that also ends with ctx
func (s *Session) bound(ctx, tab context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(tab, timeout)
	} else {
		runCtx, cancel = context.WithCancel(tab)
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}
