package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// Cookie is one entry of the exported cookie jar
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // Unix seconds; <= 0 for session cookies
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

// LoadCookies reads a JSON cookie array. A missing file yields no cookies.
func LoadCookies(path string) ([]Cookie, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies %s: %w", path, err)
	}

	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("failed to parse cookies %s: %w", path, err)
	}
	return cookies, nil
}

// LoadLocalStorage reads a JSON object of localStorage entries.
// A missing file yields an empty map.
func LoadLocalStorage(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read local storage %s: %w", path, err)
	}

	entries := make(map[string]string)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse local storage %s: %w", path, err)
	}
	return entries, nil
}

// Param converts the cookie for network.SetCookie.
// Expired timestamps are dropped so the cookie becomes a session cookie.
func (c Cookie) Param(now time.Time) *network.CookieParam {
	param := &network.CookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   strings.TrimPrefix(c.Domain, "."),
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
	if param.Path == "" {
		param.Path = "/"
	}
	if c.Expires > 0 {
		sec := int64(c.Expires)
		exp := time.Unix(sec, int64((c.Expires-float64(sec))*1e9))
		if exp.After(now) {
			ts := cdp.TimeSinceEpoch(exp)
			param.Expires = &ts
		}
	}
	switch strings.ToLower(c.SameSite) {
	case "strict":
		param.SameSite = network.CookieSameSiteStrict
	case "lax":
		param.SameSite = network.CookieSameSiteLax
	case "none":
		param.SameSite = network.CookieSameSiteNone
	}
	return param
}

// fromNetwork converts a browser cookie back into the jar format
func fromNetwork(c *network.Cookie) Cookie {
	return Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires,
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
		SameSite: string(c.SameSite),
	}
}

// LocalStorageScript returns a script that seeds localStorage on every new document
func LocalStorageScript(entries map[string]string) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to encode local storage: %w", err)
	}
	return fmt.Sprintf(`(() => {
  const data = %s;
  for (const [k, v] of Object.entries(data)) {
    try { localStorage.setItem(k, v); } catch (e) {}
  }
})();`, data), nil
}

// writeJSON writes v with owner-only permissions
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
