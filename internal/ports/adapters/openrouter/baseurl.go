package openrouter

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

const defaultBaseURL = "https://openrouter.ai"

var defaultAllowedHosts = map[string]struct{}{
	"openrouter.ai":     {},
	"api.openrouter.ai": {},
}

func normalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return strings.TrimRight(baseURL, "/")
}

// ValidateBaseURL accepts an absolute https URL on an allowed host. Plain http
// is tolerated for loopback gateways only, so the API key never leaves the
// machine unencrypted.
func ValidateBaseURL(baseURL string, allowedHosts []string) error {
	baseURL = normalizeBaseURL(baseURL)
	fail := func(reason string) error {
		return fmt.Errorf("invalid OPENROUTER_BASE_URL %q: %s", baseURL, reason)
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid OPENROUTER_BASE_URL: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case !u.IsAbs() || host == "":
		return fail("absolute URL with host is required")
	case u.User != nil:
		return fail("userinfo is not allowed")
	case u.RawQuery != "" || u.Fragment != "":
		return fail("query and fragment are not allowed")
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		if !isLoopback(host) {
			return fail("https is required")
		}
	default:
		return fail("https is required")
	}

	if _, ok := normalizeAllowedHosts(allowedHosts)[host]; !ok {
		return fail(fmt.Sprintf("host %q is not in OPENROUTER_ALLOWED_HOSTS", host))
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func normalizeAllowedHosts(allowedHosts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(allowedHosts))
	for _, h := range allowedHosts {
		v := strings.ToLower(strings.TrimSpace(h))
		v = strings.TrimPrefix(v, "http://")
		v = strings.TrimPrefix(v, "https://")
		v = strings.Trim(v, "/")
		if i := strings.LastIndex(v, ":"); i >= 0 && !strings.Contains(v[i:], "]") {
			v = v[:i]
		}
		v = strings.Trim(v, "[]")
		if v != "" {
			out[v] = struct{}{}
		}
	}
	if len(out) == 0 {
		return defaultAllowedHosts
	}
	return out
}
