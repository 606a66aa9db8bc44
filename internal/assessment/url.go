package assessment

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL prepares a submitted URL for storage and analysis:
// a missing scheme defaults to https (an explicit http is preserved),
// the host is lowercased and a leading "www." is stripped. The result
// must be http(s) with a dotted hostname, otherwise ErrInvalidURL.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if !strings.Contains(host, ".") {
		return "", fmt.Errorf("%w: hostname %q has no dot", ErrInvalidURL, host)
	}
	if port := u.Port(); port != "" {
		host = host + ":" + port
	}
	u.Host = host

	return u.String(), nil
}
