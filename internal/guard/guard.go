// Package guard implements the domain-scoping rules for guest projects: URL
// normalization and the host equivalence check that gates every request and
// every job execution.
package guard

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL indicates the input could not be parsed as an absolute
// http(s) URL with a hostname.
var ErrInvalidURL = errors.New("invalid URL")

// ErrDomainNotAllowed indicates the target host does not match the project's
// anchor host after www-normalization.
var ErrDomainNotAllowed = errors.New("URL domain not allowed")

// Normalize validates a raw URL and returns its canonical form: the scheme
// must be http or https, the hostname non-empty, and the fragment is dropped.
func Normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: URL is required", ErrInvalidURL)
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: URL must start with http:// or https://", ErrInvalidURL)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing hostname", ErrInvalidURL)
	}

	u.Fragment = ""
	return u.String(), nil
}

// Host extracts the normalized comparison host from an absolute URL:
// lowercased hostname with a single leading "www." stripped.
func Host(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing hostname", ErrInvalidURL)
	}
	return StripWWW(host), nil
}

// StripWWW removes one leading "www." label from an already-lowercased host.
func StripWWW(host string) string {
	return strings.TrimPrefix(host, "www.")
}

// AllowedHost decides whether targetURL may be accessed under the scope
// anchored at projectURL. Hosts are equivalent when their lowercased,
// www-stripped hostnames are equal; subdomains are not equivalent.
func AllowedHost(projectURL, targetURL string) error {
	projectHost, err := Host(projectURL)
	if err != nil {
		return err
	}
	targetHost, err := Host(targetURL)
	if err != nil {
		return err
	}
	if targetHost != projectHost {
		return fmt.Errorf("%w: allowed host is %s", ErrDomainNotAllowed, projectHost)
	}
	return nil
}

// BlockedHost reports whether the hostname must never be accepted as a guest
// project anchor (loopback targets).
func BlockedHost(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "0.0.0.0", "::1":
		return true
	}
	return false
}
