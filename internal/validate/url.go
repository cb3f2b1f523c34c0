// Package validate checks endpoint URLs supplied through configuration and
// command-line flags before any client is built from them.
package validate

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"slices"
	"strings"
)

// URL validation errors
var (
	ErrEmpty            = errors.New("value is empty")
	ErrTooLong          = errors.New("value is too long")
	ErrInvalidURL       = errors.New("invalid URL format")
	ErrDisallowedScheme = errors.New("URL scheme not allowed")
	ErrPrivateAddress   = errors.New("URL points at a private address")
	ErrUnexpectedQuery  = errors.New("URL must not carry a query or fragment")
)

// URLConstraints defines validation constraints for endpoint URLs.
type URLConstraints struct {
	AllowedSchemes []string // e.g., []string{"https", "http"}
	BlockPrivate   bool     // Reject literal loopback, private and link-local IPs
	AllowQuery     bool     // Base URLs are joined with paths, so queries are rejected by default
	MaxLength      int      // Maximum URL length (0 = no limit)
}

// ServiceURLConstraints accepts the base URL of an HTTP service the viewer
// talks to: the project API or the asset CDN.
var ServiceURLConstraints = URLConstraints{
	AllowedSchemes: []string{"https", "http"},
	MaxLength:      2048,
}

// PublicURLConstraints additionally refuses literal private addresses.
var PublicURLConstraints = URLConstraints{
	AllowedSchemes: []string{"https"},
	BlockPrivate:   true,
	MaxLength:      2048,
}

// URL validates raw against constraints and returns the parsed URL.
func URL(raw string, constraints URLConstraints) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmpty
	}
	if constraints.MaxLength > 0 && len(raw) > constraints.MaxLength {
		return nil, fmt.Errorf("%w: URL exceeds %d characters", ErrTooLong, constraints.MaxLength)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if len(constraints.AllowedSchemes) > 0 && !slices.Contains(constraints.AllowedSchemes, u.Scheme) {
		return nil, fmt.Errorf("%w: got %q, allowed: %v", ErrDisallowedScheme, u.Scheme, constraints.AllowedSchemes)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: missing hostname", ErrInvalidURL)
	}

	if !constraints.AllowQuery && (u.RawQuery != "" || u.Fragment != "") {
		return nil, ErrUnexpectedQuery
	}

	if constraints.BlockPrivate && isPrivateHost(host) {
		return nil, fmt.Errorf("%w: %s", ErrPrivateAddress, host)
	}

	return u, nil
}

// ServiceURL validates a service base URL with ServiceURLConstraints.
func ServiceURL(raw string) (*url.URL, error) {
	return URL(raw, ServiceURLConstraints)
}

// isPrivateHost reports whether host is localhost or a literal IP in a
// loopback, private or link-local range. Names are not resolved.
func isPrivateHost(host string) bool {
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified()
}
