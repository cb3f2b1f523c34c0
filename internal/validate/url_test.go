package validate

import (
	"errors"
	"strings"
	"testing"
)

func TestURL(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		constraints URLConstraints
		wantErr     error
	}{
		{
			name:        "valid HTTPS URL",
			input:       "https://projects.example.com/api",
			constraints: ServiceURLConstraints,
		},
		{
			name:        "valid HTTP URL with port",
			input:       "http://127.0.0.1:8081",
			constraints: ServiceURLConstraints,
		},
		{
			name:        "surrounding whitespace",
			input:       "  https://cdn.example.com  ",
			constraints: ServiceURLConstraints,
		},
		{
			name:        "empty URL",
			input:       "   ",
			constraints: ServiceURLConstraints,
			wantErr:     ErrEmpty,
		},
		{
			name:        "disallowed scheme",
			input:       "ftp://cdn.example.com",
			constraints: ServiceURLConstraints,
			wantErr:     ErrDisallowedScheme,
		},
		{
			name:        "no scheme",
			input:       "cdn.example.com/panos",
			constraints: ServiceURLConstraints,
			wantErr:     ErrDisallowedScheme,
		},
		{
			name:        "missing hostname",
			input:       "https:///panos",
			constraints: ServiceURLConstraints,
			wantErr:     ErrInvalidURL,
		},
		{
			name:        "unparseable",
			input:       "http://[::1",
			constraints: ServiceURLConstraints,
			wantErr:     ErrInvalidURL,
		},
		{
			name:        "query rejected",
			input:       "https://cdn.example.com/?token=abc",
			constraints: ServiceURLConstraints,
			wantErr:     ErrUnexpectedQuery,
		},
		{
			name:  "query allowed",
			input: "https://cdn.example.com/?token=abc",
			constraints: URLConstraints{
				AllowedSchemes: []string{"https"},
				AllowQuery:     true,
			},
		},
		{
			name:        "too long",
			input:       "https://cdn.example.com/" + strings.Repeat("a", 2048),
			constraints: ServiceURLConstraints,
			wantErr:     ErrTooLong,
		},
		{
			name:        "private literal blocked",
			input:       "https://10.1.2.3/",
			constraints: PublicURLConstraints,
			wantErr:     ErrPrivateAddress,
		},
		{
			name:        "localhost blocked",
			input:       "https://localhost:8443",
			constraints: PublicURLConstraints,
			wantErr:     ErrPrivateAddress,
		},
		{
			name:        "public name allowed",
			input:       "https://cdn.example.com",
			constraints: PublicURLConstraints,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := URL(tt.input, tt.constraints)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("URL(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("URL(%q) unexpected error: %v", tt.input, err)
			}
			if u.Host == "" {
				t.Errorf("URL(%q) returned empty host", tt.input)
			}
		})
	}
}

func TestIsPrivateHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"192.168.1.20", true},
		{"172.20.0.5", true},
		{"169.254.169.254", true},
		{"fd00::1", true},
		{"0.0.0.0", true},
		{"::ffff:10.0.0.1", true},
		{"app.localhost", true},
		{"8.8.8.8", false},
		{"cdn.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := isPrivateHost(tt.host); got != tt.want {
				t.Errorf("isPrivateHost(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}
