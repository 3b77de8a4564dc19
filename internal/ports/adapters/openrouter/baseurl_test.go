package openrouter

import "testing"

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		name         string
		baseURL      string
		allowedHosts []string
		wantErr      bool
	}{
		{name: "default host with https", baseURL: "https://openrouter.ai"},
		{name: "empty falls back to default", baseURL: "  "},
		{name: "reject non-absolute URL", baseURL: "openrouter.ai", wantErr: true},
		{name: "reject http on a public host", baseURL: "http://openrouter.ai", wantErr: true},
		{name: "reject unknown host by default", baseURL: "https://evil.example", wantErr: true},
		{name: "allow configured host", baseURL: "https://proxy.internal/", allowedHosts: []string{"https://proxy.internal:8443"}},
		{name: "allow http loopback gateway", baseURL: "http://127.0.0.1:4000", allowedHosts: []string{"127.0.0.1"}},
		{name: "reject userinfo", baseURL: "https://user:pw@openrouter.ai", wantErr: true},
		{name: "reject query", baseURL: "https://openrouter.ai?x=1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBaseURL(tt.baseURL, tt.allowedHosts)
			if tt.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNormalizeAllowedHosts(t *testing.T) {
	if out := normalizeAllowedHosts([]string{" ", "https://", "http://"}); len(out) != len(defaultAllowedHosts) {
		t.Fatalf("expected default allowed hosts, got %v", out)
	}
	out := normalizeAllowedHosts([]string{"HTTPS://Gateway.Local:8080/", "[::1]:9000"})
	for _, h := range []string{"gateway.local", "::1"} {
		if _, ok := out[h]; !ok {
			t.Fatalf("expected %q in %v", h, out)
		}
	}
}
