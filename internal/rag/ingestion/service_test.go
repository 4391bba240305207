package ingestion

import (
	"net/url"
	"testing"

	"manifold/internal/ragconfig"
	"manifold/internal/ragerr"
)

func TestCheckPolicy_RejectsOversizeFile(t *testing.T) {
	s := &Service{Config: ragconfig.IngestConfig{MaxFileMB: 1}}
	err := s.checkPolicy("big.pdf", "application/pdf", 2*1024*1024)
	if !ragerr.Is(err, ragerr.Policy) {
		t.Fatalf("expected a policy error, got %v", err)
	}
}

func TestCheckPolicy_RejectsDisallowedExtension(t *testing.T) {
	s := &Service{Config: ragconfig.IngestConfig{MaxFileMB: 50, DisallowedExts: []string{".exe"}}}
	err := s.checkPolicy("setup.exe", "application/octet-stream", 10)
	if !ragerr.Is(err, ragerr.Policy) {
		t.Fatalf("expected a policy error, got %v", err)
	}
}

func TestCheckPolicy_StrictModeRejectsUnlistedMime(t *testing.T) {
	s := &Service{Config: ragconfig.IngestConfig{
		MaxFileMB:           50,
		StrictMode:          true,
		AllowedMimePrefixes: []string{"text/", "application/pdf"},
	}}
	if err := s.checkPolicy("file.exe", "application/octet-stream", 10); !ragerr.Is(err, ragerr.Policy) {
		t.Fatalf("expected a policy error, got %v", err)
	}
	if err := s.checkPolicy("doc.pdf", "application/pdf", 10); err != nil {
		t.Fatalf("expected application/pdf to be allowed, got %v", err)
	}
}

func TestCheckPolicy_NonStrictModeOnlyBlocksDenylist(t *testing.T) {
	s := &Service{Config: ragconfig.IngestConfig{
		MaxFileMB:           50,
		StrictMode:          false,
		AllowedMimePrefixes: []string{"text/"},
	}}
	if err := s.checkPolicy("image.png", "image/png", 10); err != nil {
		t.Fatalf("expected non-strict mode to allow an unlisted mime, got %v", err)
	}
}

func TestFilenameFromURL_UsesLastPathSegment(t *testing.T) {
	got := filenameFromURL("https://example.com/reports/q3-2026.pdf")
	if got != "q3-2026.pdf" {
		t.Fatalf("filenameFromURL = %q", got)
	}
}

func TestFilenameFromURL_FallsBackToHost(t *testing.T) {
	got := filenameFromURL("https://example.com/")
	if got != "example.com" {
		t.Fatalf("filenameFromURL = %q", got)
	}
}

func TestGuardURL_RejectsNonHTTPScheme(t *testing.T) {
	u := mustParseURL(t, "file:///etc/passwd")
	if err := guardURL(u); err == nil {
		t.Fatalf("expected a scheme error")
	}
}

func TestGuardURL_RejectsLiteralPrivateIP(t *testing.T) {
	u := mustParseURL(t, "http://127.0.0.1/admin")
	if err := guardURL(u); err == nil {
		t.Fatalf("expected a private-address error")
	}
}

func TestGuardURL_AllowsPublicHostname(t *testing.T) {
	u := mustParseURL(t, "https://example.com/page")
	if err := guardURL(u); err != nil {
		t.Fatalf("expected a public hostname to pass the pre-check, got %v", err)
	}
}

func TestGuardPrivateAddr_RejectsLoopbackAndLinkLocal(t *testing.T) {
	cases := []string{"127.0.0.1:80", "169.254.1.1:80", "[::1]:443", "10.0.0.5:80"}
	for _, addr := range cases {
		if err := guardPrivateAddr("tcp4", addr, nil); err == nil {
			t.Fatalf("expected %s to be rejected", addr)
		}
	}
}

func TestGuardPrivateAddr_AllowsPublicIP(t *testing.T) {
	if err := guardPrivateAddr("tcp4", "93.184.216.34:443", nil); err != nil {
		t.Fatalf("expected a public IP to be allowed, got %v", err)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q) = %v", raw, err)
	}
	return u
}
