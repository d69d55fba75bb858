package device

import "testing"

func TestFingerprintDeterministic(t *testing.T) {
	attrs := Attributes{
		IP:             "203.0.113.7",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0) Chrome/126.0",
		AcceptLanguage: "en-US,en;q=0.9",
		AcceptEncoding: "gzip, deflate, br",
	}

	if Fingerprint(attrs) != Fingerprint(attrs) {
		t.Fatal("expected identical attributes to produce identical fingerprints")
	}
}

func TestFingerprintSensitiveToEachAttribute(t *testing.T) {
	base := Attributes{
		IP:             "203.0.113.7",
		UserAgent:      "agent",
		AcceptLanguage: "en-US",
		AcceptEncoding: "gzip",
	}
	want := Fingerprint(base)

	variants := []Attributes{
		{IP: "203.0.113.8", UserAgent: "agent", AcceptLanguage: "en-US", AcceptEncoding: "gzip"},
		{IP: "203.0.113.7", UserAgent: "other", AcceptLanguage: "en-US", AcceptEncoding: "gzip"},
		{IP: "203.0.113.7", UserAgent: "agent", AcceptLanguage: "de-DE", AcceptEncoding: "gzip"},
		{IP: "203.0.113.7", UserAgent: "agent", AcceptLanguage: "en-US", AcceptEncoding: "br"},
	}
	for i, attrs := range variants {
		if Fingerprint(attrs) == want {
			t.Fatalf("variant %d: expected different fingerprint", i)
		}
	}
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	a := Fingerprint(Attributes{IP: "ab", UserAgent: "c"})
	b := Fingerprint(Attributes{IP: "a", UserAgent: "bc"})
	if a == b {
		t.Fatal("expected separator to prevent boundary collisions")
	}
}

func TestFingerprintMissingAttributes(t *testing.T) {
	empty := Fingerprint(Attributes{})
	if empty == "" {
		t.Fatal("expected fingerprint for empty attributes")
	}
	if empty != Fingerprint(Attributes{}) {
		t.Fatal("expected stable fingerprint for empty attributes")
	}
}

func TestDescribeUserAgent(t *testing.T) {
	cases := []struct {
		ua      string
		browser string
		os      string
	}{
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/126.0 Safari/537.36", "Chrome", "Windows"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) Safari/605.1.15", "Safari", "macOS"},
		{"Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Firefox/127.0", "Firefox", "Linux"},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) Safari/604.1", "Safari", "iOS"},
		{"curl/8.6.0", "curl", "Unknown"},
		{"", "Unknown", "Unknown"},
	}
	for _, tc := range cases {
		browser, os := DescribeUserAgent(tc.ua)
		if browser != tc.browser || os != tc.os {
			t.Fatalf("DescribeUserAgent(%q) = %s/%s, want %s/%s", tc.ua, browser, os, tc.browser, tc.os)
		}
	}
}
