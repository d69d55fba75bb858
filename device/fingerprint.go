package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Attributes are the request-level signals a fingerprint is derived
// from. Missing values participate as empty strings so the same partial
// signal set always produces the same fingerprint.
type Attributes struct {
	IP             string
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
}

// Fingerprint hashes the attributes in a fixed order with explicit
// separators, so "ab"+"c" and "a"+"bc" cannot collide.
func Fingerprint(attrs Attributes) string {
	h := sha256.New()
	for _, part := range []string{
		attrs.IP,
		attrs.UserAgent,
		attrs.AcceptLanguage,
		attrs.AcceptEncoding,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DescribeUserAgent extracts coarse browser and OS labels for display
// in device lists. Best effort only; unknown agents yield "Unknown".
func DescribeUserAgent(ua string) (browser, os string) {
	browser, os = "Unknown", "Unknown"
	lower := strings.ToLower(ua)

	switch {
	case strings.Contains(lower, "edg/"):
		browser = "Edge"
	case strings.Contains(lower, "opr/") || strings.Contains(lower, "opera"):
		browser = "Opera"
	case strings.Contains(lower, "chrome/"):
		browser = "Chrome"
	case strings.Contains(lower, "firefox/"):
		browser = "Firefox"
	case strings.Contains(lower, "safari/"):
		browser = "Safari"
	case strings.Contains(lower, "curl/"):
		browser = "curl"
	}

	switch {
	case strings.Contains(lower, "windows"):
		os = "Windows"
	case strings.Contains(lower, "android"):
		os = "Android"
	case strings.Contains(lower, "iphone") || strings.Contains(lower, "ipad") || strings.Contains(lower, "ios"):
		os = "iOS"
	case strings.Contains(lower, "mac os") || strings.Contains(lower, "macintosh"):
		os = "macOS"
	case strings.Contains(lower, "linux"):
		os = "Linux"
	}

	return browser, os
}
