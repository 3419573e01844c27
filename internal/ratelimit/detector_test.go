package ratelimit

import (
	"strings"
	"testing"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name         string
		statusCode   int
		body         string
		wantDetected bool
		wantCode     string
		wantCategory ErrorCategory
	}{
		{
			name:         "clean reply",
			statusCode:   200,
			body:         `<div class="card card-body mb-1 pointer">VENEZUELA 58XXX</div>`,
			wantDetected: false,
		},
		{
			name:         "http 429",
			statusCode:   429,
			body:         "",
			wantDetected: true,
			wantCode:     "HTTP_429",
			wantCategory: CategoryRateLimit,
		},
		{
			name:         "http 503",
			statusCode:   503,
			body:         "",
			wantDetected: true,
			wantCode:     "HTTP_503",
			wantCategory: CategoryRateLimit,
		},
		{
			name:         "cloudflare 1015",
			statusCode:   200,
			body:         `<span>Error</span> <span>code: 1015</span>`,
			wantDetected: true,
			wantCode:     "CF_1015",
			wantCategory: CategoryRateLimit,
		},
		{
			name:         "cloudflare 1020",
			statusCode:   200,
			body:         "Error code 1020 Access denied",
			wantDetected: true,
			wantCode:     "CF_1020",
			wantCategory: CategoryAccessDenied,
		},
		{
			name:         "cloudflare geo block",
			statusCode:   200,
			body:         "error code: 1009 - this website is not available in your country",
			wantDetected: true,
			wantCode:     "CF_1009",
			wantCategory: CategoryGeoBlocked,
		},
		{
			name:         "challenge interstitial",
			statusCode:   200,
			body:         `<title>Just a moment...</title><script src="https://challenges.cloudflare.com/x.js"></script>`,
			wantDetected: true,
			wantCode:     "CHALLENGE_SERVED",
			wantCategory: CategoryChallenge,
		},
		{
			name:         "generic access denied",
			statusCode:   200,
			body:         "<h1>Access Denied</h1>",
			wantDetected: true,
			wantCode:     "ACCESS_DENIED",
			wantCategory: CategoryAccessDenied,
		},
		{
			name:         "too many requests text",
			statusCode:   200,
			body:         "Too many requests, slow down",
			wantDetected: true,
			wantCode:     "TOO_MANY_REQUESTS",
			wantCategory: CategoryRateLimit,
		},
		{
			name:         "bare cloudflare 403",
			statusCode:   403,
			body:         "<html>cloudflare</html>",
			wantDetected: true,
			wantCode:     "CF_403",
			wantCategory: CategoryAccessDenied,
		},
		{
			name:         "plain 403 without vendor marker",
			statusCode:   403,
			body:         "<html>nothing here</html>",
			wantDetected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Detect(tt.statusCode, tt.body)
			if info.Detected != tt.wantDetected {
				t.Fatalf("Expected detected=%v, got %v", tt.wantDetected, info.Detected)
			}
			if !tt.wantDetected {
				return
			}
			if info.ErrorCode != tt.wantCode {
				t.Errorf("Expected code %q, got %q", tt.wantCode, info.ErrorCode)
			}
			if info.Category != tt.wantCategory {
				t.Errorf("Expected category %q, got %q", tt.wantCategory, info.Category)
			}
		})
	}
}

func TestDetectBodyOverridesStatus(t *testing.T) {
	info := Detect(429, "error code: 1015")
	if info.ErrorCode != "CF_1015" {
		t.Errorf("Expected specific body pattern to win, got %q", info.ErrorCode)
	}
}

func TestDetectTruncatesHugeBody(t *testing.T) {
	// The marker sits past the truncation point and must not be scanned.
	body := strings.Repeat("x", maxBodyLenForRegex) + "access denied"
	if info := Detect(200, body); info.Detected {
		t.Error("Expected marker past the scan limit to be ignored")
	}
}

func TestSessionBurned(t *testing.T) {
	tests := []struct {
		info Info
		want bool
	}{
		{Info{Detected: true, Category: CategoryAccessDenied}, true},
		{Info{Detected: true, Category: CategoryChallenge}, true},
		{Info{Detected: true, Category: CategoryRateLimit}, false},
		{Info{Detected: false, Category: CategoryAccessDenied}, false},
	}

	for _, tt := range tests {
		if got := tt.info.SessionBurned(); got != tt.want {
			t.Errorf("SessionBurned(%v) = %v, want %v", tt.info.Category, got, tt.want)
		}
	}
}
