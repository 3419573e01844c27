// Package ratelimit detects portal-side throttling and block pages inside
// scrape replies. The portal serves these with HTTP 200 as often as not, so
// status codes alone cannot be trusted.
package ratelimit

import (
	"regexp"
	"strings"
)

// maxBodyLenForRegex limits the body size for regex matching. Block pages
// are small; anything past 100KB is real content.
const maxBodyLenForRegex = 100 * 1024

// ErrorCategory represents the broad category of a detected block.
type ErrorCategory string

// Block categories.
const (
	CategoryRateLimit    ErrorCategory = "rate_limit"
	CategoryAccessDenied ErrorCategory = "access_denied"
	CategoryChallenge    ErrorCategory = "challenge"
	CategoryGeoBlocked   ErrorCategory = "geo_blocked"
)

// ErrorPattern defines a detection pattern and its metadata.
type ErrorPattern struct {
	Pattern     *regexp.Regexp
	ErrorCode   string
	Category    ErrorCategory
	BaseDelayMs int
	Description string
}

// Info describes a detected block.
type Info struct {
	Detected       bool
	ErrorCode      string
	Category       ErrorCategory
	SuggestedDelay int
	Description    string
}

// patterns contains all detection patterns, ordered by specificity.
// Patterns use [^<]{0,N} instead of .{0,N} to avoid backtracking across
// HTML element boundaries.
var patterns = []ErrorPattern{
	// Cloudflare error codes, most specific first.
	{
		Pattern:     regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}1015`),
		ErrorCode:   "CF_1015",
		Category:    CategoryRateLimit,
		BaseDelayMs: 60000,
		Description: "Cloudflare rate limit exceeded",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}1020`),
		ErrorCode:   "CF_1020",
		Category:    CategoryAccessDenied,
		BaseDelayMs: 30000,
		Description: "Cloudflare access denied - suspicious request",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}100[678]`),
		ErrorCode:   "CF_BAN",
		Category:    CategoryAccessDenied,
		BaseDelayMs: 30000,
		Description: "Cloudflare access denied",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}1009`),
		ErrorCode:   "CF_1009",
		Category:    CategoryGeoBlocked,
		BaseDelayMs: 0, // no retry will help
		Description: "Cloudflare geo-restriction",
	},

	// Challenge interstitials served to the HTTP client mean the browser
	// clearance cookie no longer covers it.
	{
		Pattern:     regexp.MustCompile(`(?i)(challenges\.cloudflare\.com|cf-turnstile|just a moment|checking your browser)`),
		ErrorCode:   "CHALLENGE_SERVED",
		Category:    CategoryChallenge,
		BaseDelayMs: 0,
		Description: "Anti-bot challenge served to scrape client",
	},

	// Generic phrasings, checked last.
	{
		Pattern:     regexp.MustCompile(`(?i)access\s{1,5}denied`),
		ErrorCode:   "ACCESS_DENIED",
		Category:    CategoryAccessDenied,
		BaseDelayMs: 5000,
		Description: "Generic access denied",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)too\s{1,5}many\s{1,5}requests`),
		ErrorCode:   "TOO_MANY_REQUESTS",
		Category:    CategoryRateLimit,
		BaseDelayMs: 10000,
		Description: "Too many requests",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)rate\s{0,3}limit(ed|\s{1,3}exceeded)`),
		ErrorCode:   "RATE_LIMITED",
		Category:    CategoryRateLimit,
		BaseDelayMs: 10000,
		Description: "Generic rate limit",
	},
}

// Detect analyzes an HTTP status code and response body for block
// indicators and returns what it found, including a suggested delay.
func Detect(statusCode int, body string) Info {
	info := Info{}

	if len(body) > maxBodyLenForRegex {
		body = body[:maxBodyLenForRegex]
	}

	switch statusCode {
	case 429:
		info = Info{
			Detected:       true,
			ErrorCode:      "HTTP_429",
			Category:       CategoryRateLimit,
			SuggestedDelay: 60000,
			Description:    "HTTP 429 Too Many Requests",
		}
	case 503:
		info = Info{
			Detected:       true,
			ErrorCode:      "HTTP_503",
			Category:       CategoryRateLimit,
			SuggestedDelay: 30000,
			Description:    "HTTP 503 Service Unavailable",
		}
	}

	// Body patterns may override the status detection with something more
	// specific.
	for _, pattern := range patterns {
		if pattern.Pattern.MatchString(body) {
			info = Info{
				Detected:       true,
				ErrorCode:      pattern.ErrorCode,
				Category:       pattern.Category,
				SuggestedDelay: pattern.BaseDelayMs,
				Description:    pattern.Description,
			}
			break
		}
	}

	// A bare Cloudflare 403 without an error code still means denied.
	if statusCode == 403 && !info.Detected {
		if strings.Contains(strings.ToLower(body), "cloudflare") {
			info = Info{
				Detected:       true,
				ErrorCode:      "CF_403",
				Category:       CategoryAccessDenied,
				SuggestedDelay: 30000,
				Description:    "Cloudflare 403 Forbidden",
			}
		}
	}

	return info
}

// SessionBurned reports whether the detected block means the current session
// is no longer usable and a fresh browser authentication is needed.
func (i Info) SessionBurned() bool {
	return i.Detected && (i.Category == CategoryAccessDenied || i.Category == CategoryChallenge)
}
