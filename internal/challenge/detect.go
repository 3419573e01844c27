// Package challenge detects and resolves the portal's anti-bot interstitial.
// The interstitial either clears on its own once the browser fingerprint
// passes the background checks, or demands a Turnstile checkbox interaction.
package challenge

import "strings"

// Titles the interstitial page uses while a challenge is in progress.
var challengeTitles = []string{
	"just a moment",
	"checking your browser",
	"ddos-guard",
	"please wait",
	"attention required",
}

// DOM selectors present only while a challenge is in progress.
var challengeSelectors = []string{
	"#cf-challenge-running",
	".ray_id",
	"#turnstile-wrapper",
	"#cf-wrapper",
	"#challenge-running",
	"#challenge-stage",
	"#cf-spinner-please-wait",
	"#cf-spinner-redirecting",
}

// turnstileFramePattern identifies the Turnstile widget iframe by its src.
const turnstileFramePattern = "challenges.cloudflare.com"

// Selectors for the checkbox inside the Turnstile frame.
var turnstileCheckboxSelectors = []string{
	"input[type=checkbox]",
	".ctp-checkbox-label",
	"#challenge-stage input",
}

// Phrases that mark a hard block rather than a solvable challenge.
var accessDeniedPhrases = []string{
	"access denied",
	"you have been blocked",
	"error 1020",
	"sorry, you have been blocked",
}

// TitleIndicatesChallenge reports whether a page title belongs to the
// challenge interstitial.
func TitleIndicatesChallenge(title string) bool {
	lower := strings.ToLower(title)
	for _, t := range challengeTitles {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// HTMLIndicatesAccessDenied reports whether the page body is a hard block.
// A block page is terminal: no amount of waiting or clicking clears it, the
// caller must back off and retry with a fresh browser.
func HTMLIndicatesAccessDenied(html string) bool {
	lower := strings.ToLower(html)
	if !strings.Contains(lower, "cloudflare") && !strings.Contains(lower, "ddos") {
		return false
	}
	for _, phrase := range accessDeniedPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
