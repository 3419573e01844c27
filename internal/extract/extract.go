package extract

import (
	"strings"
)

// UnknownService is the label for messages no service rule matches.
const UnknownService = "Unknown"

// fingerprintTextLen is how much of the raw text participates in the
// fingerprint. Enough to distinguish resent codes, short enough to ignore
// trailing boilerplate the portal sometimes appends.
const fingerprintTextLen = 30

// OTP extracts the one-time code from a message body. The code is the first
// run of 4 to 8 digits bounded by non-digits. Hyphens joining digit groups
// are stripped first, so a split code like "947-444" reads as one code.
// Returns the empty string when no code is present.
func OTP(text string) string {
	t := joinHyphenatedDigits(text)

	runStart := -1
	for i := 0; i <= len(t); i++ {
		digit := i < len(t) && t[i] >= '0' && t[i] <= '9'
		if digit {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		if runStart >= 0 {
			if n := i - runStart; n >= 4 && n <= 8 {
				return t[runStart:i]
			}
			runStart = -1
		}
	}
	return ""
}

// joinHyphenatedDigits removes hyphens that sit between two digits, fusing
// split code groups into one digit run. Repeats until stable so chains like
// "1-2-3-4" collapse fully.
func joinHyphenatedDigits(s string) string {
	for {
		var b strings.Builder
		b.Grow(len(s))
		changed := false
		for i := 0; i < len(s); i++ {
			if s[i] == '-' && i > 0 && i < len(s)-1 &&
				isDigit(s[i-1]) && isDigit(s[i+1]) {
				changed = true
				continue
			}
			b.WriteByte(s[i])
		}
		if !changed {
			return s
		}
		s = b.String()
	}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// Service classifies the sending service of a message. Rules are evaluated
// in table order, the first match wins.
func (p *Patterns) Service(text string) string {
	for _, s := range p.Services {
		if s.re != nil && s.re.MatchString(text) {
			return s.Label
		}
	}
	return UnknownService
}

// Country derives the country name and flag emoji from a range label such as
// "VENEZUELA 58XXX". The keyword match is case-insensitive. Unmatched labels
// get a white flag.
func (p *Patterns) Country(rangeLabel string) (name, flag string) {
	upper := strings.ToUpper(rangeLabel)
	for _, c := range p.Countries {
		if strings.Contains(upper, c.Match) {
			return c.Match, c.Flag
		}
	}
	return UnknownService, "\U0001F3F3\uFE0F"
}

// Fingerprint builds the deterministic identity of a message: the number,
// the code, and the head of the raw text. Two sightings of the same portal
// message always produce the same fingerprint.
func Fingerprint(number, otp, text string) string {
	head := text
	if runes := []rune(text); len(runes) > fingerprintTextLen {
		head = string(runes[:fingerprintTextLen])
	}
	return number + "_" + otp + "_" + head
}

// MaskNumber hides the middle digits of a phone number for display,
// keeping the country prefix and the tail recognizable.
func MaskNumber(number string) string {
	if len(number) <= 8 {
		return number
	}
	return number[:4] + strings.Repeat("*", len(number)-7) + number[len(number)-3:]
}
