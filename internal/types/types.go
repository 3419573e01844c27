// Package types provides shared types, interfaces, and errors for the application.
package types

import "time"

// Message is a single OTP message harvested from the portal.
type Message struct {
	// Number is the phone number the message arrived on (digits only).
	Number string `json:"number"`
	// Range is the portal-assigned group label the number belongs to,
	// e.g. "VENEZUELA 58XXX".
	Range string `json:"range"`
	// Service is the classified sender, e.g. "WhatsApp" or "Unknown".
	Service string `json:"service"`
	// OTP is the extracted one-time code, empty when no code was found.
	OTP string `json:"otp"`
	// Text is the raw message body as scraped.
	Text string `json:"text"`
	// ReceivedAt is when the harvester first saw this message.
	ReceivedAt time.Time `json:"receivedAt"`
}

// NumberRecord is one entry of the portal's number directory.
type NumberRecord struct {
	Number string `json:"number"`
	Range  string `json:"range"`
}

// Cookie is a browser cookie carried between the resident browser session
// and the HTTP scrape client.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
}

// SessionSnapshot is an immutable copy of the authenticated portal session.
// Readers always receive a full copy; the session manager replaces the whole
// snapshot on re-authentication, never mutates a shared one.
type SessionSnapshot struct {
	// Cookies are the browser cookies at the time of authentication.
	Cookies []Cookie `json:"cookies"`
	// CookieHeader is the pre-joined "name=value; name=value" form sent on
	// every scrape request.
	CookieHeader string `json:"cookieHeader"`
	// CSRFToken is the anti-forgery token lifted from the portal's
	// meta[name="csrf-token"] tag.
	CSRFToken string `json:"csrfToken"`
	// AuthenticatedAt is when this snapshot was captured.
	AuthenticatedAt time.Time `json:"authenticatedAt"`
}

// Valid reports whether the snapshot can back scrape requests.
func (s SessionSnapshot) Valid() bool {
	return s.CookieHeader != "" && s.CSRFToken != ""
}

// Status is the operational snapshot served by the control surface.
type Status struct {
	Running         bool      `json:"running"`
	Authenticated   bool      `json:"authenticated"`
	StartedAt       time.Time `json:"startedAt"`
	UptimeSeconds   int64     `json:"uptimeSeconds"`
	LastCheck       time.Time `json:"lastCheck,omitempty"`
	ChecksTotal     int64     `json:"checksTotal"`
	MessagesSent    int64     `json:"messagesSent"`
	FailureStreak   int       `json:"failureStreak"`
	LastError       string    `json:"lastError,omitempty"`
	KnownRanges     int       `json:"knownRanges"`
	CachedNumbers   int       `json:"cachedNumbers"`
	SeenFingerprint int       `json:"seenFingerprints"`
}
