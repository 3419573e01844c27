package types

import "errors"

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Session errors
	ErrNotAuthenticated   = errors.New("session is not authenticated")
	ErrLoginFailed        = errors.New("portal login failed")
	ErrManualLoginTimeout = errors.New("manual login window expired")
	ErrSessionPageNil     = errors.New("session page is nil or has been closed")

	// Challenge errors
	ErrAccessDenied        = errors.New("access denied by the portal")
	ErrChallengeTimeout    = errors.New("challenge resolution timed out")
	ErrChallengeUnsolvable = errors.New("challenge could not be solved")

	// Scrape errors
	ErrBranchTimeout  = errors.New("scrape branch deadline exceeded")
	ErrEmptyDirectory = errors.New("number directory returned no entries")
	ErrBadPortalReply = errors.New("portal returned an unparseable response")

	// Store errors
	ErrCacheStale = errors.New("numbers cache is stale")

	// Notification errors
	ErrNoRecipients = errors.New("no notification recipients configured")

	// Context errors
	ErrContextCanceled = errors.New("operation canceled")
)

// AuthError provides detailed information about authentication failures.
// It implements the error interface and supports error unwrapping.
type AuthError struct {
	Stage   string // Stage that failed: "challenge", "auto_login", "manual_login", "token"
	URL     string // The URL where the failure occurred
	Message string // Human-readable error message
	Err     error  // Underlying error (for unwrapping)
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewChallengeTimeoutError creates an error for challenge wait expiry.
func NewChallengeTimeoutError(url string) *AuthError {
	return &AuthError{
		Stage:   "challenge",
		URL:     url,
		Message: "Challenge did not clear within the allowed wait. The portal may be under heavy protection right now.",
		Err:     ErrChallengeTimeout,
	}
}

// NewAccessDeniedError creates an error for access denied situations.
func NewAccessDeniedError(url string) *AuthError {
	return &AuthError{
		Stage:   "challenge",
		URL:     url,
		Message: "Access denied. The portal has blocked this client, the IP may be banned.",
		Err:     ErrAccessDenied,
	}
}

// NewLoginFailedError creates an error for a rejected credential submission.
func NewLoginFailedError(url, reason string) *AuthError {
	return &AuthError{
		Stage:   "auto_login",
		URL:     url,
		Message: "Login was rejected: " + reason,
		Err:     ErrLoginFailed,
	}
}

// NewManualLoginTimeoutError creates an error for an expired manual window.
func NewManualLoginTimeoutError(url string) *AuthError {
	return &AuthError{
		Stage:   "manual_login",
		URL:     url,
		Message: "No operator completed the login within the manual window.",
		Err:     ErrManualLoginTimeout,
	}
}

// ScrapeError provides detailed information about harvest failures.
type ScrapeError struct {
	Level   string // Fan-out level: "ranges", "numbers", "messages", "directory"
	Branch  string // Identifier of the failing branch (range or number)
	Message string // Human-readable error message
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *ScrapeError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewBranchTimeoutError creates an error for a branch that hit its deadline.
func NewBranchTimeoutError(level, branch string) *ScrapeError {
	return &ScrapeError{
		Level:   level,
		Branch:  branch,
		Message: "Branch " + branch + " at level " + level + " hit its deadline and was substituted with an empty result.",
		Err:     ErrBranchTimeout,
	}
}

// NewBadReplyError creates an error for an unparseable portal response.
func NewBadReplyError(level, branch string, err error) *ScrapeError {
	return &ScrapeError{
		Level:   level,
		Branch:  branch,
		Message: "Portal reply at level " + level + " could not be parsed.",
		Err:     errors.Join(ErrBadPortalReply, err),
	}
}
