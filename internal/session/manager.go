// Package session owns the authenticated portal session: the single browser
// page that carries the login, the state machine that establishes it, and the
// immutable snapshots handed to the HTTP scrape client. All page access is
// serialized through the page guard because the portal binds its clearance
// cookies to one browser context.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/nexusbot/nexusbot/internal/browser"
	"github.com/nexusbot/nexusbot/internal/challenge"
	"github.com/nexusbot/nexusbot/internal/config"
	"github.com/nexusbot/nexusbot/internal/humanize"
	"github.com/nexusbot/nexusbot/internal/pageguard"
	"github.com/nexusbot/nexusbot/internal/store"
	"github.com/nexusbot/nexusbot/internal/types"
)

// Selector sets for the login page. The portal's markup shifts between
// deployments, so each lookup walks a candidate list.
var (
	emailSelectors    = []string{"input[type=email]", "input[name=email]", "#email"}
	passwordSelectors = []string{"input[type=password]", "input[name=password]", "#password"}
	submitSelectors   = []string{"button[type=submit]", "input[type=submit]"}
	loginErrSelectors = []string{".alert-danger", ".error-message", ".invalid-feedback"}
)

// loggedInCheck verifies the authenticated portal shell is rendered. The
// user panel plus a content container is the most stable signal across
// portal redesigns.
const loggedInCheck = `() => {
	const panel = document.querySelector('.user-panel');
	const content = document.querySelector('#spa-content') || document.querySelector('.content-wrapper');
	return Boolean(panel && content) && window.location.href.includes('/portal');
}`

const csrfTokenJS = `() => {
	const m = document.querySelector('meta[name="csrf-token"]');
	return m ? (m.getAttribute('content') || '') : '';
}`

// Manager establishes and maintains the authenticated session.
type Manager struct {
	cfg      *config.Config
	browser  *browser.Browser
	resolver challenge.Resolver
	guard    *pageguard.Guard
	timing   *humanize.Timing

	persist *store.Blob

	mu       sync.Mutex
	page     *rod.Page
	snapshot types.SessionSnapshot
	restored bool
}

// NewManager creates a session manager. The page is opened lazily on the
// first Authenticate call.
func NewManager(cfg *config.Config, b *browser.Browser, resolver challenge.Resolver) *Manager {
	persist, err := store.NewBlob(cfg.DataDir, "cookies.json")
	if err != nil {
		log.Warn().Err(err).Str("dir", cfg.DataDir).Msg("Cookie persistence disabled")
		persist = nil
	}
	return &Manager{
		cfg:      cfg,
		browser:  b,
		resolver: resolver,
		guard:    pageguard.New(),
		timing:   humanize.NewTiming(),
		persist:  persist,
	}
}

// Authenticate runs the full login state machine: navigate, clear the
// anti-bot challenge, verify or establish the login, then capture a session
// snapshot. Safe to call again after a session expires; the existing page is
// reused so the clearance cookies survive.
func (m *Manager) Authenticate(ctx context.Context) error {
	return m.guard.Do(ctx, "authenticate", func(ctx context.Context) error {
		page, err := m.ensurePage()
		if err != nil {
			return err
		}

		m.restorePersisted(page)

		loginURL := m.cfg.BaseURL + "/login"
		log.Info().Str("url", loginURL).Msg("Navigating to portal login")
		if err := page.Context(ctx).Navigate(loginURL); err != nil {
			return types.NewLoginFailedError(loginURL, fmt.Sprintf("navigation failed: %v", err))
		}
		page.Context(ctx).WaitLoad()

		challengeCtx, cancel := context.WithTimeout(ctx, m.cfg.ChallengeWait)
		err = m.resolver.Resolve(challengeCtx, page)
		cancel()
		if err != nil {
			return err
		}

		if m.isLoggedIn(ctx, page) {
			log.Info().Msg("Existing portal session still valid")
			return m.captureSession(ctx, page)
		}

		if err := m.autoLogin(ctx, page); err != nil {
			log.Warn().Err(err).Msg("Automatic login failed")
			if manualErr := m.manualLoginWindow(ctx, page); manualErr != nil {
				return err
			}
		}

		return m.captureSession(ctx, page)
	})
}

// autoLogin fills the login form with humanized typing and submits it.
func (m *Manager) autoLogin(ctx context.Context, page *rod.Page) error {
	if m.cfg.Email == "" || m.cfg.Password == "" {
		return types.NewLoginFailedError(m.cfg.BaseURL, "no credentials configured")
	}

	log.Info().Msg("Attempting automatic login")
	mouse := humanize.NewMouse(page)

	emailEl := findElement(page, emailSelectors)
	if emailEl == nil {
		return types.NewLoginFailedError(m.cfg.BaseURL, "login form not found")
	}
	defer emailEl.Release()
	if err := humanize.TypeInto(ctx, mouse, m.timing, emailEl, m.cfg.Email); err != nil {
		return fmt.Errorf("typing email: %w", err)
	}

	passwordEl := findElement(page, passwordSelectors)
	if passwordEl == nil {
		return types.NewLoginFailedError(m.cfg.BaseURL, "password field not found")
	}
	defer passwordEl.Release()
	if err := humanize.TypeInto(ctx, mouse, m.timing, passwordEl, m.cfg.Password); err != nil {
		return fmt.Errorf("typing password: %w", err)
	}

	humanize.SleepWithContext(ctx, m.timing.PreActionDelay())

	submitEl := findElement(page, submitSelectors)
	if submitEl == nil {
		return types.NewLoginFailedError(m.cfg.BaseURL, "submit button not found")
	}
	err := mouse.ClickElement(ctx, submitEl)
	submitEl.Release()
	if err != nil {
		return fmt.Errorf("clicking submit: %w", err)
	}

	return m.awaitLogin(ctx, page, m.cfg.LoginWait)
}

// awaitLogin polls for the authenticated shell, watching for form errors.
func (m *Manager) awaitLogin(ctx context.Context, page *rod.Page, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if m.isLoggedIn(ctx, page) {
			log.Info().Msg("Automatic login succeeded")
			return nil
		}
		if msg := loginErrorText(page); msg != "" {
			return types.NewLoginFailedError(m.cfg.BaseURL, msg)
		}
		if !humanize.SleepWithContext(ctx, m.timing.RandomPollInterval()) {
			return ctx.Err()
		}
	}
	return types.NewLoginFailedError(m.cfg.BaseURL, "login did not complete in time")
}

// manualLoginWindow gives a human operator a window to complete the login in
// the visible browser. Only useful in headed mode.
func (m *Manager) manualLoginWindow(ctx context.Context, page *rod.Page) error {
	if m.cfg.ManualLoginWindow <= 0 {
		return types.ErrManualLoginTimeout
	}

	log.Warn().
		Dur("window", m.cfg.ManualLoginWindow).
		Msg("Waiting for manual login in the browser window")

	deadline := time.Now().Add(m.cfg.ManualLoginWindow)
	for time.Now().Before(deadline) {
		if m.isLoggedIn(ctx, page) {
			log.Info().Msg("Manual login detected")
			return nil
		}
		if !humanize.SleepWithContext(ctx, m.cfg.ManualLoginPoll) {
			return ctx.Err()
		}
	}
	return types.NewManualLoginTimeoutError(m.cfg.BaseURL)
}

// captureSession lifts the CSRF token and cookies off the page into a fresh
// immutable snapshot.
func (m *Manager) captureSession(ctx context.Context, page *rod.Page) error {
	token := ""
	if res, err := page.Context(ctx).Eval(csrfTokenJS); err == nil {
		token = res.Value.Str()
	}
	if token == "" {
		log.Warn().Msg("CSRF token not found on page")
	}

	rawCookies, err := browser.GetCookies(page)
	if err != nil {
		return fmt.Errorf("reading cookies: %w", err)
	}

	cookies := make([]types.Cookie, 0, len(rawCookies))
	var header strings.Builder
	for _, c := range rawCookies {
		cookies = append(cookies, types.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
		if header.Len() > 0 {
			header.WriteString("; ")
		}
		header.WriteString(c.Name)
		header.WriteString("=")
		header.WriteString(c.Value)
	}

	snapshot := types.SessionSnapshot{
		Cookies:         cookies,
		CookieHeader:    header.String(),
		CSRFToken:       token,
		AuthenticatedAt: time.Now(),
	}
	if !snapshot.Valid() {
		return types.NewLoginFailedError(m.cfg.BaseURL, "captured session is incomplete")
	}

	m.mu.Lock()
	m.snapshot = snapshot
	m.mu.Unlock()

	m.persistSnapshot(snapshot)

	log.Info().
		Int("cookies", len(cookies)).
		Bool("csrf", token != "").
		Msg("Session snapshot captured")
	return nil
}

// restorePersisted plants the cookie snapshot saved by a previous process
// into the browser, so a restart can reuse a still-valid session without
// re-solving the challenge. Runs once per process; the logged-in probe after
// navigation decides whether the restored session is actually usable.
func (m *Manager) restorePersisted(page *rod.Page) {
	m.mu.Lock()
	if m.restored {
		m.mu.Unlock()
		return
	}
	m.restored = true
	m.mu.Unlock()

	snap, ok := m.loadPersistedSnapshot()
	if !ok || len(snap.Cookies) == 0 {
		return
	}
	if err := browser.SetCookies(page, m.cookieParams(snap.Cookies)); err != nil {
		log.Warn().Err(err).Msg("Failed to restore persisted cookies")
		return
	}
	log.Info().
		Int("cookies", len(snap.Cookies)).
		Time("captured_at", snap.AuthenticatedAt).
		Msg("Persisted cookies restored")
}

func (m *Manager) persistSnapshot(snap types.SessionSnapshot) {
	if m.persist == nil {
		return
	}
	if err := m.persist.Save(snap); err != nil {
		log.Warn().Err(err).Msg("Failed to persist cookie snapshot")
	}
}

func (m *Manager) loadPersistedSnapshot() (types.SessionSnapshot, bool) {
	if m.persist == nil {
		return types.SessionSnapshot{}, false
	}
	var snap types.SessionSnapshot
	found, err := m.persist.Load(&snap)
	if err != nil || !found {
		return types.SessionSnapshot{}, false
	}
	return snap, true
}

// Snapshot returns a copy of the current session snapshot.
func (m *Manager) Snapshot() types.SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot
	snap.Cookies = append([]types.Cookie(nil), m.snapshot.Cookies...)
	return snap
}

// Authenticated reports whether a usable snapshot has been captured.
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot.Valid()
}

// InjectCookies replaces the browser's cookies with an externally supplied
// set, then re-captures the session. Lets an operator transplant a session
// established elsewhere.
func (m *Manager) InjectCookies(ctx context.Context, cookies []types.Cookie) error {
	return m.guard.Do(ctx, "inject-cookies", func(ctx context.Context) error {
		page, err := m.ensurePage()
		if err != nil {
			return err
		}

		if err := browser.SetCookies(page, m.cookieParams(cookies)); err != nil {
			return fmt.Errorf("setting cookies: %w", err)
		}

		portalURL := m.cfg.BaseURL + "/portal"
		if err := page.Context(ctx).Navigate(portalURL); err != nil {
			return fmt.Errorf("navigating after cookie injection: %w", err)
		}
		page.Context(ctx).WaitLoad()

		if !m.isLoggedIn(ctx, page) {
			return types.ErrNotAuthenticated
		}
		return m.captureSession(ctx, page)
	})
}

// cookieParams converts cookies to CDP params, filling in the portal host
// and root path where a cookie does not carry its own.
func (m *Manager) cookieParams(cookies []types.Cookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			domain = hostOf(m.cfg.BaseURL)
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   domain,
			Path:     path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return params
}

// RefreshToken re-reads the anti-forgery token off the live page. The portal
// rotates the token between actions; a cheap eval per cycle keeps the scrape
// client current without burning the session on a full re-authentication.
func (m *Manager) RefreshToken(ctx context.Context) error {
	return m.WithPage(ctx, "refresh-token", func(ctx context.Context, page *rod.Page) error {
		res, err := page.Context(ctx).Eval(csrfTokenJS)
		if err != nil {
			return fmt.Errorf("reading csrf token: %w", err)
		}
		token := res.Value.Str()
		if token == "" {
			// The page may be mid-navigation; keep the last known token.
			return nil
		}

		m.mu.Lock()
		changed := m.snapshot.CSRFToken != token
		m.snapshot.CSRFToken = token
		m.mu.Unlock()

		if changed {
			log.Debug().Msg("Anti-forgery token rotated")
		}
		return nil
	})
}

// WithPage runs fn with exclusive access to the session page.
func (m *Manager) WithPage(ctx context.Context, label string, fn func(ctx context.Context, page *rod.Page) error) error {
	return m.guard.Do(ctx, label, func(ctx context.Context) error {
		m.mu.Lock()
		page := m.page
		m.mu.Unlock()
		if page == nil {
			return types.ErrSessionPageNil
		}
		return fn(ctx, page)
	})
}

// Invalidate discards the snapshot so the next cycle re-authenticates.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.snapshot = types.SessionSnapshot{}
	m.mu.Unlock()
	log.Info().Msg("Session snapshot invalidated")
}

// DropPage forgets the current page, typically after a browser restart.
func (m *Manager) DropPage() {
	m.mu.Lock()
	m.page = nil
	m.snapshot = types.SessionSnapshot{}
	m.mu.Unlock()
}

// Recycle tears down the browser and launches a fresh one, discarding the
// page and snapshot. Last-resort recovery for when re-authentication alone
// keeps failing: a new Chrome means a new fingerprint and a new challenge.
func (m *Manager) Recycle(ctx context.Context) error {
	return m.guard.Do(ctx, "recycle", func(ctx context.Context) error {
		if err := m.browser.Restart(ctx); err != nil {
			return fmt.Errorf("restarting browser: %w", err)
		}
		m.DropPage()
		return nil
	})
}

// Close releases the session page. The browser itself is owned elsewhere.
func (m *Manager) Close() error {
	m.mu.Lock()
	page := m.page
	m.page = nil
	m.mu.Unlock()

	if page != nil {
		return page.Close()
	}
	return nil
}

func (m *Manager) ensurePage() (*rod.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.page != nil {
		return m.page, nil
	}
	page, err := m.browser.NewPage()
	if err != nil {
		return nil, err
	}
	m.page = page
	return page, nil
}

func (m *Manager) isLoggedIn(ctx context.Context, page *rod.Page) bool {
	res, err := page.Context(ctx).Eval(loggedInCheck)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

// findElement returns the first visible element matching any candidate
// selector, or nil. The caller releases the element.
func findElement(page *rod.Page, selectors []string) *rod.Element {
	for _, sel := range selectors {
		has, el, err := page.Has(sel)
		if err != nil || !has {
			continue
		}
		return el
	}
	return nil
}

// loginErrorText returns the text of a visible login error, if any.
func loginErrorText(page *rod.Page) string {
	for _, sel := range loginErrSelectors {
		has, el, err := page.Has(sel)
		if err != nil || !has || el == nil {
			continue
		}
		text, err := el.Text()
		_ = el.Release()
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
	}
	return ""
}

func hostOf(rawURL string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}
