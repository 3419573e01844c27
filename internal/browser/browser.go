// Package browser manages the single resident Chrome instance that carries
// the authenticated portal session. Unlike a per-request automation service,
// this process keeps one browser alive for its whole lifetime: the anti-bot
// clearance cookies are bound to the browser fingerprint that earned them, so
// respawning browsers would mean re-solving the challenge every time.
package browser

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"

	"github.com/nexusbot/nexusbot/internal/config"
	"github.com/nexusbot/nexusbot/pkg/version"
)

// Browser wraps the resident Chrome instance.
type Browser struct {
	mu      sync.Mutex
	cfg     *config.Config
	browser *rod.Browser
	closed  bool
}

// New creates a Browser wrapper. Call Start to launch Chrome.
func New(cfg *config.Config) *Browser {
	return &Browser{cfg: cfg}
}

// Start launches Chrome and connects to it over CDP.
func (b *Browser) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("browser already closed")
	}
	if b.browser != nil {
		return nil
	}

	log.Info().
		Bool("headless", b.cfg.Headless).
		Str("browser_path", b.cfg.BrowserPath).
		Msg("Launching browser")

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	l := createLauncher(b.cfg)
	url, err := l.Launch()
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	b.browser = browser

	log.Info().Str("url", url).Msg("Browser connected")
	return nil
}

// NewPage opens a page with the stealth patches pre-injected, so the patches
// run before any page script can probe for automation markers.
func (b *Browser) NewPage() (*rod.Page, error) {
	b.mu.Lock()
	browser := b.browser
	b.mu.Unlock()

	if browser == nil {
		return nil, fmt.Errorf("browser not started")
	}

	page, err := stealth.Page(browser)
	if err != nil {
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}

	if err := ApplyStealthToPage(page); err != nil {
		page.Close()
		return nil, err
	}
	if err := SetUserAgent(page, version.UserAgent); err != nil {
		log.Warn().Err(err).Msg("Failed to set user agent on page")
	}
	if err := SetViewport(page, 1920, 1080); err != nil {
		log.Warn().Err(err).Msg("Failed to set viewport on page")
	}

	return page, nil
}

// Restart tears down the current Chrome process and launches a fresh one.
// All pages and their session state are lost; the caller re-authenticates.
func (b *Browser) Restart(ctx context.Context) error {
	b.mu.Lock()
	old := b.browser
	b.browser = nil
	b.mu.Unlock()

	if old != nil {
		closeBrowser(old, 10*time.Second)
	}

	log.Info().Msg("Restarting browser")
	return b.Start(ctx)
}

// Close shuts down the browser. Safe to call multiple times.
func (b *Browser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	browser := b.browser
	b.browser = nil
	b.mu.Unlock()

	if browser == nil {
		return nil
	}

	log.Info().Msg("Closing browser")
	closeBrowser(browser, 10*time.Second)
	return nil
}

// closeBrowser closes a rod browser, abandoning the wait if Chrome does not
// exit within the timeout.
func closeBrowser(browser *rod.Browser, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := browser.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing browser")
		}
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("Browser close timed out")
	}
}

// createLauncher creates a configured Rod launcher. These flags are tuned for
// anti-detection: the portal's challenge layer inspects automation markers,
// WebGL output, and WebRTC behavior, so every flag here closes one of those
// probes.
func createLauncher(cfg *config.Config) *launcher.Launcher {
	l := launcher.New()

	if cfg.BrowserPath != "" {
		l = l.Bin(cfg.BrowserPath)
	}

	// Headed mode under Xvfb is the strongest disguise: no "HeadlessChrome"
	// anywhere in the fingerprint. --headless=new is the fallback when no
	// display is available.
	if cfg.Headless {
		l = l.Set("headless", "new")
	} else {
		// Rod enables headless by default; it must be explicitly disabled
		// or Chrome still runs headless even with a DISPLAY set.
		l = l.Headless(false)
	}

	// Container security flags
	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	// WebRTC can reveal the host's real public IP via ICE candidates.
	l = l.Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp")

	// navigator.webdriver must never read true.
	l = l.Set("disable-blink-features", "AutomationControlled")
	l = l.Delete("enable-automation")

	l = l.Set("disable-features", "Translate,TranslateUI,BlinkGenPropertyTrees,WebRtcHideLocalIpsWithMdns")
	l = l.Set("enable-features", "NetworkService,NetworkServiceInProcess")

	// SwiftShader gives a realistic software WebGL fingerprint. Empty WebGL
	// output is a detection signal.
	l = l.Set("use-gl", "swiftshader").
		Set("use-angle", "swiftshader").
		Set("enable-unsafe-swiftshader").
		Set("enable-webgl").
		Set("enable-webgl2")

	// Language consistent with the user agent.
	l = l.Set("accept-lang", "en-US,en;q=0.9")

	l = l.Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-search-engine-choice-screen")

	l = l.Set("window-size", "1920,1080")

	// Stability for a long-lived process.
	l = l.Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("mute-audio").
		Set("no-zygote").
		Set("safebrowsing-disable-auto-update")

	l = l.Set("js-flags", "--max-old-space-size=256").
		Set("disable-ipc-flooding-protection").
		Set("disable-renderer-backgrounding")

	l = l.Set("disable-gpu-sandbox")

	// Do NOT use --disable-gpu on ARM: it breaks SwiftShader WebGL.
	if isARM() {
		l = l.Set("disable-gpu-compositing")
		log.Debug().Msg("ARM detected: software compositing with SwiftShader WebGL")
	}

	return l
}

// isARM returns true if running on ARM architecture.
func isARM() bool {
	arch := runtime.GOARCH
	return arch == "arm" || arch == "arm64"
}
