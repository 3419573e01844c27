// Package config provides application configuration management.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration bounds to prevent nonsensical values.
const (
	maxCheckInterval    = 10 * time.Minute
	maxFailureThreshold = 100
	maxBranchTimeout    = 5 * time.Minute
	maxRateLimitRPM     = 10000
	minSecretLength     = 16
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Server settings
	Host string
	Port int

	// Portal settings
	BaseURL  string
	Email    string
	Password string

	// Browser settings
	Headless    bool
	BrowserPath string

	// Session lifecycle
	ChallengeWait        time.Duration // total wait for the anti-bot interstitial to clear
	LoginWait            time.Duration // wait for the post-submit navigation
	ManualLoginWindow    time.Duration // operator window when automatic login fails
	ManualLoginPoll      time.Duration // poll interval inside the manual window
	InteractiveChallenge bool          // attempt widget interaction instead of waiting only

	// Supervising loop
	CheckInterval    time.Duration
	ErrorBackoff     time.Duration
	FailureThreshold int

	// Harvest settings
	BranchTimeout  time.Duration // deadline per fan-out branch
	ScrapeRPS      int           // portal client rate limit, requests per second
	DateWindowDays int           // how far back the message window reaches

	// Storage
	DataDir         string
	NumbersCacheTTL time.Duration

	// Extraction patterns
	PatternsPath      string // path to external patterns.yaml override file
	PatternsHotReload bool   // enable file watching for hot-reload of patterns

	// Telegram delivery
	TelegramToken   string
	TelegramChatIDs []string

	// Control surface security
	AdminSecret        string   // shared secret gating cookie injection
	RateLimitEnabled   bool
	RateLimitRPM       int      // requests per minute per IP
	TrustProxy         bool     // trust X-Forwarded-For headers (only behind a reverse proxy)
	CORSAllowedOrigins []string // allowed CORS origins (empty = reject cross-origin)

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		// Server - default to localhost for security (prevents accidental exposure)
		// Set HOST=0.0.0.0 explicitly to bind to all interfaces
		Host: getEnvString("HOST", "127.0.0.1"),
		Port: getEnvInt("PORT", 5000),

		// Portal
		BaseURL:  getEnvString("PORTAL_BASE_URL", "https://www.ivasms.com"),
		Email:    getEnvString("PORTAL_EMAIL", ""),
		Password: getEnvString("PORTAL_PASSWORD", ""),

		// Browser
		Headless:    getEnvBool("HEADLESS", true),
		BrowserPath: getEnvString("BROWSER_PATH", ""),

		// Session lifecycle
		ChallengeWait:        getEnvDuration("CHALLENGE_WAIT", 40*time.Second),
		LoginWait:            getEnvDuration("LOGIN_WAIT", 60*time.Second),
		ManualLoginWindow:    getEnvDuration("MANUAL_LOGIN_WINDOW", 90*time.Second),
		ManualLoginPoll:      getEnvDuration("MANUAL_LOGIN_POLL", 3*time.Second),
		InteractiveChallenge: getEnvBool("INTERACTIVE_CHALLENGE", true),

		// Supervising loop
		CheckInterval:    getEnvDuration("CHECK_INTERVAL", 10*time.Second),
		ErrorBackoff:     getEnvDuration("ERROR_BACKOFF", 30*time.Second),
		FailureThreshold: getEnvInt("FAILURE_THRESHOLD", 5),

		// Harvest
		BranchTimeout:  getEnvDuration("BRANCH_TIMEOUT", 30*time.Second),
		ScrapeRPS:      getEnvInt("SCRAPE_RPS", 2),
		DateWindowDays: getEnvInt("DATE_WINDOW_DAYS", 7),

		// Storage
		DataDir:         getEnvString("DATA_DIR", "data"),
		NumbersCacheTTL: getEnvDuration("NUMBERS_CACHE_TTL", 10*time.Minute),

		// Patterns
		PatternsPath:      getEnvString("PATTERNS_PATH", ""),
		PatternsHotReload: getEnvBool("PATTERNS_HOT_RELOAD", false),

		// Telegram
		TelegramToken:   getEnvString("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatIDs: getEnvStringSlice("TELEGRAM_CHAT_IDS", nil),

		// Control surface security
		AdminSecret:        getEnvString("ADMIN_SECRET", ""),
		RateLimitEnabled:   getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", 60),
		TrustProxy:         getEnvBool("TRUST_PROXY", false),
		CORSAllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", nil),

		// Logging
		LogLevel: getEnvString("LOG_LEVEL", "info"),
	}
}

// HasTelegram returns true if Telegram delivery is fully configured.
func (c *Config) HasTelegram() bool {
	return c.TelegramToken != "" && len(c.TelegramChatIDs) > 0
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults.
func (c *Config) Validate() {
	// Port validation - allow 0 for system-assigned ports
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 5000")
		c.Port = 5000
	}

	// BaseURL must carry a scheme; everything downstream joins paths onto it
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		log.Warn().Str("base_url", c.BaseURL).Msg("PORTAL_BASE_URL missing scheme, assuming https")
		c.BaseURL = "https://" + c.BaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	// Credentials: the session manager can still fall back to the manual
	// login window, so missing credentials are a warning, not fatal
	if c.Email == "" || c.Password == "" {
		log.Warn().Msg("PORTAL_EMAIL or PORTAL_PASSWORD not set - automatic login disabled, manual window only")
	}

	// BrowserPath validation - prevent path traversal
	if c.BrowserPath != "" {
		if strings.Contains(c.BrowserPath, "..") {
			log.Error().
				Str("path", c.BrowserPath).
				Msg("BrowserPath contains path traversal sequence (..), ignoring")
			c.BrowserPath = ""
		} else if !strings.HasPrefix(c.BrowserPath, "/") && !strings.HasPrefix(c.BrowserPath, "C:") && !strings.HasPrefix(c.BrowserPath, "c:") {
			log.Warn().
				Str("path", c.BrowserPath).
				Msg("BrowserPath should be an absolute path")
		}
	}

	// Session lifecycle bounds
	if c.ChallengeWait < 5*time.Second {
		log.Warn().Dur("wait", c.ChallengeWait).Msg("Challenge wait too short, using 40s")
		c.ChallengeWait = 40 * time.Second
	}
	if c.LoginWait < 5*time.Second {
		log.Warn().Dur("wait", c.LoginWait).Msg("Login wait too short, using 60s")
		c.LoginWait = 60 * time.Second
	}
	if c.ManualLoginPoll < time.Second {
		log.Warn().Dur("poll", c.ManualLoginPoll).Msg("Manual login poll too short, using 3s")
		c.ManualLoginPoll = 3 * time.Second
	}
	if c.ManualLoginWindow < c.ManualLoginPoll {
		log.Warn().
			Dur("window", c.ManualLoginWindow).
			Dur("poll", c.ManualLoginPoll).
			Msg("Manual login window shorter than poll interval, using 90s")
		c.ManualLoginWindow = 90 * time.Second
	}

	// Supervising loop bounds
	if c.CheckInterval < time.Second {
		log.Warn().Dur("interval", c.CheckInterval).Msg("Check interval too short, using 10s")
		c.CheckInterval = 10 * time.Second
	} else if c.CheckInterval > maxCheckInterval {
		log.Warn().
			Dur("interval", c.CheckInterval).
			Dur("max", maxCheckInterval).
			Msg("Check interval too long, capping to maximum")
		c.CheckInterval = maxCheckInterval
	}
	if c.ErrorBackoff < c.CheckInterval {
		log.Warn().
			Dur("backoff", c.ErrorBackoff).
			Dur("interval", c.CheckInterval).
			Msg("Error backoff shorter than check interval, using 30s")
		c.ErrorBackoff = 30 * time.Second
	}
	if c.FailureThreshold < 1 {
		log.Warn().Int("threshold", c.FailureThreshold).Msg("Invalid failure threshold, using 5")
		c.FailureThreshold = 5
	} else if c.FailureThreshold > maxFailureThreshold {
		log.Warn().
			Int("threshold", c.FailureThreshold).
			Int("max", maxFailureThreshold).
			Msg("Failure threshold too high, capping to maximum")
		c.FailureThreshold = maxFailureThreshold
	}

	// Harvest bounds
	if c.BranchTimeout < 5*time.Second {
		log.Warn().Dur("timeout", c.BranchTimeout).Msg("Branch timeout too short, using 30s")
		c.BranchTimeout = 30 * time.Second
	} else if c.BranchTimeout > maxBranchTimeout {
		log.Warn().
			Dur("timeout", c.BranchTimeout).
			Dur("max", maxBranchTimeout).
			Msg("Branch timeout too long, capping to maximum")
		c.BranchTimeout = maxBranchTimeout
	}
	if c.ScrapeRPS < 1 {
		log.Warn().Int("rps", c.ScrapeRPS).Msg("Invalid scrape rate, using 2 RPS")
		c.ScrapeRPS = 2
	}
	if c.DateWindowDays < 1 {
		log.Warn().Int("days", c.DateWindowDays).Msg("Invalid date window, using 7 days")
		c.DateWindowDays = 7
	}

	// Cache TTL bounds (minimum 1 minute, maximum 24 hours)
	const minCacheTTL = 1 * time.Minute
	const maxCacheTTL = 24 * time.Hour
	if c.NumbersCacheTTL < minCacheTTL {
		log.Warn().
			Dur("ttl", c.NumbersCacheTTL).
			Dur("min", minCacheTTL).
			Msg("Numbers cache TTL too short, using minimum")
		c.NumbersCacheTTL = minCacheTTL
	} else if c.NumbersCacheTTL > maxCacheTTL {
		log.Warn().
			Dur("ttl", c.NumbersCacheTTL).
			Dur("max", maxCacheTTL).
			Msg("Numbers cache TTL too long, using maximum")
		c.NumbersCacheTTL = maxCacheTTL
	}

	// DataDir validation
	if strings.Contains(c.DataDir, "..") {
		log.Error().
			Str("path", c.DataDir).
			Msg("DataDir contains path traversal sequence (..), using 'data'")
		c.DataDir = "data"
	}

	// Rate limit validation with upper bound
	if c.RateLimitEnabled {
		if c.RateLimitRPM < 1 {
			log.Warn().Int("rpm", c.RateLimitRPM).Msg("Invalid rate limit, using 60 RPM")
			c.RateLimitRPM = 60
		} else if c.RateLimitRPM > maxRateLimitRPM {
			log.Warn().
				Int("rpm", c.RateLimitRPM).
				Int("max", maxRateLimitRPM).
				Msg("Rate limit too high, capping to maximum")
			c.RateLimitRPM = maxRateLimitRPM
		}
	}

	// Log level validation
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	// CORS security warning
	if len(c.CORSAllowedOrigins) == 0 {
		log.Debug().Msg("CORS_ALLOWED_ORIGINS not set - cross-origin requests will be rejected")
	}

	// Telegram cross-validation
	if c.TelegramToken != "" && len(c.TelegramChatIDs) == 0 {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN set but TELEGRAM_CHAT_IDS is empty - nothing will be delivered")
	}
	if c.TelegramToken == "" && len(c.TelegramChatIDs) > 0 {
		log.Warn().Msg("TELEGRAM_CHAT_IDS set but TELEGRAM_BOT_TOKEN is empty - delivery disabled")
	}
	for _, id := range c.TelegramChatIDs {
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			log.Warn().Str("chat_id", id).Msg("TELEGRAM_CHAT_IDS entry is not a numeric chat id")
		}
	}

	// Admin secret validation
	if c.AdminSecret == "" {
		log.Warn().Msg("ADMIN_SECRET not set - cookie injection endpoint will reject all requests")
	} else if len(c.AdminSecret) < minSecretLength {
		log.Warn().
			Int("length", len(c.AdminSecret)).
			Int("min_recommended", minSecretLength).
			Msg("ADMIN_SECRET is short - consider using a longer secret")
	}

	// Patterns path validation
	if c.PatternsPath != "" {
		if strings.Contains(c.PatternsPath, "..") {
			log.Error().
				Str("path", c.PatternsPath).
				Msg("PatternsPath contains path traversal sequence (..), ignoring")
			c.PatternsPath = ""
		} else if c.PatternsHotReload {
			if _, err := os.Stat(c.PatternsPath); os.IsNotExist(err) {
				log.Warn().
					Str("path", c.PatternsPath).
					Msg("PatternsPath does not exist - hot-reload will watch for file creation")
			}
		}
	}
	if c.PatternsHotReload && c.PatternsPath == "" {
		log.Warn().Msg("PATTERNS_HOT_RELOAD enabled but PATTERNS_PATH not set - hot-reload disabled")
		c.PatternsHotReload = false
	}
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
