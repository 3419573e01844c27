package config

import (
	"os"
	"testing"
	"time"
)

var configEnvVars = []string{
	"HOST", "PORT", "PORTAL_BASE_URL", "PORTAL_EMAIL", "PORTAL_PASSWORD",
	"HEADLESS", "BROWSER_PATH",
	"CHALLENGE_WAIT", "LOGIN_WAIT", "MANUAL_LOGIN_WINDOW", "MANUAL_LOGIN_POLL",
	"INTERACTIVE_CHALLENGE",
	"CHECK_INTERVAL", "ERROR_BACKOFF", "FAILURE_THRESHOLD",
	"BRANCH_TIMEOUT", "SCRAPE_RPS", "DATE_WINDOW_DAYS",
	"DATA_DIR", "NUMBERS_CACHE_TTL",
	"PATTERNS_PATH", "PATTERNS_HOT_RELOAD",
	"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_IDS",
	"ADMIN_SECRET", "RATE_LIMIT_ENABLED", "RATE_LIMIT_RPM", "TRUST_PROXY",
	"CORS_ALLOWED_ORIGINS", "LOG_LEVEL",
}

func clearConfigEnv() {
	for _, env := range configEnvVars {
		os.Unsetenv(env)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearConfigEnv()

	cfg := Load()

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Expected default host '127.0.0.1', got %q", cfg.Host)
	}
	if cfg.Port != 5000 {
		t.Errorf("Expected default port 5000, got %d", cfg.Port)
	}
	if cfg.BaseURL != "https://www.ivasms.com" {
		t.Errorf("Expected default base URL, got %q", cfg.BaseURL)
	}
	if !cfg.Headless {
		t.Error("Expected Headless to be true by default")
	}
	if cfg.ChallengeWait != 40*time.Second {
		t.Errorf("Expected default challenge wait 40s, got %v", cfg.ChallengeWait)
	}
	if cfg.LoginWait != 60*time.Second {
		t.Errorf("Expected default login wait 60s, got %v", cfg.LoginWait)
	}
	if cfg.ManualLoginWindow != 90*time.Second {
		t.Errorf("Expected default manual login window 90s, got %v", cfg.ManualLoginWindow)
	}
	if cfg.ManualLoginPoll != 3*time.Second {
		t.Errorf("Expected default manual login poll 3s, got %v", cfg.ManualLoginPoll)
	}
	if cfg.CheckInterval != 10*time.Second {
		t.Errorf("Expected default check interval 10s, got %v", cfg.CheckInterval)
	}
	if cfg.ErrorBackoff != 30*time.Second {
		t.Errorf("Expected default error backoff 30s, got %v", cfg.ErrorBackoff)
	}
	if cfg.FailureThreshold != 5 {
		t.Errorf("Expected default failure threshold 5, got %d", cfg.FailureThreshold)
	}
	if cfg.BranchTimeout != 30*time.Second {
		t.Errorf("Expected default branch timeout 30s, got %v", cfg.BranchTimeout)
	}
	if cfg.NumbersCacheTTL != 10*time.Minute {
		t.Errorf("Expected default numbers cache TTL 10m, got %v", cfg.NumbersCacheTTL)
	}
	if cfg.DateWindowDays != 7 {
		t.Errorf("Expected default date window 7 days, got %d", cfg.DateWindowDays)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default log level 'info', got %q", cfg.LogLevel)
	}
	if cfg.HasTelegram() {
		t.Error("Expected HasTelegram to be false without token and chat ids")
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("HOST", "0.0.0.0")
	os.Setenv("PORT", "8080")
	os.Setenv("PORTAL_BASE_URL", "https://portal.example.com")
	os.Setenv("PORTAL_EMAIL", "ops@example.com")
	os.Setenv("PORTAL_PASSWORD", "hunter2hunter2")
	os.Setenv("CHECK_INTERVAL", "30s")
	os.Setenv("FAILURE_THRESHOLD", "3")
	os.Setenv("NUMBERS_CACHE_TTL", "5m")
	os.Setenv("TELEGRAM_BOT_TOKEN", "123456:abc")
	os.Setenv("TELEGRAM_CHAT_IDS", "1001, 1002 ,1003")
	os.Setenv("LOG_LEVEL", "debug")
	defer clearConfigEnv()

	cfg := Load()

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Expected host '0.0.0.0', got %q", cfg.Host)
	}
	if cfg.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Port)
	}
	if cfg.BaseURL != "https://portal.example.com" {
		t.Errorf("Expected overridden base URL, got %q", cfg.BaseURL)
	}
	if cfg.CheckInterval != 30*time.Second {
		t.Errorf("Expected check interval 30s, got %v", cfg.CheckInterval)
	}
	if cfg.FailureThreshold != 3 {
		t.Errorf("Expected failure threshold 3, got %d", cfg.FailureThreshold)
	}
	if cfg.NumbersCacheTTL != 5*time.Minute {
		t.Errorf("Expected numbers cache TTL 5m, got %v", cfg.NumbersCacheTTL)
	}
	if len(cfg.TelegramChatIDs) != 3 {
		t.Fatalf("Expected 3 chat ids, got %d", len(cfg.TelegramChatIDs))
	}
	if cfg.TelegramChatIDs[1] != "1002" {
		t.Errorf("Expected trimmed chat id '1002', got %q", cfg.TelegramChatIDs[1])
	}
	if !cfg.HasTelegram() {
		t.Error("Expected HasTelegram to be true")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log level 'debug', got %q", cfg.LogLevel)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	os.Setenv("PORT", "not-a-number")
	os.Setenv("HEADLESS", "maybe")
	os.Setenv("CHECK_INTERVAL", "-5s")
	defer clearConfigEnv()

	cfg := Load()

	if cfg.Port != 5000 {
		t.Errorf("Expected fallback port 5000 for invalid value, got %d", cfg.Port)
	}
	if !cfg.Headless {
		t.Error("Expected fallback Headless true for invalid value")
	}
	if cfg.CheckInterval != 10*time.Second {
		t.Errorf("Expected fallback check interval 10s for negative value, got %v", cfg.CheckInterval)
	}
}

func TestValidateCorrectsBounds(t *testing.T) {
	clearConfigEnv()

	cfg := Load()
	cfg.Port = 99999
	cfg.CheckInterval = 100 * time.Millisecond
	cfg.ErrorBackoff = time.Second
	cfg.FailureThreshold = 0
	cfg.NumbersCacheTTL = time.Second
	cfg.BranchTimeout = time.Second
	cfg.DataDir = "../escape"
	cfg.BaseURL = "portal.example.com/"

	cfg.Validate()

	if cfg.Port != 5000 {
		t.Errorf("Expected port corrected to 5000, got %d", cfg.Port)
	}
	if cfg.CheckInterval != 10*time.Second {
		t.Errorf("Expected check interval corrected to 10s, got %v", cfg.CheckInterval)
	}
	if cfg.ErrorBackoff != 30*time.Second {
		t.Errorf("Expected error backoff corrected to 30s, got %v", cfg.ErrorBackoff)
	}
	if cfg.FailureThreshold != 5 {
		t.Errorf("Expected failure threshold corrected to 5, got %d", cfg.FailureThreshold)
	}
	if cfg.NumbersCacheTTL != time.Minute {
		t.Errorf("Expected cache TTL raised to 1m, got %v", cfg.NumbersCacheTTL)
	}
	if cfg.BranchTimeout != 30*time.Second {
		t.Errorf("Expected branch timeout corrected to 30s, got %v", cfg.BranchTimeout)
	}
	if cfg.DataDir != "data" {
		t.Errorf("Expected data dir reset to 'data', got %q", cfg.DataDir)
	}
	if cfg.BaseURL != "https://portal.example.com" {
		t.Errorf("Expected base URL normalized, got %q", cfg.BaseURL)
	}
}

func TestValidateDisablesHotReloadWithoutPath(t *testing.T) {
	clearConfigEnv()

	cfg := Load()
	cfg.PatternsHotReload = true
	cfg.PatternsPath = ""

	cfg.Validate()

	if cfg.PatternsHotReload {
		t.Error("Expected hot-reload disabled when no patterns path is set")
	}
}
