// Package main is the entry point for the OTP monitor.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nexusbot/nexusbot/internal/assign"
	"github.com/nexusbot/nexusbot/internal/browser"
	"github.com/nexusbot/nexusbot/internal/challenge"
	"github.com/nexusbot/nexusbot/internal/config"
	"github.com/nexusbot/nexusbot/internal/extract"
	"github.com/nexusbot/nexusbot/internal/handlers"
	"github.com/nexusbot/nexusbot/internal/middleware"
	"github.com/nexusbot/nexusbot/internal/monitor"
	"github.com/nexusbot/nexusbot/internal/notify"
	"github.com/nexusbot/nexusbot/internal/scrape"
	"github.com/nexusbot/nexusbot/internal/session"
	"github.com/nexusbot/nexusbot/internal/store"
	"github.com/nexusbot/nexusbot/pkg/version"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	cfg.Validate()

	printBanner()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Resident browser: one long-lived instance whose fingerprint the portal
	// session stays bound to.
	log.Info().Msg("Starting resident browser...")
	b := browser.New(cfg)
	if err := b.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start browser")
	}

	var resolver challenge.Resolver
	if cfg.InteractiveChallenge {
		resolver = challenge.NewInteractiveResolver(cfg.ChallengeWait)
	} else {
		resolver = challenge.NewPollingResolver(cfg.ChallengeWait)
	}

	sessionMgr := session.NewManager(cfg, b, resolver)

	// Persistent stores survive restarts; losing them would replay every
	// OTP notification and re-alert every known range.
	novelty, err := store.OpenNovelty(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("Failed to open range store")
	}
	dedup, err := store.OpenDedup(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("Failed to open dedup store")
	}
	cache, err := store.OpenNumbersCache(cfg.DataDir, cfg.NumbersCacheTTL)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("Failed to open numbers cache")
	}

	patterns, err := extract.NewManager(cfg.PatternsPath, cfg.PatternsHotReload)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load extraction patterns")
	}
	defer patterns.Close()

	client, err := scrape.NewClient(cfg, sessionMgr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build scrape client")
	}
	orchestrator := scrape.NewOrchestrator(client, patterns, cfg.BranchTimeout, cfg.DateWindowDays)

	var sink notify.Sink
	if cfg.HasTelegram() {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatIDs, patterns)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to build Telegram sink")
		}
		sink = tg
		log.Info().Int("recipients", len(cfg.TelegramChatIDs)).Msg("Telegram delivery enabled")
	} else {
		sink = notify.NopSink{}
		log.Warn().Msg("Telegram not configured - messages will be logged only")
	}

	registry := assign.NewRegistry()
	loop := monitor.NewLoop(cfg, orchestrator, sessionMgr, client, sink, novelty, dedup, cache, registry)

	// Authenticate up front so the first cycle harvests instead of logging in.
	// Failure is not fatal: the loop retries with backoff.
	log.Info().Str("portal", cfg.BaseURL).Msg("Authenticating...")
	if err := sessionMgr.Authenticate(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial authentication failed, the monitor loop will retry")
	}

	go loop.Run(ctx)

	startupCtx, startupCancel := context.WithTimeout(ctx, 15*time.Second)
	if err := sink.Broadcast(startupCtx, notify.FormatStartup(sessionMgr.Authenticated(), cfg.CheckInterval)); err != nil {
		log.Warn().Err(err).Msg("Startup broadcast failed")
	}
	startupCancel()

	// Control surface.
	handler := handlers.New(loop, sessionMgr, client, cache, registry, cfg)
	router := handlers.NewRouter(handler, cfg)

	chain := []func(http.Handler) http.Handler{
		middleware.Recovery,
		middleware.Logging,
	}

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimitEnabled {
		log.Info().
			Int("requests_per_minute", cfg.RateLimitRPM).
			Bool("trust_proxy", cfg.TrustProxy).
			Msg("Rate limiting enabled")
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimitRPM, cfg.TrustProxy)
		chain = append(chain, rateLimiter.Handler())
	}
	chain = append(chain,
		middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins}),
		middleware.SecurityHeaders,
		middleware.Timeout(5*time.Minute),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      middleware.Chain(chain...)(router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 6 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().
			Str("address", addr).
			Dur("check_interval", cfg.CheckInterval).
			Bool("telegram", cfg.HasTelegram()).
			Msg("Control surface ready")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	if rateLimiter != nil {
		rateLimiter.Close()
	}

	if err := sessionMgr.Close(); err != nil {
		log.Error().Err(err).Msg("Session manager close error")
	}
	if err := b.Close(); err != nil {
		log.Error().Err(err).Msg("Browser close error")
	}

	log.Info().Msg("Shutdown complete")
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
 _   _                     ____        _
| \ | | _____  ___   _ ___| __ )  ___ | |_
|  \| |/ _ \ \/ / | | / __|  _ \ / _ \| __|
| |\  |  __/>  <| |_| \__ \ |_) | (_) | |_
|_| \_|\___/_/\_\\__,_|___/____/ \___/ \__|
`
	style := lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	fmt.Println(style.Render(banner))

	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting NexusBot")
}
