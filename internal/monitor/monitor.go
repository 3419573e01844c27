// Package monitor runs the supervising loop: harvest on a steady cadence,
// deliver fresh codes, refresh the numbers cache, and re-authenticate when
// the portal session decays. The loop is the only component that decides
// WHEN things happen; everything it calls decides HOW.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexusbot/nexusbot/internal/assign"
	"github.com/nexusbot/nexusbot/internal/config"
	"github.com/nexusbot/nexusbot/internal/extract"
	"github.com/nexusbot/nexusbot/internal/humanize"
	"github.com/nexusbot/nexusbot/internal/notify"
	"github.com/nexusbot/nexusbot/internal/store"
	"github.com/nexusbot/nexusbot/internal/types"
)

// Harvester performs one full portal scrape. onRanges is called with the
// discovered range labels before per-range expansion begins.
type Harvester interface {
	Harvest(ctx context.Context, onRanges func(context.Context, []string)) ([]types.Message, error)
}

// Authenticator manages the portal session.
type Authenticator interface {
	Authenticate(ctx context.Context) error
	Authenticated() bool
	Invalidate()
	RefreshToken(ctx context.Context) error
	Recycle(ctx context.Context) error
}

// Directory fetches the owned-numbers directory.
type Directory interface {
	FetchNumberDirectory(ctx context.Context) ([]types.NumberRecord, error)
}

// Loop supervises the harvest cycle.
type Loop struct {
	cfg       *config.Config
	harvester Harvester
	auth      Authenticator
	directory Directory
	sink      notify.Sink
	novelty   *store.Novelty
	dedup     *store.Dedup
	cache     *store.NumbersCache
	registry  *assign.Registry
	stats     *Stats

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool

	mu            sync.Mutex
	running       bool
	startedAt     time.Time
	lastCheck     time.Time
	checksTotal   int64
	messagesSent  int64
	failureStreak int
	forcedReauths int
	lastError     string
}

// NewLoop wires the supervising loop.
func NewLoop(cfg *config.Config, harvester Harvester, auth Authenticator, directory Directory, sink notify.Sink, novelty *store.Novelty, dedup *store.Dedup, cache *store.NumbersCache, registry *assign.Registry) *Loop {
	return &Loop{
		cfg:       cfg,
		harvester: harvester,
		auth:      auth,
		directory: directory,
		sink:      sink,
		novelty:   novelty,
		dedup:     dedup,
		cache:     cache,
		registry:  registry,
		stats:     NewStats(),
		now:       time.Now,
		sleep: func(ctx context.Context, d time.Duration) bool {
			return humanize.SleepWithJitter(ctx, d, 0.1)
		},
	}
}

// Run drives the cycle until the context ends. Healthy cycles pace at the
// check interval; a failed cycle backs off longer so a struggling portal is
// not hammered.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	l.running = true
	l.startedAt = l.now()
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	log.Info().
		Dur("check_interval", l.cfg.CheckInterval).
		Dur("error_backoff", l.cfg.ErrorBackoff).
		Int("failure_threshold", l.cfg.FailureThreshold).
		Msg("Monitor loop starting")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Monitor loop stopping")
			return
		default:
		}

		delay := l.cfg.CheckInterval
		if _, err := l.CheckOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			delay = l.cfg.ErrorBackoff
		}

		if !l.sleep(ctx, delay) {
			return
		}
	}
}

// CheckOnce performs one full cycle: ensure the session, refresh the numbers
// cache when stale, harvest, announce new ranges, deliver fresh codes.
// Returns how many messages were delivered.
func (l *Loop) CheckOnce(ctx context.Context) (int, error) {
	l.mu.Lock()
	l.checksTotal++
	l.lastCheck = l.now()
	l.mu.Unlock()

	if !l.auth.Authenticated() {
		log.Info().Msg("Session missing, authenticating")
		if err := l.auth.Authenticate(ctx); err != nil {
			l.recordFailure(ctx, err)
			return 0, err
		}
	}

	// The portal rotates the anti-forgery token between actions. A failed
	// refresh is not fatal: the scrape client keeps the last token and a
	// rejection falls through to the re-auth path below.
	if err := l.auth.RefreshToken(ctx); err != nil {
		log.Warn().Err(err).Msg("Token refresh failed, keeping the last token")
	}

	l.refreshNumbersCache(ctx)

	messages, err := l.harvester.Harvest(ctx, l.announceNewRanges)
	if err != nil {
		l.recordFailure(ctx, err)
		if errors.Is(err, types.ErrNotAuthenticated) {
			log.Warn().Msg("Session rejected mid-harvest, invalidating")
			l.auth.Invalidate()
		}
		return 0, err
	}

	delivered := l.deliver(ctx, messages)

	l.mu.Lock()
	l.failureStreak = 0
	l.forcedReauths = 0
	l.lastError = ""
	l.messagesSent += int64(delivered)
	l.mu.Unlock()

	return delivered, nil
}

// recordFailure bumps the failure streak; hitting the threshold invalidates
// the session so the next cycle re-authenticates from scratch. When even the
// forced re-auth fails to break the streak, the browser itself is recycled.
func (l *Loop) recordFailure(ctx context.Context, err error) {
	l.mu.Lock()
	l.failureStreak++
	l.lastError = err.Error()
	streak := l.failureStreak
	l.mu.Unlock()

	log.Warn().Err(err).Int("failure_streak", streak).Msg("Check cycle failed")

	if streak < l.cfg.FailureThreshold {
		return
	}

	log.Warn().
		Int("threshold", l.cfg.FailureThreshold).
		Msg("Failure threshold reached, forcing re-authentication")
	l.auth.Invalidate()

	l.mu.Lock()
	l.failureStreak = 0
	l.forcedReauths++
	forced := l.forcedReauths
	l.mu.Unlock()

	if forced < 2 {
		return
	}
	log.Warn().Msg("Re-authentication is not recovering, recycling the browser")
	if err := l.auth.Recycle(ctx); err != nil {
		log.Error().Err(err).Msg("Browser recycle failed")
		return
	}
	l.mu.Lock()
	l.forcedReauths = 0
	l.mu.Unlock()
}

// refreshNumbersCache refreshes the directory when the cache has gone stale.
// A failed refresh keeps serving the previous snapshot.
func (l *Loop) refreshNumbersCache(ctx context.Context) {
	if _, fresh := l.cache.Get(); fresh {
		return
	}

	records, err := l.directory.FetchNumberDirectory(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Number directory refresh failed, keeping previous snapshot")
		return
	}
	l.cache.Set(records)
}

// announceNewRanges alerts on range labels never seen before. Passed to the
// harvester as its discovery hook, so alerts fire before per-range expansion.
func (l *Loop) announceNewRanges(ctx context.Context, ranges []string) {
	fresh := l.novelty.Observe(ranges)
	if len(fresh) == 0 {
		return
	}

	log.Info().Strs("ranges", fresh).Msg("New ranges detected")
	if err := l.sink.AlertNewRanges(ctx, fresh); err != nil {
		log.Warn().Err(err).Msg("New range alert failed")
	}
}

// deliver sends every not-yet-seen message that carries a code. The dedup
// mark happens before the send: a crash between mark and send loses one
// notification rather than ever duplicating one.
func (l *Loop) deliver(ctx context.Context, messages []types.Message) int {
	delivered := 0
	for _, msg := range messages {
		if msg.OTP == "" {
			continue
		}

		fp := extract.Fingerprint(msg.Number, msg.OTP, msg.Text)
		if !l.dedup.TryMarkSent(fp) {
			continue
		}

		holder := l.registry.HolderOf(msg.Number)
		if err := l.sink.SendOTP(ctx, msg, holder); err != nil {
			log.Warn().Err(err).Str("number", msg.Number).Msg("Delivery failed")
			continue
		}
		if holder != "" {
			l.registry.ClearNumber(msg.Number)
		}

		l.stats.Record(msg.Range)
		delivered++
	}

	if delivered > 0 {
		log.Info().Int("delivered", delivered).Msg("Messages delivered")
	}
	return delivered
}

// Status returns the operational snapshot.
func (l *Loop) Status() types.Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	var uptime int64
	if !l.startedAt.IsZero() {
		uptime = int64(l.now().Sub(l.startedAt).Seconds())
	}

	return types.Status{
		Running:         l.running,
		Authenticated:   l.auth.Authenticated(),
		StartedAt:       l.startedAt,
		UptimeSeconds:   uptime,
		LastCheck:       l.lastCheck,
		ChecksTotal:     l.checksTotal,
		MessagesSent:    l.messagesSent,
		FailureStreak:   l.failureStreak,
		LastError:       l.lastError,
		KnownRanges:     l.novelty.Count(),
		CachedNumbers:   l.cache.Count(),
		SeenFingerprint: l.dedup.Count(),
	}
}

// RangeStats returns the per-range delivery counters.
func (l *Loop) RangeStats() map[string]RangeStatsJSON {
	return l.stats.Snapshot()
}
