package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nexusbot/nexusbot/internal/assign"
	"github.com/nexusbot/nexusbot/internal/config"
	"github.com/nexusbot/nexusbot/internal/store"
	"github.com/nexusbot/nexusbot/internal/types"
)

type fakeHarvester struct {
	mu       sync.Mutex
	messages []types.Message
	ranges   []string
	err      error
	calls    int
}

func (f *fakeHarvester) Harvest(ctx context.Context, onRanges func(context.Context, []string)) ([]types.Message, error) {
	f.mu.Lock()
	messages, ranges, err := f.messages, f.ranges, f.err
	f.calls++
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if onRanges != nil {
		onRanges(ctx, ranges)
	}
	return messages, nil
}

type fakeAuth struct {
	mu            sync.Mutex
	authenticated bool
	authErr       error
	authCalls     int
	invalidations int
	refreshCalls  int
	recycles      int
}

func (f *fakeAuth) Authenticate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	if f.authErr != nil {
		return f.authErr
	}
	f.authenticated = true
	return nil
}

func (f *fakeAuth) Authenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authenticated
}

func (f *fakeAuth) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authenticated = false
	f.invalidations++
}

func (f *fakeAuth) RefreshToken(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	return nil
}

func (f *fakeAuth) Recycle(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recycles++
	f.authenticated = false
	return nil
}

type fakeDirectory struct {
	records []types.NumberRecord
	err     error
	calls   int
}

func (f *fakeDirectory) FetchNumberDirectory(context.Context) ([]types.NumberRecord, error) {
	f.calls++
	return f.records, f.err
}

type fakeSink struct {
	mu     sync.Mutex
	otps   []types.Message
	alerts [][]string
}

func (f *fakeSink) SendOTP(_ context.Context, msg types.Message, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.otps = append(f.otps, msg)
	return nil
}

func (f *fakeSink) AlertNewRanges(_ context.Context, ranges []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, ranges)
	return nil
}

func (f *fakeSink) Broadcast(context.Context, string) error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		CheckInterval:    10 * time.Second,
		ErrorBackoff:     30 * time.Second,
		FailureThreshold: 5,
	}
}

func newTestLoop(t *testing.T, h *fakeHarvester, a *fakeAuth, d *fakeDirectory, s *fakeSink) *Loop {
	t.Helper()
	dir := t.TempDir()

	novelty, err := store.OpenNovelty(dir)
	if err != nil {
		t.Fatalf("OpenNovelty failed: %v", err)
	}
	dedup, err := store.OpenDedup(dir)
	if err != nil {
		t.Fatalf("OpenDedup failed: %v", err)
	}
	cache := store.NewNumbersCache(10 * time.Minute)

	return NewLoop(testConfig(), h, a, d, s, novelty, dedup, cache, assign.NewRegistry())
}

func testMsg(number, otp, text string) types.Message {
	return types.Message{
		Number:     number,
		Range:      "VENEZUELA 58XXX",
		Service:    "WhatsApp",
		OTP:        otp,
		Text:       text,
		ReceivedAt: time.Now(),
	}
}

func TestCheckOnceDeliversFreshMessages(t *testing.T) {
	h := &fakeHarvester{
		messages: []types.Message{testMsg("584120000001", "947444", "code 947-444")},
		ranges:   []string{"VENEZUELA 58XXX"},
	}
	a := &fakeAuth{authenticated: true}
	s := &fakeSink{}
	l := newTestLoop(t, h, a, &fakeDirectory{}, s)

	delivered, err := l.CheckOnce(context.Background())
	if err != nil {
		t.Fatalf("CheckOnce failed: %v", err)
	}
	if delivered != 1 || len(s.otps) != 1 {
		t.Fatalf("Expected 1 delivery, got %d (sink saw %d)", delivered, len(s.otps))
	}

	// Same message again: deduplicated.
	delivered, err = l.CheckOnce(context.Background())
	if err != nil {
		t.Fatalf("CheckOnce failed: %v", err)
	}
	if delivered != 0 || len(s.otps) != 1 {
		t.Errorf("Expected repeat to be deduplicated, delivered %d", delivered)
	}
}

func TestCheckOnceSkipsMessagesWithoutCode(t *testing.T) {
	h := &fakeHarvester{
		messages: []types.Message{testMsg("584120000001", "", "welcome message")},
	}
	a := &fakeAuth{authenticated: true}
	s := &fakeSink{}
	l := newTestLoop(t, h, a, &fakeDirectory{}, s)

	delivered, err := l.CheckOnce(context.Background())
	if err != nil {
		t.Fatalf("CheckOnce failed: %v", err)
	}
	if delivered != 0 || len(s.otps) != 0 {
		t.Error("Messages without a code must not be delivered")
	}
}

func TestCheckOnceAuthenticatesWhenSessionMissing(t *testing.T) {
	h := &fakeHarvester{}
	a := &fakeAuth{authenticated: false}
	l := newTestLoop(t, h, a, &fakeDirectory{}, &fakeSink{})

	if _, err := l.CheckOnce(context.Background()); err != nil {
		t.Fatalf("CheckOnce failed: %v", err)
	}
	if a.authCalls != 1 {
		t.Errorf("Expected one authentication attempt, got %d", a.authCalls)
	}
}

func TestFailureThresholdForcesReauth(t *testing.T) {
	h := &fakeHarvester{err: errors.New("portal down")}
	a := &fakeAuth{authenticated: true}
	l := newTestLoop(t, h, a, &fakeDirectory{}, &fakeSink{})

	for i := 0; i < 5; i++ {
		if _, err := l.CheckOnce(context.Background()); err == nil {
			t.Fatal("Expected failing cycle to return an error")
		}
		// Keep the session "valid" so the failures hit the harvester, not auth.
		a.mu.Lock()
		a.authenticated = true
		a.mu.Unlock()
	}

	if a.invalidations != 1 {
		t.Errorf("Expected exactly one invalidation at the threshold, got %d", a.invalidations)
	}
	if l.Status().FailureStreak != 0 {
		t.Error("Expected streak reset after threshold invalidation")
	}
}

func TestTokenRefreshedEveryCycle(t *testing.T) {
	h := &fakeHarvester{}
	a := &fakeAuth{authenticated: true}
	l := newTestLoop(t, h, a, &fakeDirectory{}, &fakeSink{})

	for i := 0; i < 3; i++ {
		if _, err := l.CheckOnce(context.Background()); err != nil {
			t.Fatalf("CheckOnce failed: %v", err)
		}
	}
	if a.refreshCalls != 3 {
		t.Errorf("Expected a token refresh per cycle, got %d", a.refreshCalls)
	}
}

func TestRepeatedThresholdFailuresRecycleBrowser(t *testing.T) {
	h := &fakeHarvester{err: errors.New("portal down")}
	a := &fakeAuth{authenticated: true}
	l := newTestLoop(t, h, a, &fakeDirectory{}, &fakeSink{})

	// Two full failure streaks: the first threshold forces a re-auth, the
	// second escalates to a browser recycle.
	for i := 0; i < 10; i++ {
		if _, err := l.CheckOnce(context.Background()); err == nil {
			t.Fatal("Expected failing cycle to return an error")
		}
		a.mu.Lock()
		a.authenticated = true
		a.mu.Unlock()
	}

	if a.invalidations != 2 {
		t.Errorf("Expected two forced re-auths, got %d", a.invalidations)
	}
	if a.recycles != 1 {
		t.Errorf("Expected one browser recycle after the second streak, got %d", a.recycles)
	}
}

func TestNotAuthenticatedErrorInvalidatesImmediately(t *testing.T) {
	h := &fakeHarvester{err: types.ErrNotAuthenticated}
	a := &fakeAuth{authenticated: true}
	l := newTestLoop(t, h, a, &fakeDirectory{}, &fakeSink{})

	if _, err := l.CheckOnce(context.Background()); err == nil {
		t.Fatal("Expected error")
	}
	if a.invalidations == 0 {
		t.Error("Expected session invalidated on portal rejection")
	}
}

func TestNewRangeAlertOnlyForFreshRanges(t *testing.T) {
	h := &fakeHarvester{ranges: []string{"VENEZUELA 58XXX"}}
	a := &fakeAuth{authenticated: true}
	s := &fakeSink{}
	l := newTestLoop(t, h, a, &fakeDirectory{}, s)

	// First cycle baselines silently (cold start).
	if _, err := l.CheckOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(s.alerts) != 0 {
		t.Fatalf("Cold start must not alert, got %v", s.alerts)
	}

	h.mu.Lock()
	h.ranges = []string{"VENEZUELA 58XXX", "COLOMBIA 57XXX"}
	h.mu.Unlock()

	if _, err := l.CheckOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(s.alerts) != 1 || len(s.alerts[0]) != 1 || s.alerts[0][0] != "COLOMBIA 57XXX" {
		t.Errorf("Expected one alert for the fresh range, got %v", s.alerts)
	}
}

func TestNumbersCacheRefreshedWhenStale(t *testing.T) {
	h := &fakeHarvester{}
	a := &fakeAuth{authenticated: true}
	d := &fakeDirectory{records: []types.NumberRecord{{Number: "584120000001", Range: "VENEZUELA 58XXX"}}}
	l := newTestLoop(t, h, a, d, &fakeSink{})

	if _, err := l.CheckOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if d.calls != 1 {
		t.Fatalf("Expected one directory fetch, got %d", d.calls)
	}

	// Cache is fresh now: second cycle must not refetch.
	if _, err := l.CheckOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if d.calls != 1 {
		t.Errorf("Expected cache hit on second cycle, directory fetched %d times", d.calls)
	}
}

func TestDeliveryClearsAssignment(t *testing.T) {
	h := &fakeHarvester{
		messages: []types.Message{testMsg("584120000001", "947444", "code 947-444")},
	}
	a := &fakeAuth{authenticated: true}
	l := newTestLoop(t, h, a, &fakeDirectory{}, &fakeSink{})

	l.registry.Claim("user1", "584120000001")
	if _, err := l.CheckOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if l.registry.HolderOf("584120000001") != "" {
		t.Error("Expected claim cleared after delivery to holder")
	}
}

func TestStatusSnapshot(t *testing.T) {
	h := &fakeHarvester{
		messages: []types.Message{testMsg("584120000001", "947444", "code 947-444")},
		ranges:   []string{"VENEZUELA 58XXX"},
	}
	a := &fakeAuth{authenticated: true}
	l := newTestLoop(t, h, a, &fakeDirectory{}, &fakeSink{})

	if _, err := l.CheckOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	st := l.Status()
	if st.ChecksTotal != 1 {
		t.Errorf("Expected 1 check, got %d", st.ChecksTotal)
	}
	if st.MessagesSent != 1 {
		t.Errorf("Expected 1 message sent, got %d", st.MessagesSent)
	}
	if !st.Authenticated {
		t.Error("Expected authenticated status")
	}
	if st.SeenFingerprint != 1 {
		t.Errorf("Expected 1 seen fingerprint, got %d", st.SeenFingerprint)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h := &fakeHarvester{}
	a := &fakeAuth{authenticated: true}
	l := newTestLoop(t, h, a, &fakeDirectory{}, &fakeSink{})
	l.sleep = func(ctx context.Context, _ time.Duration) bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Millisecond):
			return true
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}

	if l.Status().Running {
		t.Error("Expected running=false after Run returned")
	}
}

func TestStatsRecordsPerRange(t *testing.T) {
	s := NewStats()
	s.Record("VENEZUELA 58XXX")
	s.Record("VENEZUELA 58XXX")
	s.Record("")

	if got := s.Delivered("VENEZUELA 58XXX"); got != 2 {
		t.Errorf("Expected 2 deliveries, got %d", got)
	}
	snap := s.Snapshot()
	if snap["unknown"].Delivered != 1 {
		t.Errorf("Expected empty range bucketed as unknown, got %+v", snap)
	}
}
