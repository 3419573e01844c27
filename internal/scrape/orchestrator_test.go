package scrape

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nexusbot/nexusbot/internal/extract"
	"github.com/nexusbot/nexusbot/internal/types"
)

// fakeFetcher serves canned HTML per branch and records the calls it saw.
type fakeFetcher struct {
	mu         sync.Mutex
	rangesHTML string
	rangesErr  error
	numbers    map[string]string // range -> fragment
	numbersErr map[string]error
	messages   map[string]string // number -> fragment
	calls      []string
}

func (f *fakeFetcher) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeFetcher) FetchRanges(_ context.Context, from, to string) (string, error) {
	f.record("ranges")
	if f.rangesErr != nil {
		return "", f.rangesErr
	}
	return f.rangesHTML, nil
}

func (f *fakeFetcher) FetchNumbersInRange(_ context.Context, _, _, rangeName string) (string, error) {
	f.record("numbers:" + rangeName)
	if err := f.numbersErr[rangeName]; err != nil {
		return "", err
	}
	return f.numbers[rangeName], nil
}

func (f *fakeFetcher) FetchMessages(_ context.Context, _, _, number, _ string) (string, error) {
	f.record("messages:" + number)
	return f.messages[number], nil
}

func rangeCard(name string) string {
	return fmt.Sprintf(`<div class="card card-body mb-1 pointer" onclick="getDetials('%s')">%s</div>`, name, name)
}

func numberCard(number string) string {
	return fmt.Sprintf(`<div class="card card-body border-bottom bg-100 p-2 rounded-0"><div class="col" onclick="x('%s')">%s</div></div>`, number, number)
}

func messageBody(text string) string {
	return fmt.Sprintf(`<div class="sms-message">%s</div>`, text)
}

func newTestOrchestrator(t *testing.T, f Fetcher) *Orchestrator {
	t.Helper()
	m, err := extract.NewManager("", false)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return NewOrchestrator(f, m, 5*time.Second, 7)
}

func TestHarvestEndToEnd(t *testing.T) {
	f := &fakeFetcher{
		rangesHTML: rangeCard("VENEZUELA 58XXX"),
		numbers: map[string]string{
			"VENEZUELA 58XXX": numberCard("584120000001"),
		},
		messages: map[string]string{
			"584120000001": messageBody("Your WhatsApp code is 947-444"),
		},
	}

	o := newTestOrchestrator(t, f)
	var ranges []string
	messages, err := o.Harvest(context.Background(), func(_ context.Context, r []string) {
		ranges = r
	})
	if err != nil {
		t.Fatalf("Harvest failed: %v", err)
	}

	if len(ranges) != 1 || ranges[0] != "VENEZUELA 58XXX" {
		t.Errorf("Unexpected ranges: %v", ranges)
	}
	if len(messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(messages))
	}

	msg := messages[0]
	if msg.Number != "584120000001" {
		t.Errorf("Expected number 584120000001, got %q", msg.Number)
	}
	if msg.Range != "VENEZUELA 58XXX" {
		t.Errorf("Expected range VENEZUELA 58XXX, got %q", msg.Range)
	}
	if msg.OTP != "947444" {
		t.Errorf("Expected OTP 947444, got %q", msg.OTP)
	}
	if msg.Service != "WhatsApp" {
		t.Errorf("Expected service WhatsApp, got %q", msg.Service)
	}
	if msg.ReceivedAt.IsZero() {
		t.Error("Expected ReceivedAt to be set")
	}
}

func TestHarvestOneBranchFailureDoesNotSinkOthers(t *testing.T) {
	f := &fakeFetcher{
		rangesHTML: rangeCard("VENEZUELA 58XXX") + rangeCard("COLOMBIA 57XXX"),
		numbers: map[string]string{
			"COLOMBIA 57XXX": numberCard("573000000001"),
		},
		numbersErr: map[string]error{
			"VENEZUELA 58XXX": errors.New("boom"),
		},
		messages: map[string]string{
			"573000000001": messageBody("Telegram code 5544"),
		},
	}

	o := newTestOrchestrator(t, f)
	var ranges []string
	messages, err := o.Harvest(context.Background(), func(_ context.Context, r []string) {
		ranges = r
	})
	if err != nil {
		t.Fatalf("Harvest must absorb branch failures, got %v", err)
	}
	if len(ranges) != 2 {
		t.Errorf("Expected both ranges reported, got %v", ranges)
	}
	if len(messages) != 1 || messages[0].Number != "573000000001" {
		t.Errorf("Expected the healthy branch to deliver, got %+v", messages)
	}
}

func TestHarvestRangesLevelFailureIsFatal(t *testing.T) {
	f := &fakeFetcher{rangesErr: errors.New("portal down")}

	o := newTestOrchestrator(t, f)
	hookCalled := false
	if _, err := o.Harvest(context.Background(), func(context.Context, []string) {
		hookCalled = true
	}); err == nil {
		t.Fatal("Expected error when the ranges level fails")
	}
	if hookCalled {
		t.Error("Range hook must not fire when discovery itself fails")
	}
}

func TestHarvestNoTraffic(t *testing.T) {
	f := &fakeFetcher{rangesHTML: "<div>no cards</div>"}

	o := newTestOrchestrator(t, f)
	var ranges []string
	messages, err := o.Harvest(context.Background(), func(_ context.Context, r []string) {
		ranges = r
	})
	if err != nil {
		t.Fatalf("Harvest failed: %v", err)
	}
	if len(messages) != 0 || len(ranges) != 0 {
		t.Errorf("Expected empty harvest, got %d messages, %v ranges", len(messages), ranges)
	}
}

func TestHarvestReportsRangesBeforeExpansion(t *testing.T) {
	f := &fakeFetcher{
		rangesHTML: rangeCard("VENEZUELA 58XXX"),
		numbers: map[string]string{
			"VENEZUELA 58XXX": numberCard("584120000001"),
		},
		messages: map[string]string{
			"584120000001": messageBody("Your WhatsApp code is 947-444"),
		},
	}

	o := newTestOrchestrator(t, f)
	_, err := o.Harvest(context.Background(), func(context.Context, []string) {
		f.record("hook")
	})
	if err != nil {
		t.Fatalf("Harvest failed: %v", err)
	}

	hookAt, firstNumbersAt := -1, -1
	f.mu.Lock()
	for i, call := range f.calls {
		if call == "hook" && hookAt == -1 {
			hookAt = i
		}
		if strings.HasPrefix(call, "numbers:") && firstNumbersAt == -1 {
			firstNumbersAt = i
		}
	}
	f.mu.Unlock()

	if hookAt == -1 {
		t.Fatal("Range hook never fired")
	}
	if firstNumbersAt != -1 && hookAt > firstNumbersAt {
		t.Errorf("Range hook fired at %d, after expansion started at %d", hookAt, firstNumbersAt)
	}
}

func TestHarvestBranchTimeout(t *testing.T) {
	slow := &slowFetcher{delay: 200 * time.Millisecond}
	m, err := extract.NewManager("", false)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	o := NewOrchestrator(slow, m, 50*time.Millisecond, 7)
	_, err = o.Harvest(context.Background(), nil)
	if err == nil {
		t.Fatal("Expected a timeout error for the ranges level")
	}
	if !errors.Is(err, types.ErrBranchTimeout) {
		t.Errorf("Expected ErrBranchTimeout, got %v", err)
	}
}

func TestDateWindow(t *testing.T) {
	f := &fakeFetcher{}
	o := newTestOrchestrator(t, f)
	o.now = func() time.Time {
		return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	}

	from, to := o.dateWindow()
	if from != "2026-08-24" {
		t.Errorf("Expected from 2026-08-24, got %q", from)
	}
	if to != "2026-09-01" {
		t.Errorf("Expected to 2026-09-01, got %q", to)
	}
}

// slowFetcher blocks until the context expires.
type slowFetcher struct {
	delay time.Duration
}

func (s *slowFetcher) FetchRanges(ctx context.Context, _, _ string) (string, error) {
	select {
	case <-time.After(s.delay):
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *slowFetcher) FetchNumbersInRange(ctx context.Context, _, _, _ string) (string, error) {
	return "", ctx.Err()
}

func (s *slowFetcher) FetchMessages(ctx context.Context, _, _, _, _ string) (string, error) {
	return "", ctx.Err()
}
