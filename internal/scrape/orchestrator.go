package scrape

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/nexusbot/nexusbot/internal/extract"
	"github.com/nexusbot/nexusbot/internal/types"
)

// Fetcher is the portal surface the orchestrator fans out over.
type Fetcher interface {
	FetchRanges(ctx context.Context, from, to string) (string, error)
	FetchNumbersInRange(ctx context.Context, from, to, rangeName string) (string, error)
	FetchMessages(ctx context.Context, from, to, number, rangeName string) (string, error)
}

// maxBranchParallel caps concurrent branch fetches. The rate limiter already
// paces individual requests; this bounds goroutine growth on portals with
// many ranges.
const maxBranchParallel = 4

// Orchestrator walks the portal's three listing levels and assembles
// classified messages. One failing branch never sinks a harvest: the branch
// is logged and its results substituted with nothing.
type Orchestrator struct {
	fetcher       Fetcher
	patterns      *extract.Manager
	branchTimeout time.Duration
	windowDays    int
	now           func() time.Time
}

// NewOrchestrator creates a harvest orchestrator.
func NewOrchestrator(fetcher Fetcher, patterns *extract.Manager, branchTimeout time.Duration, windowDays int) *Orchestrator {
	return &Orchestrator{
		fetcher:       fetcher,
		patterns:      patterns,
		branchTimeout: branchTimeout,
		windowDays:    windowDays,
		now:           time.Now,
	}
}

// dateWindow returns the from/to bounds the portal expects: ISO dates, the
// upper bound one day ahead so today's traffic is always inside the window.
func (o *Orchestrator) dateWindow() (from, to string) {
	now := o.now()
	from = now.AddDate(0, 0, -o.windowDays).Format("2006-01-02")
	to = now.AddDate(0, 0, 1).Format("2006-01-02")
	return from, to
}

// Harvest performs one full scrape: ranges, then numbers per range, then
// messages per number. onRanges, when non-nil, is invoked with the range
// labels right after discovery and before any per-range expansion, so
// novelty alerts go out even when every branch below fails.
func (o *Orchestrator) Harvest(ctx context.Context, onRanges func(context.Context, []string)) ([]types.Message, error) {
	from, to := o.dateWindow()

	rangesHTML, err := o.fetchBranch(ctx, "ranges", "all", func(ctx context.Context) (string, error) {
		return o.fetcher.FetchRanges(ctx, from, to)
	})
	if err != nil {
		return nil, err
	}

	ranges, err := ParseRanges(rangesHTML)
	if err != nil {
		return nil, types.NewBadReplyError("ranges", "all", err)
	}
	if onRanges != nil {
		onRanges(ctx, ranges)
	}
	if len(ranges) == 0 {
		log.Debug().Msg("No ranges with traffic in window")
		return nil, nil
	}

	log.Debug().Int("ranges", len(ranges)).Msg("Harvest fan-out starting")

	var mu sync.Mutex
	var messages []types.Message
	receivedAt := o.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBranchParallel)

	for _, rangeName := range ranges {
		rangeName := rangeName
		g.Go(func() error {
			rangeMsgs := o.harvestRange(gctx, to, rangeName, receivedAt)
			if len(rangeMsgs) > 0 {
				mu.Lock()
				messages = append(messages, rangeMsgs...)
				mu.Unlock()
			}
			// Branch errors are absorbed inside harvestRange; returning
			// one here would cancel the sibling branches.
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info().
		Int("ranges", len(ranges)).
		Int("messages", len(messages)).
		Msg("Harvest complete")
	return messages, nil
}

// harvestRange walks one range branch: its numbers, then each number's
// messages. Failures degrade to an empty result for the branch.
func (o *Orchestrator) harvestRange(ctx context.Context, to, rangeName string, receivedAt time.Time) []types.Message {
	numbersHTML, err := o.fetchBranch(ctx, "numbers", rangeName, func(ctx context.Context) (string, error) {
		return o.fetcher.FetchNumbersInRange(ctx, "", to, rangeName)
	})
	if err != nil {
		log.Warn().Err(err).Str("range", rangeName).Msg("Range branch failed, skipping")
		return nil
	}

	numbers, err := ParseNumbers(numbersHTML)
	if err != nil || len(numbers) == 0 {
		return nil
	}

	tables := o.patterns.Get()
	var out []types.Message

	for _, number := range numbers {
		select {
		case <-ctx.Done():
			return out
		default:
		}

		msgsHTML, err := o.fetchBranch(ctx, "messages", number, func(ctx context.Context) (string, error) {
			return o.fetcher.FetchMessages(ctx, "", to, number, rangeName)
		})
		if err != nil {
			log.Warn().Err(err).Str("number", number).Msg("Number branch failed, skipping")
			continue
		}

		bodies, err := ParseMessages(msgsHTML)
		if err != nil {
			continue
		}

		for _, body := range bodies {
			out = append(out, types.Message{
				Number:     number,
				Range:      rangeName,
				Service:    tables.Service(body),
				OTP:        extract.OTP(body),
				Text:       body,
				ReceivedAt: receivedAt,
			})
		}
	}

	return out
}

// fetchBranch runs one fetch under the per-branch timeout.
func (o *Orchestrator) fetchBranch(ctx context.Context, level, branch string, fn func(context.Context) (string, error)) (string, error) {
	branchCtx, cancel := context.WithTimeout(ctx, o.branchTimeout)
	defer cancel()

	html, err := fn(branchCtx)
	if err != nil {
		if branchCtx.Err() == context.DeadlineExceeded {
			return "", types.NewBranchTimeoutError(level, branch)
		}
		return "", err
	}
	return html, nil
}
