package challenge

import (
	"context"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/nexusbot/nexusbot/internal/humanize"
	"github.com/nexusbot/nexusbot/internal/types"
)

// Resolver waits out or actively solves the anti-bot interstitial on a page.
// Resolve returns nil once the real page content is reachable.
type Resolver interface {
	Resolve(ctx context.Context, page *rod.Page) error
}

// PollingResolver waits for the challenge to clear on its own. Most visits
// pass the background checks without interaction once the fingerprint is
// clean.
type PollingResolver struct {
	wait   time.Duration
	timing *humanize.Timing
}

// NewPollingResolver creates a resolver that waits up to maxWait for the
// challenge to clear.
func NewPollingResolver(maxWait time.Duration) *PollingResolver {
	return &PollingResolver{
		wait:   maxWait,
		timing: humanize.NewTiming(),
	}
}

// Resolve polls the page until the challenge indicators disappear.
func (r *PollingResolver) Resolve(ctx context.Context, page *rod.Page) error {
	return resolveLoop(ctx, page, r.wait, r.timing, nil)
}

// InteractiveResolver waits like PollingResolver but also attempts the
// Turnstile checkbox when the widget appears: first by keyboard navigation,
// then by a humanized click inside the widget iframe.
type InteractiveResolver struct {
	wait   time.Duration
	timing *humanize.Timing
}

// NewInteractiveResolver creates a resolver that actively works the
// Turnstile widget.
func NewInteractiveResolver(maxWait time.Duration) *InteractiveResolver {
	return &InteractiveResolver{
		wait:   maxWait,
		timing: humanize.NewTiming(),
	}
}

// Resolve polls the page, engaging the Turnstile widget whenever it shows.
func (r *InteractiveResolver) Resolve(ctx context.Context, page *rod.Page) error {
	return resolveLoop(ctx, page, r.wait, r.timing, func(ctx context.Context, page *rod.Page) {
		if err := solveTurnstile(ctx, page); err != nil {
			log.Debug().Err(err).Msg("Turnstile attempt failed, will retry next poll")
		}
	})
}

// resolveLoop is the shared detection loop. interact, when non-nil, is
// invoked each time the Turnstile wrapper is on the page.
func resolveLoop(ctx context.Context, page *rod.Page, maxWait time.Duration, timing *humanize.Timing, interact func(context.Context, *rod.Page)) error {
	deadline := time.Now().Add(maxWait)
	pageURL := currentURL(page)

	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return types.NewChallengeTimeoutError(pageURL)
		default:
		}
		if time.Now().After(deadline) {
			return types.NewChallengeTimeoutError(pageURL)
		}

		title := pageTitle(page)
		selector := findChallengeSelector(page)
		inChallenge := TitleIndicatesChallenge(title) || selector != ""

		log.Debug().
			Int("attempt", attempt+1).
			Str("title", title).
			Str("challenge_selector", selector).
			Msg("Challenge detection")

		if !inChallenge {
			log.Info().Str("title", title).Msg("Challenge cleared")
			return nil
		}

		if html, err := page.HTML(); err == nil && HTMLIndicatesAccessDenied(html) {
			return types.NewAccessDeniedError(pageURL)
		}

		if selector == "#turnstile-wrapper" && interact != nil {
			interact(ctx, page)
		}

		if !humanize.SleepWithContext(ctx, timing.RandomPollInterval()) {
			return types.NewChallengeTimeoutError(pageURL)
		}
	}
}

// solveTurnstile tries the keyboard path first. It needs no iframe access,
// which matters because the widget frame is often cross-origin.
func solveTurnstile(ctx context.Context, page *rod.Page) error {
	if err := solveTurnstileKeyboard(ctx, page); err == nil {
		return nil
	}
	return solveTurnstileClick(ctx, page)
}

// solveTurnstileKeyboard tabs focus toward the checkbox and presses Space.
func solveTurnstileKeyboard(ctx context.Context, page *rod.Page) error {
	log.Debug().Msg("Trying keyboard navigation for Turnstile")

	// Let the widget finish rendering before touching it.
	if !humanize.SleepWithContext(ctx, 2*time.Second) {
		return ctx.Err()
	}

	keyboard := page.Keyboard
	for i := 0; i < 10; i++ {
		if err := keyboard.Press(input.Tab); err != nil {
			log.Debug().Err(err).Int("tab", i).Msg("Tab press failed")
			continue
		}
		if !humanize.SleepWithContext(ctx, humanize.RandomDuration(150, 300)) {
			return ctx.Err()
		}
	}

	if err := keyboard.Press(input.Space); err != nil {
		return err
	}
	log.Info().Msg("Sent keyboard Tab+Space for Turnstile")

	if !humanize.SleepWithContext(ctx, time.Second) {
		return ctx.Err()
	}

	if btn, err := page.Element("//button[contains(text(),'Verify')]"); err == nil {
		if clickErr := btn.Click(proto.InputMouseButtonLeft, 1); clickErr == nil {
			log.Info().Msg("Clicked Verify button")
		}
		_ = btn.Release()
	}

	return nil
}

// solveTurnstileClick locates the widget iframe and clicks the checkbox
// inside it with a humanized mouse movement.
func solveTurnstileClick(ctx context.Context, page *rod.Page) error {
	log.Debug().Msg("Trying iframe click for Turnstile")

	iframes, err := page.Elements("iframe")
	if err != nil {
		return err
	}
	defer func() {
		for _, iframe := range iframes {
			_ = iframe.Release()
		}
	}()

	mouse := humanize.NewMouse(page)

	for _, iframe := range iframes {
		src, err := iframe.Attribute("src")
		if err != nil || src == nil || !strings.Contains(*src, turnstileFramePattern) {
			continue
		}

		log.Debug().Str("frame_src", *src).Msg("Found Turnstile frame")

		frame, err := iframe.Frame()
		if err != nil {
			log.Debug().Err(err).Msg("Failed to enter Turnstile frame")
			continue
		}

		for _, selector := range turnstileCheckboxSelectors {
			element, err := frame.Element(selector)
			if err != nil {
				continue
			}

			clickErr := mouse.ClickElement(ctx, element)
			_ = element.Release()

			if clickErr != nil {
				log.Debug().Err(clickErr).Str("selector", selector).Msg("Checkbox click failed")
				continue
			}

			log.Info().Str("selector", selector).Msg("Clicked Turnstile checkbox")
			return nil
		}
	}

	return types.ErrChallengeUnsolvable
}

func pageTitle(page *rod.Page) string {
	info, err := page.Info()
	if err != nil {
		return ""
	}
	return info.Title
}

func currentURL(page *rod.Page) string {
	info, err := page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func findChallengeSelector(page *rod.Page) string {
	for _, selector := range challengeSelectors {
		if has, _, _ := page.Has(selector); has {
			return selector
		}
	}
	return ""
}
