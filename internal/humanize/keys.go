package humanize

import (
	"context"

	"github.com/go-rod/rod"
)

// TypeInto types text into an element one rune at a time with randomized
// inter-keystroke delays. The element is clicked first so the field holds
// focus, then each rune is inserted through the page's input pipeline so
// key events fire the way they do for a real keyboard.
func TypeInto(ctx context.Context, mouse *Mouse, timing *Timing, element *rod.Element, text string) error {
	if err := mouse.ClickElement(ctx, element); err != nil {
		return err
	}

	for _, r := range text {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := element.Input(string(r)); err != nil {
			return err
		}
		if !sleepWithContext(ctx, timing.TypingDelay()) {
			return ctx.Err()
		}
	}

	return nil
}
