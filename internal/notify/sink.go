// Package notify delivers harvested OTP messages and operational alerts to
// recipients. Telegram is the production sink; Sink keeps the monitor loop
// testable without network access.
package notify

import (
	"context"

	"github.com/nexusbot/nexusbot/internal/types"
)

// Sink receives harvested messages and operational alerts.
type Sink interface {
	// SendOTP delivers one classified message to all recipients, plus the
	// holder of the number if one is assigned.
	SendOTP(ctx context.Context, msg types.Message, holder string) error
	// AlertNewRanges announces freshly appeared range labels.
	AlertNewRanges(ctx context.Context, ranges []string) error
	// Broadcast sends a plain operational notice to all recipients.
	Broadcast(ctx context.Context, text string) error
}

// NopSink discards everything. Used when no Telegram credentials are
// configured so the monitor loop never has to nil-check its sink.
type NopSink struct{}

func (NopSink) SendOTP(context.Context, types.Message, string) error { return nil }
func (NopSink) AlertNewRanges(context.Context, []string) error       { return nil }
func (NopSink) Broadcast(context.Context, string) error              { return nil }
