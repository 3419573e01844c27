package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/nexusbot/nexusbot/internal/extract"
	"github.com/nexusbot/nexusbot/internal/types"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram delivers messages through the Bot API. Per-recipient failures are
// logged and skipped: one blocked chat must not stop delivery to the rest.
type Telegram struct {
	http       *resty.Client
	token      string
	recipients []string
	patterns   *extract.Manager
}

// NewTelegram creates a Telegram sink.
func NewTelegram(token string, recipients []string, patterns *extract.Manager) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	if len(recipients) == 0 {
		return nil, types.ErrNoRecipients
	}

	httpClient := resty.New().
		SetBaseURL(telegramAPIBase).
		SetTimeout(15 * time.Second)

	return &Telegram{
		http:       httpClient,
		token:      token,
		recipients: recipients,
		patterns:   patterns,
	}, nil
}

// sendMessage posts one message to one chat.
func (t *Telegram) sendMessage(ctx context.Context, chatID, text string) error {
	resp, err := t.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id":    chatID,
			"text":       text,
			"parse_mode": "HTML",
		}).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.token))
	if err != nil {
		return err
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("telegram replied %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// broadcast sends text to every recipient, logging failures per chat.
func (t *Telegram) broadcast(ctx context.Context, text string) error {
	var lastErr error
	delivered := 0
	for _, chatID := range t.recipients {
		if err := t.sendMessage(ctx, chatID, text); err != nil {
			log.Warn().Err(err).Str("chat_id", chatID).Msg("Telegram delivery failed")
			lastErr = err
			continue
		}
		delivered++
	}
	if delivered == 0 && lastErr != nil {
		return fmt.Errorf("all telegram deliveries failed: %w", lastErr)
	}
	return nil
}

// SendOTP delivers a classified message to every recipient, and the short
// holder notice to whoever holds the number.
func (t *Telegram) SendOTP(ctx context.Context, msg types.Message, holder string) error {
	text := FormatOTP(t.patterns.Get(), msg)
	if err := t.broadcast(ctx, text); err != nil {
		return err
	}

	if holder != "" {
		if err := t.sendMessage(ctx, holder, text); err != nil {
			log.Warn().Err(err).Str("chat_id", holder).Msg("Holder delivery failed")
		} else if err := t.sendMessage(ctx, holder, FormatHolderOTP(msg)); err != nil {
			log.Warn().Err(err).Str("chat_id", holder).Msg("Holder notice failed")
		}
	}

	return nil
}

// AlertNewRanges announces freshly appeared ranges.
func (t *Telegram) AlertNewRanges(ctx context.Context, ranges []string) error {
	if len(ranges) == 0 {
		return nil
	}
	return t.broadcast(ctx, FormatNewRanges(t.patterns.Get(), ranges))
}

// Broadcast sends a plain operational notice.
func (t *Telegram) Broadcast(ctx context.Context, text string) error {
	return t.broadcast(ctx, text)
}
