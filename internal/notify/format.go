package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/nexusbot/nexusbot/internal/extract"
	"github.com/nexusbot/nexusbot/internal/types"
)

const divider = "━━━━━━━━━━━━━━━━━━━━"

// FormatOTP renders one harvested message as Telegram HTML. The number is
// masked so forwarded screenshots do not leak the full number.
func FormatOTP(patterns *extract.Patterns, msg types.Message) string {
	country, flag := patterns.Country(msg.Range)

	code := msg.OTP
	if code == "" {
		code = "n/a"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ <b>New %s OTP Received</b>\n\n", html.EscapeString(msg.Service))
	b.WriteString(divider + "\n")
	fmt.Fprintf(&b, "⏰ <b>Time:</b> %s\n", msg.ReceivedAt.Format(time.RFC1123))
	fmt.Fprintf(&b, "🌍 <b>Country:</b> %s %s\n", flag, html.EscapeString(country))
	fmt.Fprintf(&b, "🛠 <b>Service:</b> %s\n", html.EscapeString(msg.Service))
	fmt.Fprintf(&b, "📱 <b>Number:</b> %s\n", extract.MaskNumber(msg.Number))
	fmt.Fprintf(&b, "🔑 <b>OTP:</b> <code>%s</code>\n", html.EscapeString(code))
	b.WriteString(divider + "\n")
	b.WriteString("💬 <b>Message:</b>\n")
	fmt.Fprintf(&b, "<blockquote>%s</blockquote>", html.EscapeString(msg.Text))
	return b.String()
}

// FormatHolderOTP renders the short direct notice for the number's holder.
func FormatHolderOTP(msg types.Message) string {
	code := msg.OTP
	if code == "" {
		code = "n/a"
	}
	return fmt.Sprintf("🔑 Your OTP: <code>%s</code>\n✅ Number session cleared.", html.EscapeString(code))
}

// FormatNewRanges renders the alert for freshly appeared ranges.
func FormatNewRanges(patterns *extract.Patterns, ranges []string) string {
	var b strings.Builder
	b.WriteString("🆕 <b>New Range(s) Detected!</b>\n\n")
	for i, r := range ranges {
		if i > 0 {
			b.WriteString("\n")
		}
		_, flag := patterns.Country(r)
		fmt.Fprintf(&b, "%s <b>%s</b>", flag, html.EscapeString(r))
	}
	return b.String()
}

// FormatStartup renders the startup broadcast.
func FormatStartup(sessionReady bool, checkInterval time.Duration) string {
	state := "⚠️ Session invalid — visit /admin to update cookies"
	if sessionReady {
		state = "✅ Session ready — monitoring active"
	}
	return fmt.Sprintf("🚀 <b>Monitor Started!</b>\n\n%s\n🔁 Checking every %s", state, checkInterval)
}
