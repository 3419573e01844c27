package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/nexusbot/nexusbot/internal/config"
	"github.com/nexusbot/nexusbot/internal/ratelimit"
	"github.com/nexusbot/nexusbot/internal/types"
	"github.com/nexusbot/nexusbot/pkg/version"
)

// SnapshotProvider hands out the current authenticated session state.
type SnapshotProvider interface {
	Snapshot() types.SessionSnapshot
}

// Client talks to the portal's AJAX endpoints over plain HTTP, riding the
// cookies and CSRF token the browser session earned. Much cheaper than
// driving the browser for every fetch, and the portal accepts it as long as
// the cookie fingerprint matches.
type Client struct {
	http     *resty.Client
	limiter  *rate.Limiter
	sessions SnapshotProvider
}

// NewClient creates a portal scrape client.
func NewClient(cfg *config.Config, sessions SnapshotProvider) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.ScrapeRPS), 1)

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetCookieJar(jar).
		SetTimeout(30 * time.Second).
		SetHeader("User-Agent", version.UserAgent).
		SetHeader("X-Requested-With", "XMLHttpRequest").
		SetHeader("Accept-Language", "en-US,en;q=0.9")

	c := &Client{
		http:     httpClient,
		limiter:  limiter,
		sessions: sessions,
	}

	// Every request waits for a limiter slot and carries the freshest
	// session state. The portal throttles aggressive clients, and worse,
	// flags them for a new challenge.
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if err := limiter.Wait(req.Context()); err != nil {
			return err
		}
		snap := sessions.Snapshot()
		if !snap.Valid() {
			return types.ErrNotAuthenticated
		}
		req.SetHeader("Cookie", snap.CookieHeader)
		req.SetHeader("X-CSRF-TOKEN", snap.CSRFToken)
		return nil
	})

	return c, nil
}

// checkReply converts portal error statuses to typed errors.
func checkReply(resp *resty.Response, endpoint string) error {
	switch resp.StatusCode() {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden, 419:
		// 419 is the framework's "token mismatch" status: the session or
		// CSRF token has gone stale.
		log.Warn().Int("status", resp.StatusCode()).Str("endpoint", endpoint).Msg("Portal rejected session")
		return types.ErrNotAuthenticated
	default:
		return types.NewBadReplyError("http", endpoint, fmt.Errorf("status %d", resp.StatusCode()))
	}
}

// checkBlocked scans a 200-status reply body for throttle and block pages
// the portal serves instead of real content. Only applied to the structural
// levels (ranges, numbers, directory) where no user-written text can trip
// the patterns.
func checkBlocked(resp *resty.Response, endpoint string) error {
	info := ratelimit.Detect(resp.StatusCode(), resp.String())
	if !info.Detected {
		return nil
	}

	log.Warn().
		Str("endpoint", endpoint).
		Str("code", info.ErrorCode).
		Str("category", string(info.Category)).
		Msg("Portal served a block page")

	if info.SessionBurned() {
		return types.ErrNotAuthenticated
	}
	return types.NewBadReplyError("http", endpoint, fmt.Errorf("%s (%s)", info.Description, info.ErrorCode))
}

// FetchRanges fetches the received-SMS summary listing all ranges with
// traffic in the date window.
func (c *Client) FetchRanges(ctx context.Context, from, to string) (string, error) {
	const endpoint = "/portal/sms/received/getsms"
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"from":   from,
			"to":     to,
			"_token": c.sessions.Snapshot().CSRFToken,
		}).
		Post(endpoint)
	if err != nil {
		return "", fmt.Errorf("fetching ranges: %w", err)
	}
	if err := checkReply(resp, endpoint); err != nil {
		return "", err
	}
	if err := checkBlocked(resp, endpoint); err != nil {
		return "", err
	}
	return resp.String(), nil
}

// FetchNumbersInRange fetches the numbers that received messages within a
// range.
func (c *Client) FetchNumbersInRange(ctx context.Context, from, to, rangeName string) (string, error) {
	const endpoint = "/portal/sms/received/getsms/number"
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"start":  from,
			"end":    to,
			"range":  rangeName,
			"_token": c.sessions.Snapshot().CSRFToken,
		}).
		Post(endpoint)
	if err != nil {
		return "", fmt.Errorf("fetching numbers for range %q: %w", rangeName, err)
	}
	if err := checkReply(resp, endpoint); err != nil {
		return "", err
	}
	if err := checkBlocked(resp, endpoint); err != nil {
		return "", err
	}
	return resp.String(), nil
}

// FetchMessages fetches the message bodies for one number in one range.
func (c *Client) FetchMessages(ctx context.Context, from, to, number, rangeName string) (string, error) {
	const endpoint = "/portal/sms/received/getsms/number/sms"
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"start":  from,
			"end":    to,
			"Number": number,
			"Range":  rangeName,
			"_token": c.sessions.Snapshot().CSRFToken,
		}).
		Post(endpoint)
	if err != nil {
		return "", fmt.Errorf("fetching messages for %s: %w", number, err)
	}
	if err := checkReply(resp, endpoint); err != nil {
		return "", err
	}
	return resp.String(), nil
}

// FetchNumberDirectory fetches the full owned-numbers directory. The
// endpoint speaks the DataTables server-side protocol; when the reply is not
// the expected JSON, the HTML page is parsed as a fallback.
func (c *Client) FetchNumberDirectory(ctx context.Context) ([]types.NumberRecord, error) {
	const endpoint = "/portal/numbers"
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json, text/javascript, */*; q=0.01").
		SetQueryParams(map[string]string{
			"draw":   "1",
			"start":  "0",
			"length": "500",
		}).
		Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetching number directory: %w", err)
	}
	if err := checkReply(resp, endpoint); err != nil {
		return nil, err
	}
	if err := checkBlocked(resp, endpoint); err != nil {
		return nil, err
	}

	body := resp.String()
	if records := parseDirectoryJSON(body); records != nil {
		return records, nil
	}

	log.Debug().Msg("Number directory reply was not DataTables JSON, parsing HTML")
	return parseDirectoryHTML(body)
}

// parseDirectoryJSON decodes a DataTables reply. Row layout observed on the
// portal: column 1 holds the number, column 2 the range, both wrapped in
// markup. Returns nil when the body is not the expected shape.
func parseDirectoryJSON(body string) []types.NumberRecord {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}

	parsed := gson.NewFrom(trimmed)
	data := parsed.Get("data")
	if data.Nil() {
		return nil
	}

	records := make([]types.NumberRecord, 0, len(data.Arr()))
	for _, row := range data.Arr() {
		cells := row.Arr()
		if len(cells) < 3 {
			continue
		}
		number := stripTags(cells[1].Str())
		rangeName := stripTags(cells[2].Str())
		if number == "" {
			continue
		}
		records = append(records, types.NumberRecord{Number: number, Range: rangeName})
	}
	return records
}

// parseDirectoryHTML parses the numbers page table.
func parseDirectoryHTML(html string) ([]types.NumberRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var records []types.NumberRecord
	doc.Find("table tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		var number, rangeName string
		cells.EachWithBreak(func(i int, cell *goquery.Selection) bool {
			text := strings.TrimSpace(cell.Text())
			if number == "" && bareNumberRe.MatchString(text) {
				number = text
				return true
			}
			if number != "" && rangeName == "" && text != "" {
				rangeName = text
				return false
			}
			return true
		})
		if number != "" {
			records = append(records, types.NumberRecord{Number: number, Range: rangeName})
		}
	})

	return records, nil
}
