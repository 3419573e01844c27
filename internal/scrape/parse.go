// Package scrape extracts data from the portal: an HTTP client that rides
// the browser's authenticated session, HTML parsers for the portal's three
// listing levels, and an orchestrator that fans out across
// ranges, numbers, and messages.
package scrape

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// The portal renders each range as a clickable card whose onclick carries
// the range name.
var (
	rangeCardSelector  = ".card.card-body.mb-1.pointer"
	rangeOnclickRe     = regexp.MustCompile(`getDetials\('([^']+)'\)`)
	numberCardSelector = ".card.card-body.border-bottom.bg-100.p-2.rounded-0 .col"
	onclickArgRe       = regexp.MustCompile(`'([^']+)'`)
	bareNumberRe       = regexp.MustCompile(`^\d{7,15}$`)
)

// Message body selectors in preference order. Only the first selector that
// yields hits is used, so a page that matches several layouts does not
// produce duplicates.
var messageSelectors = []string{
	".col-9.col-sm-6.text-center.text-sm-start p",
	".sms-message",
	"table tbody tr td:nth-child(3)",
	".message-content",
}

// ParseRanges extracts range labels from the received-SMS summary page.
func ParseRanges(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var ranges []string
	seen := make(map[string]struct{})
	add := func(label string) {
		label = strings.TrimSpace(label)
		if label == "" {
			return
		}
		if _, dup := seen[label]; dup {
			return
		}
		seen[label] = struct{}{}
		ranges = append(ranges, label)
	}

	doc.Find(rangeCardSelector).Each(func(_ int, s *goquery.Selection) {
		if onclick, ok := s.Attr("onclick"); ok {
			if m := rangeOnclickRe.FindStringSubmatch(onclick); m != nil {
				add(m[1])
			}
		}
	})

	// Table fallback for the older portal layout: the range label is the
	// first cell of each row.
	if len(ranges) == 0 {
		doc.Find("table tbody tr").Each(func(_ int, s *goquery.Selection) {
			cell := s.Find("td").First()
			add(cell.Text())
		})
	}

	return ranges, nil
}

// ParseNumbers extracts phone numbers from a range detail fragment.
func ParseNumbers(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var numbers []string
	seen := make(map[string]struct{})
	// Candidates from either path must look like a bare phone number;
	// anything else in an onclick argument is markup noise, not a number.
	add := func(number string) {
		number = strings.TrimSpace(number)
		if !bareNumberRe.MatchString(number) {
			return
		}
		if _, dup := seen[number]; dup {
			return
		}
		seen[number] = struct{}{}
		numbers = append(numbers, number)
	}

	doc.Find(numberCardSelector).Each(func(_ int, s *goquery.Selection) {
		if onclick, ok := s.Attr("onclick"); ok {
			if m := onclickArgRe.FindStringSubmatch(onclick); m != nil {
				add(m[1])
			}
		}
	})

	// Fallback: any cell that looks like a bare phone number.
	if len(numbers) == 0 {
		doc.Find("td, .col").Each(func(_ int, s *goquery.Selection) {
			add(s.Text())
		})
	}

	return numbers, nil
}

// ParseMessages extracts message bodies from a number detail fragment.
func ParseMessages(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	for _, selector := range messageSelectors {
		var messages []string
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if len(text) > 3 {
				messages = append(messages, text)
			}
		})
		if len(messages) > 0 {
			return messages, nil
		}
	}

	return nil, nil
}

// stripTags reduces an HTML fragment to its text content. The numbers
// directory endpoint wraps every cell value in markup.
func stripTags(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.TrimSpace(doc.Text())
}
