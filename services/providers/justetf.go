package providers

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const JustETFBaseURL = "https://www.justetf.com"

var (
	isinPattern    = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{9}[0-9]$`)
	percentPattern = regexp.MustCompile(`([0-9]+(?:[.,][0-9]+)?)\s*%`)
	sizePattern    = regexp.MustCompile(`([A-Z]{3})\s*([0-9][0-9,.]*)\s*(m|bn)?`)
)

// JustETF scrapes the public fund profile page. The page is keyed by ISIN,
// so Profile expects an ISIN rather than a ticker.
type JustETF struct {
	http httpGetter
}

func NewJustETF(opts ...Option) *JustETF {
	return &JustETF{http: newHTTPGetter("justetf", JustETFBaseURL, 1, 2, opts)}
}

func (j *JustETF) Name() string  { return "justetf" }
func (j *JustETF) Enabled() bool { return true }

func (j *JustETF) Profile(ctx context.Context, isin string) (p *Profile, err error) {
	defer func() { observe(j.Name(), "profile", err) }()

	isin = strings.ToUpper(strings.TrimSpace(isin))
	if !isinPattern.MatchString(isin) {
		return nil, ErrNotFound
	}

	body, err := j.http.get(ctx, "/en/etf-profile.html", url.Values{"isin": {isin}})
	if err != nil {
		return nil, err
	}
	return parseJustETFProfile(isin, body)
}

func parseJustETFProfile(isin string, body []byte) (*Profile, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: justetf html: %v", ErrInvalidData, err)
	}

	p := &Profile{
		Symbol: isin,
		ISIN:   isin,
		Name:   cleanText(doc.Find("h1").First().Text()),
		Source: "justetf",
	}

	// Fund data is rendered as label/value table rows.
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		label := strings.ToLower(cleanText(cells.Eq(0).Text()))
		value := cleanText(cells.Eq(1).Text())
		switch {
		case strings.Contains(label, "total expense ratio"):
			p.TER = parsePercent(value)
		case strings.Contains(label, "fund size"):
			p.FundSize = parseFundSize(value)
			if p.Currency == "" {
				if m := sizePattern.FindStringSubmatch(value); m != nil {
					p.Currency = m[1]
				}
			}
		case strings.Contains(label, "fund domicile"):
			p.Domicile = value
		case strings.Contains(label, "fund currency"):
			p.Currency = value
		}
	})

	if p.Name == "" && p.TER == 0 {
		return nil, ErrNotFound
	}
	return p, nil
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// parsePercent reads "0.22% p.a." as 0.22.
func parsePercent(s string) float64 {
	m := percentPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	return parseFloat(strings.ReplaceAll(m[1], ",", "."))
}

// parseFundSize reads "EUR 15,234 m" as 15.234e9 in fund currency units.
func parseFundSize(s string) float64 {
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	v := parseFloat(strings.ReplaceAll(m[2], ",", ""))
	switch m[3] {
	case "m":
		v *= 1e6
	case "bn":
		v *= 1e9
	}
	return v
}
