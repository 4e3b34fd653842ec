package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const AlphaVantageBaseURL = "https://www.alphavantage.co"

// AlphaVantage is disabled without an API key. The free tier allows five
// requests per minute.
type AlphaVantage struct {
	http   httpGetter
	apiKey string
}

func NewAlphaVantage(apiKey string, opts ...Option) *AlphaVantage {
	return &AlphaVantage{
		http:   newHTTPGetter("alphavantage", AlphaVantageBaseURL, rate.Every(12*time.Second), 1, opts),
		apiKey: apiKey,
	}
}

func (a *AlphaVantage) Name() string  { return "alphavantage" }
func (a *AlphaVantage) Enabled() bool { return a.apiKey != "" }

// query calls the single /query endpoint and maps the in-body error
// conventions, since Alpha Vantage answers 200 for everything.
func (a *AlphaVantage) query(ctx context.Context, params url.Values) (map[string]json.RawMessage, error) {
	if !a.Enabled() {
		return nil, ErrDisabled
	}
	params.Set("apikey", a.apiKey)

	var body map[string]json.RawMessage
	if err := a.http.getJSON(ctx, "/query", params, &body); err != nil {
		return nil, err
	}
	if _, ok := body["Error Message"]; ok {
		return nil, ErrNotFound
	}
	if _, ok := body["Note"]; ok {
		return nil, ErrRateLimited
	}
	if _, ok := body["Information"]; ok {
		return nil, ErrRateLimited
	}
	return body, nil
}

func (a *AlphaVantage) Quote(ctx context.Context, symbol string) (q *Quote, err error) {
	defer func() { observe(a.Name(), "quote", err) }()

	body, err := a.query(ctx, url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {symbol}})
	if err != nil {
		return nil, err
	}
	var gq map[string]string
	if raw, ok := body["Global Quote"]; !ok || json.Unmarshal(raw, &gq) != nil || len(gq) == 0 {
		return nil, ErrNotFound
	}

	q = &Quote{
		Symbol:        symbol,
		Price:         parseFloat(gq["05. price"]),
		PreviousClose: parseFloat(gq["08. previous close"]),
		Change:        parseFloat(gq["09. change"]),
		ChangePercent: parseFloat(strings.TrimSuffix(gq["10. change percent"], "%")),
		Volume:        int64(parseFloat(gq["06. volume"])),
		Source:        a.Name(),
	}
	if day, err := time.Parse("2006-01-02", gq["07. latest trading day"]); err == nil {
		q.Timestamp = day
	}
	if err := ValidateQuote(q); err != nil {
		return nil, err
	}
	return q, nil
}

func (a *AlphaVantage) History(ctx context.Context, symbol string, from, to time.Time) (bars []Bar, err error) {
	defer func() { observe(a.Name(), "history", err) }()

	size := "compact" // last 100 points
	if time.Since(from) > 140*24*time.Hour {
		size = "full"
	}
	body, err := a.query(ctx, url.Values{
		"function":   {"TIME_SERIES_DAILY_ADJUSTED"},
		"symbol":     {symbol},
		"outputsize": {size},
	})
	if err != nil {
		return nil, err
	}

	var series map[string]map[string]string
	raw, ok := body["Time Series (Daily)"]
	if !ok {
		return nil, ErrNotFound
	}
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("%w: alphavantage series: %v", ErrInvalidData, err)
	}

	bars = make([]Bar, 0, len(series))
	for day, v := range series {
		date, err := time.Parse("2006-01-02", day)
		if err != nil {
			continue
		}
		bars = append(bars, Bar{
			Date:     date,
			Open:     parseFloat(v["1. open"]),
			High:     parseFloat(v["2. high"]),
			Low:      parseFloat(v["3. low"]),
			Close:    parseFloat(v["4. close"]),
			AdjClose: parseFloat(v["5. adjusted close"]),
			Volume:   int64(parseFloat(v["6. volume"])),
		})
	}
	bars, err = NormalizeBars(FilterRange(bars, from, to))
	if err != nil {
		return nil, err
	}
	return bars, nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
