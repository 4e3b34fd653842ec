package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const YahooBaseURL = "https://query1.finance.yahoo.com"

// Yahoo reads quotes and daily history from the public chart endpoint.
// It needs no API key.
type Yahoo struct {
	http httpGetter
}

func NewYahoo(opts ...Option) *Yahoo {
	return &Yahoo{http: newHTTPGetter("yahoo", YahooBaseURL, 4, 4, opts)}
}

func (y *Yahoo) Name() string  { return "yahoo" }
func (y *Yahoo) Enabled() bool { return true }

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				Symbol             string  `json:"symbol"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketVol   int64   `json:"regularMarketVolume"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
				PreviousClose      float64 `json:"previousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *Yahoo) chart(ctx context.Context, symbol string, query url.Values) (*yahooChartResponse, error) {
	var resp yahooChartResponse
	if err := y.http.getJSON(ctx, "/v8/finance/chart/"+url.PathEscape(symbol), query, &resp); err != nil {
		return nil, err
	}
	if resp.Chart.Error != nil {
		if strings.EqualFold(resp.Chart.Error.Code, "Not Found") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("yahoo: %s: %s", resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, ErrNotFound
	}
	return &resp, nil
}

func (y *Yahoo) Quote(ctx context.Context, symbol string) (q *Quote, err error) {
	defer func() { observe(y.Name(), "quote", err) }()

	resp, err := y.chart(ctx, symbol, url.Values{"interval": {"1d"}, "range": {"5d"}})
	if err != nil {
		return nil, err
	}
	meta := resp.Chart.Result[0].Meta

	prev := meta.ChartPreviousClose
	if meta.PreviousClose > 0 {
		prev = meta.PreviousClose
	}
	q = &Quote{
		Symbol:        symbol,
		Price:         meta.RegularMarketPrice,
		PreviousClose: prev,
		Volume:        meta.RegularMarketVol,
		Currency:      meta.Currency,
		Source:        y.Name(),
	}
	if meta.RegularMarketTime > 0 {
		q.Timestamp = time.Unix(meta.RegularMarketTime, 0).UTC()
	}
	if err := ValidateQuote(q); err != nil {
		return nil, err
	}
	return q, nil
}

func (y *Yahoo) History(ctx context.Context, symbol string, from, to time.Time) (bars []Bar, err error) {
	defer func() { observe(y.Name(), "history", err) }()

	query := url.Values{
		"interval": {"1d"},
		"period1":  {strconv.FormatInt(from.Unix(), 10)},
		"period2":  {strconv.FormatInt(to.Unix(), 10)},
		"events":   {"div,splits"},
	}
	resp, err := y.chart(ctx, symbol, query)
	if err != nil {
		return nil, err
	}

	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, ErrNotFound
	}
	quote := result.Indicators.Quote[0]
	var adj []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adj = result.Indicators.AdjClose[0].AdjClose
	}

	bars = make([]Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		// Yahoo pads holidays and the live candle with nulls
		if at(quote.Close, i) == nil {
			continue
		}
		b := Bar{
			Date:  truncateDay(time.Unix(ts, 0)),
			Close: *at(quote.Close, i),
		}
		if v := at(quote.Open, i); v != nil {
			b.Open = *v
		}
		if v := at(quote.High, i); v != nil {
			b.High = *v
		}
		if v := at(quote.Low, i); v != nil {
			b.Low = *v
		}
		if v := at(adj, i); v != nil {
			b.AdjClose = *v
		}
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			b.Volume = *quote.Volume[i]
		}
		bars = append(bars, b)
	}
	return NormalizeBars(bars)
}

func at(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}
