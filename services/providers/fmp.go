package providers

import (
	"context"
	"net/url"
	"time"
)

const FMPBaseURL = "https://financialmodelingprep.com"

// FMP is the Financial Modeling Prep client. Disabled without an API key.
type FMP struct {
	http   httpGetter
	apiKey string
}

func NewFMP(apiKey string, opts ...Option) *FMP {
	return &FMP{
		http:   newHTTPGetter("fmp", FMPBaseURL, 4, 4, opts),
		apiKey: apiKey,
	}
}

func (f *FMP) Name() string  { return "fmp" }
func (f *FMP) Enabled() bool { return f.apiKey != "" }

func (f *FMP) params(extra url.Values) url.Values {
	if extra == nil {
		extra = url.Values{}
	}
	extra.Set("apikey", f.apiKey)
	return extra
}

type fmpQuote struct {
	Symbol            string  `json:"symbol"`
	Price             float64 `json:"price"`
	ChangesPercentage float64 `json:"changesPercentage"`
	Change            float64 `json:"change"`
	PreviousClose     float64 `json:"previousClose"`
	Volume            float64 `json:"volume"`
	Timestamp         int64   `json:"timestamp"`
}

func (f *FMP) Quote(ctx context.Context, symbol string) (q *Quote, err error) {
	defer func() { observe(f.Name(), "quote", err) }()
	if !f.Enabled() {
		return nil, ErrDisabled
	}

	var quotes []fmpQuote
	if err := f.http.getJSON(ctx, "/api/v3/quote/"+url.PathEscape(symbol), f.params(nil), &quotes); err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, ErrNotFound
	}
	fq := quotes[0]
	q = &Quote{
		Symbol:        symbol,
		Price:         fq.Price,
		PreviousClose: fq.PreviousClose,
		Change:        fq.Change,
		ChangePercent: fq.ChangesPercentage,
		Volume:        int64(fq.Volume),
		Source:        f.Name(),
	}
	if fq.Timestamp > 0 {
		q.Timestamp = time.Unix(fq.Timestamp, 0).UTC()
	}
	if err := ValidateQuote(q); err != nil {
		return nil, err
	}
	return q, nil
}

type fmpHistory struct {
	Symbol     string `json:"symbol"`
	Historical []struct {
		Date     string  `json:"date"`
		Open     float64 `json:"open"`
		High     float64 `json:"high"`
		Low      float64 `json:"low"`
		Close    float64 `json:"close"`
		AdjClose float64 `json:"adjClose"`
		Volume   float64 `json:"volume"`
	} `json:"historical"`
}

func (f *FMP) History(ctx context.Context, symbol string, from, to time.Time) (bars []Bar, err error) {
	defer func() { observe(f.Name(), "history", err) }()
	if !f.Enabled() {
		return nil, ErrDisabled
	}

	var resp fmpHistory
	query := f.params(url.Values{
		"from": {from.Format("2006-01-02")},
		"to":   {to.Format("2006-01-02")},
	})
	if err := f.http.getJSON(ctx, "/api/v3/historical-price-full/"+url.PathEscape(symbol), query, &resp); err != nil {
		return nil, err
	}

	bars = make([]Bar, 0, len(resp.Historical))
	for _, h := range resp.Historical {
		date, err := time.Parse("2006-01-02", h.Date)
		if err != nil {
			continue
		}
		bars = append(bars, Bar{
			Date:     date,
			Open:     h.Open,
			High:     h.High,
			Low:      h.Low,
			Close:    h.Close,
			AdjClose: h.AdjClose,
			Volume:   int64(h.Volume),
		})
	}
	return NormalizeBars(bars)
}

type fmpETFInfo struct {
	Symbol       string  `json:"symbol"`
	Name         string  `json:"name"`
	ISIN         string  `json:"isin"`
	ExpenseRatio float64 `json:"expenseRatio"`
	Currency     string  `json:"navCurrency"`
	Domicile     string  `json:"domicile"`
	AUM          float64 `json:"aum"`
}

func (f *FMP) Profile(ctx context.Context, symbol string) (p *Profile, err error) {
	defer func() { observe(f.Name(), "profile", err) }()
	if !f.Enabled() {
		return nil, ErrDisabled
	}

	var infos []fmpETFInfo
	if err := f.http.getJSON(ctx, "/api/v4/etf-info", f.params(url.Values{"symbol": {symbol}}), &infos); err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, ErrNotFound
	}
	info := infos[0]
	return &Profile{
		Symbol:   symbol,
		Name:     info.Name,
		ISIN:     info.ISIN,
		TER:      info.ExpenseRatio,
		Currency: info.Currency,
		Domicile: info.Domicile,
		FundSize: info.AUM,
		Source:   f.Name(),
	}, nil
}
