package realtime

import (
	"context"
	"time"

	"etf_dashboard/logger"
	"etf_dashboard/services/providers"

	"github.com/rs/zerolog"
)

// QuoteSource provides current quotes.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (*providers.Quote, error)
}

// Poller pushes quotes for subscribed symbols on an interval.
type Poller struct {
	hub      *Hub
	quotes   QuoteSource
	interval time.Duration
	log      zerolog.Logger
}

func NewPoller(hub *Hub, quotes QuoteSource, interval time.Duration) *Poller {
	return &Poller{
		hub:      hub,
		quotes:   quotes,
		interval: interval,
		log:      logger.With("realtime.poller"),
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info().Dur("interval", p.interval).Msg("Price polling started")
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("Price polling stopped")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll fetches one quote per subscribed symbol and publishes it. It returns
// the number of quotes published.
func (p *Poller) Poll(ctx context.Context) int {
	published := 0
	for _, sym := range p.hub.Subscriptions() {
		if ctx.Err() != nil {
			break
		}
		q, err := p.quotes.GetQuote(ctx, sym)
		if err != nil {
			p.log.Debug().Err(err).Str("symbol", sym).Msg("Quote unavailable")
			continue
		}
		p.hub.Publish(sym, TypePrice, q)
		published++
	}
	return published
}
