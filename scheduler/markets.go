package scheduler

import (
	"strings"
	"sync"
	"time"

	"github.com/scmhub/calendar"
)

// suffixMIC maps Yahoo-style exchange suffixes to ISO 10383 MICs. Symbols
// without a suffix trade in New York.
var suffixMIC = map[string]string{
	"L":  "xlon",
	"PA": "xpar",
	"DE": "xetr",
	"F":  "xfra",
	"AS": "xams",
	"BR": "xbru",
	"MI": "xmil",
	"MC": "xmad",
	"ST": "xsto",
	"CO": "xcse",
	"HE": "xhel",
	"VI": "xwbo",
	"SW": "xswx",
	"TO": "xtse",
	"T":  "xtks",
	"HK": "xhkg",
	"AX": "xasx",
}

const defaultMIC = "xnys"

// ExchangeMIC returns the MIC of the exchange a symbol trades on.
func ExchangeMIC(symbol string) string {
	if i := strings.LastIndexByte(symbol, '.'); i >= 0 && i < len(symbol)-1 {
		if mic, ok := suffixMIC[strings.ToUpper(symbol[i+1:])]; ok {
			return mic
		}
	}
	return defaultMIC
}

// MarketHours answers whether an exchange is open, using exchange
// calendars with holidays where available.
type MarketHours struct {
	mu        sync.Mutex
	calendars map[string]*calendar.Calendar
	newYork   *time.Location
}

func NewMarketHours() *MarketHours {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		ny = time.FixedZone("EST", -5*60*60)
	}
	return &MarketHours{calendars: make(map[string]*calendar.Calendar), newYork: ny}
}

func (m *MarketHours) calendarFor(mic string) *calendar.Calendar {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cal, ok := m.calendars[mic]; ok {
		return cal
	}
	cal := calendar.GetCalendar(mic)
	if cal == nil && mic != defaultMIC {
		cal = calendar.GetCalendar(defaultMIC)
	}
	m.calendars[mic] = cal
	return cal
}

// IsOpen reports whether the exchange of symbol is in a regular session at t.
func (m *MarketHours) IsOpen(symbol string, t time.Time) bool {
	if cal := m.calendarFor(ExchangeMIC(symbol)); cal != nil {
		return cal.IsOpen(t)
	}
	return m.fallbackOpen(t)
}

// fallbackOpen is Monday to Friday, 09:30 to 16:00 New York time.
func (m *MarketHours) fallbackOpen(t time.Time) bool {
	t = t.In(m.newYork)
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}

// OpenSymbols filters symbols to those whose exchange is open at t.
func (m *MarketHours) OpenSymbols(symbols []string, t time.Time) []string {
	var out []string
	for _, sym := range symbols {
		if m.IsOpen(sym, t) {
			out = append(out, sym)
		}
	}
	return out
}
