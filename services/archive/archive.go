// Package archive mirrors price history and signals to MongoDB. Without a
// configured URI every operation is a no-op.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"etf_dashboard/logger"
	"etf_dashboard/models"
	"etf_dashboard/services/providers"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names
const (
	DefaultDatabase   = "etf_dashboard"
	HistoryCollection = "price_history"
	SignalCollection  = "signals"
)

var ErrDisabled = errors.New("archive disabled")

type barDoc struct {
	Date     time.Time `bson:"date"`
	Open     float64   `bson:"open"`
	High     float64   `bson:"high"`
	Low      float64   `bson:"low"`
	Close    float64   `bson:"close"`
	AdjClose float64   `bson:"adj_close"`
	Volume   int64     `bson:"volume"`
}

type historyDoc struct {
	Symbol    string    `bson:"_id"`
	UpdatedAt time.Time `bson:"updated_at"`
	Count     int       `bson:"count"`
	From      time.Time `bson:"from"`
	To        time.Time `bson:"to"`
	Bars      []barDoc  `bson:"bars"`
}

type signalDoc struct {
	Symbol      string         `bson:"_id"`
	UpdatedAt   time.Time      `bson:"updated_at"`
	Type        string         `bson:"type"`
	Score       float64        `bson:"score"`
	Confidence  float64        `bson:"confidence"`
	Price       float64        `bson:"price"`
	TargetPrice float64        `bson:"target_price,omitempty"`
	StopLoss    float64        `bson:"stop_loss,omitempty"`
	Reasons     []string       `bson:"reasons"`
	Indicators  map[string]any `bson:"indicators,omitempty"`
	ExpiresAt   time.Time      `bson:"expires_at"`
}

// Archive is an optional MongoDB mirror.
type Archive struct {
	client    *mongo.Client
	database  *mongo.Database
	mu        sync.RWMutex
	connected bool
	uriSet    bool
	lastError string
	log       zerolog.Logger
}

// Disabled returns an archive that stores nothing.
func Disabled() *Archive {
	return &Archive{log: logger.With("archive"), lastError: "MONGODB_URI not set"}
}

// Connect opens the archive. An empty uri yields a disabled archive.
func Connect(ctx context.Context, uri, database string) (*Archive, error) {
	if uri == "" {
		a := Disabled()
		a.log.Info().Msg("MONGODB_URI not set, archive disabled")
		return a, nil
	}
	if database == "" {
		database = DefaultDatabase
	}

	a := &Archive{uriSet: true, log: logger.With("archive")}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetMinPoolSize(1).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		a.lastError = fmt.Sprintf("connect: %v", err)
		return a, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		a.lastError = fmt.Sprintf("ping: %v", err)
		client.Disconnect(ctx)
		return a, fmt.Errorf("mongo ping: %w", err)
	}

	a.client = client
	a.database = client.Database(database)
	a.connected = true

	_, err = a.database.Collection(HistoryCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: -1}},
	})
	if err != nil {
		a.log.Warn().Err(err).Msg("Failed to create archive index")
	}

	a.log.Info().Str("database", database).Msg("Archive connected")
	return a, nil
}

// Enabled reports whether writes reach MongoDB.
func (a *Archive) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// Status describes the connection for health endpoints.
func (a *Archive) Status() map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	status := map[string]any{
		"uri_set":   a.uriSet,
		"connected": a.connected,
	}
	if a.lastError != "" {
		status["error"] = a.lastError
	}
	return status
}

func (a *Archive) recordError(err error) {
	a.mu.Lock()
	a.lastError = err.Error()
	a.mu.Unlock()
}

// SaveHistory replaces the archived bars of symbol.
func (a *Archive) SaveHistory(ctx context.Context, symbol string, bars []providers.Bar) error {
	if !a.Enabled() || len(bars) == 0 {
		return nil
	}

	doc := historyDoc{
		Symbol:    symbol,
		UpdatedAt: time.Now().UTC(),
		Count:     len(bars),
		From:      bars[0].Date,
		To:        bars[len(bars)-1].Date,
		Bars:      make([]barDoc, len(bars)),
	}
	for i, b := range bars {
		doc.Bars[i] = barDoc(b)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := a.database.Collection(HistoryCollection).
		ReplaceOne(ctx, bson.M{"_id": symbol}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		a.recordError(err)
		return fmt.Errorf("archive history for %s: %w", symbol, err)
	}
	return nil
}

// LoadHistory returns the archived bars of symbol.
func (a *Archive) LoadHistory(ctx context.Context, symbol string) ([]providers.Bar, time.Time, error) {
	if !a.Enabled() {
		return nil, time.Time{}, ErrDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var doc historyDoc
	err := a.database.Collection(HistoryCollection).FindOne(ctx, bson.M{"_id": symbol}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, time.Time{}, providers.ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load archived history for %s: %w", symbol, err)
	}

	bars := make([]providers.Bar, len(doc.Bars))
	for i, b := range doc.Bars {
		bars[i] = providers.Bar(b)
	}
	return bars, doc.UpdatedAt, nil
}

// SaveSignal replaces the archived latest signal of the signal's symbol.
func (a *Archive) SaveSignal(ctx context.Context, sig *models.Signal) error {
	if !a.Enabled() || sig == nil {
		return nil
	}

	doc := signalDoc{
		Symbol:      sig.Symbol,
		UpdatedAt:   time.Now().UTC(),
		Type:        sig.Type,
		Score:       sig.Score.InexactFloat64(),
		Confidence:  sig.Confidence.InexactFloat64(),
		Price:       sig.Price.InexactFloat64(),
		TargetPrice: sig.TargetPrice.InexactFloat64(),
		StopLoss:    sig.StopLoss.InexactFloat64(),
		ExpiresAt:   sig.ExpiresAt,
	}
	if len(sig.Reasons) > 0 {
		_ = json.Unmarshal(sig.Reasons, &doc.Reasons)
	}
	if len(sig.Indicators) > 0 {
		_ = json.Unmarshal(sig.Indicators, &doc.Indicators)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := a.database.Collection(SignalCollection).
		ReplaceOne(ctx, bson.M{"_id": sig.Symbol}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		a.recordError(err)
		return fmt.Errorf("archive signal for %s: %w", sig.Symbol, err)
	}
	return nil
}

// Close disconnects from MongoDB.
func (a *Archive) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	a.connected = false
	return a.client.Disconnect(ctx)
}
