package config

import (
	"encoding/json"
	"fmt"
	"os"

	"etf_dashboard/logger"
	"etf_dashboard/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogEntry is one ETF in the YAML seed file.
type CatalogEntry struct {
	Symbol          string            `yaml:"symbol"`
	Name            string            `yaml:"name"`
	ISIN            string            `yaml:"isin"`
	TER             float64           `yaml:"ter"`
	Currency        string            `yaml:"currency"`
	Exchange        string            `yaml:"exchange"`
	Domicile        string            `yaml:"domicile"`
	ProviderSymbols map[string]string `yaml:"provider_symbols"`
}

type catalogFile struct {
	ETFs []CatalogEntry `yaml:"etfs"`
}

// LoadETFCatalog reads the tracked ETF list. Entries without a symbol or
// with an invalid ISIN are skipped with a warning.
func LoadETFCatalog(path string) ([]CatalogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseETFCatalog(data)
}

// ParseETFCatalog decodes catalog YAML.
func ParseETFCatalog(data []byte) ([]CatalogEntry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	log := logger.With("catalog")
	seen := make(map[string]bool, len(file.ETFs))
	entries := make([]CatalogEntry, 0, len(file.ETFs))
	for _, e := range file.ETFs {
		e.Symbol = models.NormalizeSymbol(e.Symbol)
		if e.Symbol == "" {
			log.Warn().Str("name", e.Name).Msg("Skipping catalog entry without symbol")
			continue
		}
		if seen[e.Symbol] {
			log.Warn().Str("symbol", e.Symbol).Msg("Skipping duplicate catalog entry")
			continue
		}
		if e.ISIN != "" {
			if err := models.ValidateISIN(e.ISIN); err != nil {
				log.Warn().Err(err).Str("symbol", e.Symbol).Str("isin", e.ISIN).Msg("Skipping catalog entry with invalid ISIN")
				continue
			}
		}
		seen[e.Symbol] = true
		entries = append(entries, e)
	}
	return entries, nil
}

// ToModel converts a catalog entry to an ETF row.
func (e CatalogEntry) ToModel() models.ETF {
	etf := models.ETF{
		Symbol:   e.Symbol,
		Name:     e.Name,
		ISIN:     e.ISIN,
		TER:      decimal.NewFromFloat(e.TER),
		Currency: e.Currency,
		Exchange: e.Exchange,
		Domicile: e.Domicile,
		IsActive: true,
	}
	if len(e.ProviderSymbols) > 0 {
		if raw, err := json.Marshal(e.ProviderSymbols); err == nil {
			etf.ProviderSymbols = datatypes.JSON(raw)
		}
	}
	return etf
}

// SeedETFs upserts catalog entries into the etfs table by symbol.
func SeedETFs(db *gorm.DB, entries []CatalogEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	rows := make([]models.ETF, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, e.ToModel())
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "isin", "ter", "currency", "exchange", "domicile", "provider_symbols", "is_active", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("seed etfs: %w", err)
	}
	return len(rows), nil
}
