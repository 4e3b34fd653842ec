package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Init("debug", "json", &buf)

	l := With("marketdata")
	l.Info().Str("symbol", "VWCE.DE").Msg("quote refreshed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "marketdata", entry["component"])
	assert.Equal(t, "VWCE.DE", entry["symbol"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "quote refreshed", entry["message"])
}

func TestInitUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	Init("chatty", "json", &buf)

	Log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	Log.Info().Msg("shown")
	assert.NotZero(t, buf.Len())
}
