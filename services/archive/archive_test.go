package archive

import (
	"context"
	"testing"
	"time"

	"etf_dashboard/models"
	"etf_dashboard/services/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledArchiveIsNoop(t *testing.T) {
	a, err := Connect(context.Background(), "", "")
	require.NoError(t, err)
	assert.False(t, a.Enabled())

	ctx := context.Background()
	assert.NoError(t, a.SaveHistory(ctx, "SPY", []providers.Bar{{Date: time.Now(), Close: 1}}))
	assert.NoError(t, a.SaveSignal(ctx, &models.Signal{Symbol: "SPY"}))
	_, _, err = a.LoadHistory(ctx, "SPY")
	assert.ErrorIs(t, err, ErrDisabled)
	assert.NoError(t, a.Close(ctx))

	status := a.Status()
	assert.Equal(t, false, status["uri_set"])
	assert.Equal(t, false, status["connected"])
}

func TestConnectUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a, err := Connect(ctx, "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200&connectTimeoutMS=200", "test")
	require.Error(t, err)
	require.NotNil(t, a)
	assert.False(t, a.Enabled())
	assert.Equal(t, true, a.Status()["uri_set"])
	assert.Contains(t, a.Status(), "error")
}
