package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolMapRoundTrip(t *testing.T) {
	m := NewSymbolMap(map[string]string{"pepeusdt": "1000PEPEUSDT"})

	assert.Equal(t, "1000PEPEUSDT", m.ToNative("PEPEUSDT"))
	assert.Equal(t, "PEPEUSDT", m.ToCanonical("1000pepeusdt"))
	// unmapped symbols pass through
	assert.Equal(t, "BTCUSDT", m.ToNative("btcusdt"))
	assert.Equal(t, "BTCUSDT", m.ToCanonical("BTCUSDT"))

	assert.Equal(t, []string{"BTCUSDT", "1000PEPEUSDT"}, m.NativeList([]string{"BTCUSDT", " ", "PEPEUSDT"}))
}

func TestSymbolMapNil(t *testing.T) {
	var m *SymbolMap
	assert.Equal(t, "ETHUSDT", m.ToNative("ethusdt"))
	assert.Equal(t, "ETHUSDT", m.ToCanonical("ethusdt"))
}

func TestParseUpdate(t *testing.T) {
	now := time.Now()
	u, err := ParseUpdate("binance", "BTCUSDT", " 50000.5 ", now)
	require.NoError(t, err)
	assert.Equal(t, "50000.5", u.Price.String())
	assert.Equal(t, now, u.Timestamp)

	_, err = ParseUpdate("binance", "BTCUSDT", "", now)
	assert.ErrorIs(t, err, ErrEmptyPrice)
	_, err = ParseUpdate("binance", "BTCUSDT", "abc", now)
	assert.Error(t, err)
	_, err = ParseUpdate("binance", "BTCUSDT", "0", now)
	assert.Error(t, err)
}
