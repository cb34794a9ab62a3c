package instruments

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePair(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"eur/usd", "EURUSD"},
		{"EUR/USD", "EURUSD"},
		{" gbp/usd ", "GBPUSD"},
		{"EURUSD-OTC", "EURUSD-OTC"},
		{"eur/usd-otc", "EURUSD-OTC"},
		{"eurusdotc", "EURUSD-OTC"},
		{"btc usdt", "BTCUSDT"},
	}
	for _, tc := range cases {
		got, err := NormalizePair(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := NormalizePair("  ")
	assert.Error(t, err)
	_, err = NormalizePair("-otc")
	assert.Error(t, err)
}

func TestCatalog_Lookup(t *testing.T) {
	cat, err := NewCatalog([]Instrument{
		{Pair: "eur/usd", Timeframes: []int{60, 300}},
		{Pair: "EURUSD-OTC", OTC: true},
	})
	require.NoError(t, err)

	ins, ok := cat.Lookup("Eur/Usd")
	require.True(t, ok)
	assert.Equal(t, "EURUSD", ins.Pair)

	ins, ok = cat.Lookup("eurusd-otc")
	require.True(t, ok)
	assert.True(t, ins.OTC)
	assert.Equal(t, []int{60}, ins.Timeframes, "missing timeframes default to 60s")

	_, ok = cat.Lookup("usd/jpy")
	assert.False(t, ok)

	assert.True(t, cat.SupportsTimeframe("EURUSD", 300))
	assert.False(t, cat.SupportsTimeframe("EURUSD", 900))
	assert.False(t, cat.SupportsTimeframe("usd/jpy", 60))
}

func TestNewCatalog_Empty(t *testing.T) {
	_, err := NewCatalog(nil)
	assert.Error(t, err)
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instruments.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
instruments:
  - pair: eur/usd
    timeframes: [60]
  - pair: btcusdt
    timeframes: [60, 300]
`), 0o644))

	cat, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"EURUSD", "BTCUSDT"}, cat.Pairs())

	_, err = LoadCatalog(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
