package utils

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoTrader/internal/domain"
)

func TestPriceBarsCSVFile(t *testing.T) {
	ts := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	bars := []domain.PriceBar{
		{Instrument: "005930", Timestamp: ts, Open: 70100, High: 71000, Low: 69800, Close: 70500, Volume: 1.5e6},
		{Instrument: "005930", Timestamp: ts.Add(24 * time.Hour), Open: 70500, High: 70900, Low: 70000, Close: 70200.5, Volume: 9e5},
	}
	path := filepath.Join(t.TempDir(), "bars.csv")

	require.NoError(t, WritePriceBarsToCSV(bars, path))
	got, err := ReadPriceBarsFromCSV(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[1].Timestamp.Equal(bars[1].Timestamp))
	assert.Equal(t, 70200.5, got[1].Close)
}

func TestReadPriceBars_BadRow(t *testing.T) {
	in := "timestamp,instrument,open,high,low,close,volume\n2026-03-02T00:00:00Z,X,1,2,abc,1,1\n"
	_, err := ReadPriceBars(strings.NewReader(in))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2: low")
}
