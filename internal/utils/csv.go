package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"autoTrader/internal/domain"
)

var priceBarHeader = []string{"timestamp", "instrument", "open", "high", "low", "close", "volume"}

// WritePriceBarsToCSV writes bars to filename, one row per bar.
func WritePriceBarsToCSV(bars []domain.PriceBar, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return WritePriceBars(file, bars)
}

// WritePriceBars writes bars as CSV with a header row.
func WritePriceBars(w io.Writer, bars []domain.PriceBar) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(priceBarHeader); err != nil {
		return err
	}
	for _, b := range bars {
		err := writer.Write([]string{
			b.Timestamp.UTC().Format(time.RFC3339),
			b.Instrument,
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadPriceBarsFromCSV reads bars written by WritePriceBarsToCSV.
func ReadPriceBarsFromCSV(filename string) ([]domain.PriceBar, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadPriceBars(file)
}

// ReadPriceBars parses CSV with the header written by WritePriceBars.
func ReadPriceBars(r io.Reader) ([]domain.PriceBar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(priceBarHeader)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	bars := make([]domain.PriceBar, 0, len(rows)-1)
	for i, row := range rows[1:] {
		ts, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: timestamp: %w", i+2, err)
		}
		var vals [5]float64
		for j := range vals {
			if vals[j], err = strconv.ParseFloat(row[2+j], 64); err != nil {
				return nil, fmt.Errorf("row %d: %s: %w", i+2, priceBarHeader[2+j], err)
			}
		}
		bars = append(bars, domain.PriceBar{
			Instrument: row[1],
			Timestamp:  ts,
			Open:       vals[0],
			High:       vals[1],
			Low:        vals[2],
			Close:      vals[3],
			Volume:     vals[4],
		})
	}
	return bars, nil
}
