package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"botcore/internal/venue"
)

// LoadCSV reads candles from a CSV file with columns
// timestamp,open,high,low,close,volume. The timestamp column accepts unix
// seconds, unix milliseconds or RFC 3339. A header row is skipped when the
// first field does not parse as a timestamp. Rows are returned ascending.
func LoadCSV(path string) ([]venue.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backtest: open csv: %w", err)
	}
	defer f.Close()
	return parseCSV(f)
}

func parseCSV(r io.Reader) ([]venue.Candle, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	var candles []venue.Candle
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("backtest: read csv: %w", err)
		}
		line++
		if len(record) < 5 {
			return nil, fmt.Errorf("backtest: csv line %d: want at least 5 columns, got %d", line, len(record))
		}

		ts, err := parseTimestamp(record[0])
		if err != nil {
			if line == 1 {
				continue // header row
			}
			return nil, fmt.Errorf("backtest: csv line %d: %w", line, err)
		}

		c := venue.Candle{Timestamp: ts}
		for i, dst := range []*float64{&c.Open, &c.High, &c.Low, &c.Close} {
			v, err := strconv.ParseFloat(record[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("backtest: csv line %d column %d: %w", line, i+2, err)
			}
			*dst = v
		}
		if len(record) > 5 {
			if v, err := strconv.ParseFloat(record[5], 64); err == nil {
				c.Volume = v
			}
		}
		candles = append(candles, c)
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	return candles, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// Millisecond timestamps are 13 digits until the year 33658.
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
