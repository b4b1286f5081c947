package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// LoadCandlesCSV reads candles from a CSV file with columns
// timestamp,open,high,low,close,volume. The timestamp is unix seconds or
// milliseconds. A header row is skipped if present.
func LoadCandlesCSV(path string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewDataError("open candle file: " + err.Error())
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6

	var candles []Candle
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, NewDataError(fmt.Sprintf("read candle file line %d: %v", line+1, err))
		}
		line++

		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			if line == 1 {
				// header row
				continue
			}
			return nil, NewValidationError(fmt.Sprintf("line %d: bad timestamp %q", line, rec[0]))
		}

		var fields [5]float64
		for i := 0; i < 5; i++ {
			fields[i], err = strconv.ParseFloat(rec[i+1], 64)
			if err != nil {
				return nil, NewValidationError(fmt.Sprintf("line %d: bad value %q", line, rec[i+1]))
			}
		}

		// millisecond timestamps are 13 digits
		var openTime time.Time
		if ts > 1e12 {
			openTime = time.UnixMilli(ts).UTC()
		} else {
			openTime = time.Unix(ts, 0).UTC()
		}

		candles = append(candles, Candle{
			OpenTime: openTime,
			Open:     fields[0],
			High:     fields[1],
			Low:      fields[2],
			Close:    fields[3],
			Volume:   fields[4],
		})
	}

	if len(candles) == 0 {
		return nil, NewDataError("candle file contains no rows")
	}
	return candles, nil
}
