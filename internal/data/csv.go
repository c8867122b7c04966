package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/shopspring/decimal"
)

// ErrMalformedCSV is returned for rows that cannot be parsed as bars
var ErrMalformedCSV = errors.New("malformed bar csv")

var csvColumns = []string{"date", "open", "high", "low", "close", "volume"}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "01/02/2006"}

// ParseCSV reads date,open,high,low,close,volume rows. The header row is
// required and its columns may appear in any order.
func ParseCSV(r io.Reader) ([]types.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", ErrMalformedCSV)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range csvColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing column %q: %w", col, ErrMalformedCSV)
		}
	}

	bars := make([]types.Bar, 0, 256)
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %v: %w", line, err, ErrMalformedCSV)
		}

		date, err := parseDate(row[idx["date"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bar := types.Bar{Date: date}
		fields := []*decimal.Decimal{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume}
		for i, col := range csvColumns[1:] {
			v, err := decimal.NewFromString(strings.TrimSpace(row[idx[col]]))
			if err != nil {
				return nil, fmt.Errorf("line %d %s: %w", line, col, ErrMalformedCSV)
			}
			*fields[i] = v
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// WriteCSV writes bars with the canonical header.
func WriteCSV(w io.Writer, bars []types.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return err
	}
	for _, b := range bars {
		row := []string{
			b.Date.Format("2006-01-02"),
			b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume.String(),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q: %w", s, ErrMalformedCSV)
}
