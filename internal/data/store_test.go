// Package data_test provides tests for the data store.
package data_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/atlas-desktop/strategy-verdict/internal/data"
	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var day0 = time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

func testBars(n int) []types.Bar {
	bars := make([]types.Bar, n)
	for i := range bars {
		p := decimal.NewFromInt(int64(100 + i))
		bars[i] = types.Bar{
			Date:   day0.AddDate(0, 0, i),
			Open:   p,
			High:   p.Add(decimal.NewFromInt(2)),
			Low:    p.Sub(decimal.NewFromInt(1)),
			Close:  p.Add(decimal.NewFromInt(1)),
			Volume: decimal.NewFromInt(5000),
		}
	}
	return bars
}

func newStore(t *testing.T) (*data.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := data.NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store, dir
}

func TestSaveAndLoadJSON(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	if err := store.SaveBars("aapl", testBars(5)); err != nil {
		t.Fatalf("Failed to save bars: %v", err)
	}
	store.ClearCache()

	bars, err := store.LoadBars(ctx, "AAPL")
	if err != nil {
		t.Fatalf("Failed to load bars: %v", err)
	}
	if len(bars) != 5 {
		t.Fatalf("Expected 5 bars, got %d", len(bars))
	}
	if !bars[4].Close.Equal(decimal.NewFromInt(105)) {
		t.Errorf("Last close = %s, want 105", bars[4].Close)
	}
	if store.CacheSize() != 1 {
		t.Errorf("Expected 1 cached set, got %d", store.CacheSize())
	}

	symbols, err := store.Symbols()
	if err != nil || len(symbols) != 1 || symbols[0] != "AAPL" {
		t.Errorf("Symbols() = %v, %v", symbols, err)
	}
}

func TestLoadCSVSortsAndCleans(t *testing.T) {
	store, dir := newStore(t)
	csv := strings.Join([]string{
		"Date,Open,High,Low,Close,Volume",
		"2023-03-03,102,104,101,103,100",
		"2023-03-01,100,102,99,101,100",
		"2023-03-02,101,101.5,100,102,100",
		"2023-03-02,1,1,1,1,1",
		"2023-03-04,0,1,0,1,100",
	}, "\n")
	if err := os.WriteFile(filepath.Join(dir, "MSFT.csv"), []byte(csv), 0644); err != nil {
		t.Fatal(err)
	}

	bars, err := store.LoadBars(context.Background(), "msft")
	if err != nil {
		t.Fatalf("Failed to load csv: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("Expected 3 bars, got %d", len(bars))
	}
	if err := types.ValidateBars(bars); err != nil {
		t.Errorf("Bars not ascending: %v", err)
	}
	// high widened to cover the close
	if !bars[1].High.Equal(decimal.NewFromInt(102)) {
		t.Errorf("High = %s, want 102", bars[1].High)
	}
}

func TestParseCSVErrors(t *testing.T) {
	cases := map[string]string{
		"missing column": "date,open,high,low,close\n2023-01-01,1,1,1,1",
		"bad number":     "date,open,high,low,close,volume\n2023-01-01,x,1,1,1,1",
		"bad date":       "date,open,high,low,close,volume\nyesterday,1,1,1,1,1",
		"empty":          "",
	}
	for name, in := range cases {
		if _, err := data.ParseCSV(strings.NewReader(in)); !errors.Is(err, data.ErrMalformedCSV) {
			t.Errorf("%s: err = %v, want ErrMalformedCSV", name, err)
		}
	}
}

func TestCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := data.WriteCSV(&buf, testBars(3)); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	bars, err := data.ParseCSV(&buf)
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(bars) != 3 || !bars[2].Date.Equal(day0.AddDate(0, 0, 2)) {
		t.Errorf("round trip mismatch: %+v", bars)
	}
}

func TestLoadMissingSymbol(t *testing.T) {
	store, _ := newStore(t)
	if _, err := store.LoadBars(context.Background(), "NOPE"); !errors.Is(err, data.ErrSymbolNotFound) {
		t.Errorf("err = %v, want ErrSymbolNotFound", err)
	}
}

func TestLoadRange(t *testing.T) {
	store, _ := newStore(t)
	if err := store.SaveBars("SPY", testBars(10)); err != nil {
		t.Fatal(err)
	}
	bars, err := store.LoadRange(context.Background(), "SPY", day0.AddDate(0, 0, 2), day0.AddDate(0, 0, 5))
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 4 {
		t.Errorf("Expected 4 bars, got %d", len(bars))
	}
	if bars, _ := store.LoadRange(context.Background(), "SPY", day0.AddDate(1, 0, 0), time.Time{}); len(bars) != 0 {
		t.Errorf("Expected no bars after the end, got %d", len(bars))
	}
}

func TestLoadSummary(t *testing.T) {
	store, dir := newStore(t)
	ctx := context.Background()

	summary, err := store.LoadSummary(ctx, "AAPL")
	if err != nil || summary != nil {
		t.Fatalf("missing summary = %v, %v; want nil, nil", summary, err)
	}

	body := `{"overallBias":"bullish","overallScore":42,"supportResistance":[{"price":"95.5","type":"support","strength":3}],
	"priceTargets":{"target1":"110","stopLoss":"94"}}`
	if err := os.WriteFile(filepath.Join(dir, "AAPL.signals.json"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	summary, err = store.LoadSummary(ctx, "aapl")
	if err != nil {
		t.Fatalf("LoadSummary: %v", err)
	}
	if summary.OverallBias != types.BiasBullish || summary.OverallScore != 42 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if len(summary.SupportResistance) != 1 || !summary.PriceTargets.Target1.Equal(decimal.NewFromInt(110)) {
		t.Errorf("levels not decoded: %+v", summary)
	}

	symbols, _ := store.Symbols()
	if len(symbols) != 0 {
		t.Errorf("summary file listed as a symbol: %v", symbols)
	}
}

func TestQualityReport(t *testing.T) {
	v := data.NewQualityValidator(zap.NewNop())

	good := v.Validate(testBars(50), "GOOD")
	if !good.Usable || good.Score != 100 {
		t.Errorf("clean data: usable=%v score=%d issues=%v", good.Usable, good.Score, good.Issues)
	}

	bad := testBars(50)
	bad[10].High = bad[10].Low.Sub(decimal.NewFromInt(1))
	bad[20].Date = bad[19].Date
	bad[30].Volume = decimal.Zero
	report := v.Validate(bad, "BAD")
	if report.Usable {
		t.Error("inconsistent OHLC must not be usable")
	}
	found := map[string]bool{}
	for _, is := range report.Issues {
		found[is.Type] = true
	}
	for _, want := range []string{data.IssueOHLC, data.IssueDuplicate, data.IssueZeroVolume} {
		if !found[want] {
			t.Errorf("missing issue %s in %v", want, report.Issues)
		}
	}

	empty := v.Validate(nil, "NONE")
	if empty.Usable || empty.Issues[0].Type != data.IssueNoData {
		t.Errorf("empty report = %+v", empty)
	}
}

func TestLoadFileOutsideDataDir(t *testing.T) {
	s, _ := newStore(t)
	path := filepath.Join(t.TempDir(), "external.csv")

	var buf bytes.Buffer
	bars := testBars(3)
	bars[0], bars[2] = bars[2], bars[0]
	if err := data.WriteCSV(&buf, bars); err != nil {
		t.Fatalf("Failed to write CSV: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	loaded, err := s.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if len(loaded) != 3 || !loaded[0].Date.Equal(day0) {
		t.Errorf("Expected 3 sorted bars starting %s, got %d", day0, len(loaded))
	}
	if s.CacheSize() != 0 {
		t.Errorf("LoadFile should not populate the cache")
	}
}
