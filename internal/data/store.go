// Package data loads daily bars and pre-computed signal summaries from a data
// directory.
package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"go.uber.org/zap"
)

// ErrSymbolNotFound is returned when no bar file exists for a symbol
var ErrSymbolNotFound = errors.New("symbol not found")

const summarySuffix = ".signals.json"

// Store provides access to historical bars on disk. Parsed files are cached
// in memory until ClearCache.
type Store struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	dataDir   string
	bars      map[string][]types.Bar
	summaries map[string]*types.SignalSummary
	quality   *QualityValidator
}

// SymbolMetadata describes the bars available for a symbol
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
	Format    string    `json:"format"`
	Summary   bool      `json:"hasSummary"`
}

// NewStore creates a store over dataDir, creating the directory if needed.
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{
		logger:    logger.Named("data"),
		dataDir:   dataDir,
		bars:      make(map[string][]types.Bar),
		summaries: make(map[string]*types.SignalSummary),
		quality:   NewQualityValidator(logger),
	}, nil
}

// NormalizeSymbol upper-cases and trims a symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// LoadBars returns the cleaned, date-ascending bars for symbol from
// <SYMBOL>.json or <SYMBOL>.csv.
func (s *Store) LoadBars(ctx context.Context, symbol string) ([]types.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	s.mu.RLock()
	cached, ok := s.bars[symbol]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	path, format, err := s.barFile(symbol)
	if err != nil {
		return nil, err
	}
	raw, err := readBars(path, format)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", symbol, err)
	}

	bars := s.quality.CleanBars(raw)
	if len(bars) != len(raw) {
		s.logger.Warn("Dropped invalid bars",
			zap.String("symbol", symbol),
			zap.Int("loaded", len(raw)),
			zap.Int("kept", len(bars)),
		)
	}

	s.mu.Lock()
	s.bars[symbol] = bars
	s.mu.Unlock()

	s.logger.Debug("Loaded bars", zap.String("symbol", symbol), zap.String("format", format), zap.Int("bars", len(bars)))
	return bars, nil
}

// LoadFile reads and cleans bars from an arbitrary .json or .csv file
// without caching them.
func (s *Store) LoadFile(path string) ([]types.Bar, error) {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format != "csv" {
		format = "json"
	}
	raw, err := readBars(path, format)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return s.quality.CleanBars(raw), nil
}

// LoadRange returns the bars for symbol with start <= date <= end. A zero
// bound is open.
func (s *Store) LoadRange(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error) {
	bars, err := s.LoadBars(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return filterByDate(bars, start, end), nil
}

// LoadSummary returns the signal summary for symbol, or nil when the
// <SYMBOL>.signals.json file does not exist.
func (s *Store) LoadSummary(ctx context.Context, symbol string) (*types.SignalSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	s.mu.RLock()
	cached, ok := s.summaries[symbol]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	data, err := os.ReadFile(filepath.Join(s.dataDir, symbol+summarySuffix))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read signal summary: %w", err)
	}
	var summary types.SignalSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to parse signal summary for %s: %w", symbol, err)
	}

	s.mu.Lock()
	s.summaries[symbol] = &summary
	s.mu.Unlock()
	return &summary, nil
}

// SaveBars writes bars as <SYMBOL>.json and refreshes the cache.
func (s *Store) SaveBars(symbol string, bars []types.Bar) error {
	symbol = NormalizeSymbol(symbol)
	if err := types.ValidateBars(bars); err != nil {
		return err
	}

	data, err := json.MarshalIndent(bars, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal bars: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dataDir, symbol+".json"), data, 0644); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}

	s.mu.Lock()
	s.bars[symbol] = bars
	s.mu.Unlock()
	return nil
}

// Symbols lists the symbols with a bar file, sorted.
func (s *Store) Symbols() ([]string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list data directory: %w", err)
	}

	seen := make(map[string]bool)
	symbols := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, summarySuffix) {
			continue
		}
		ext := filepath.Ext(name)
		if ext != ".json" && ext != ".csv" {
			continue
		}
		sym := NormalizeSymbol(strings.TrimSuffix(name, ext))
		if !seen[sym] {
			seen[sym] = true
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Metadata loads symbol and describes its date range.
func (s *Store) Metadata(ctx context.Context, symbol string) (*SymbolMetadata, error) {
	bars, err := s.LoadBars(ctx, symbol)
	if err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)
	_, format, _ := s.barFile(symbol)
	_, statErr := os.Stat(filepath.Join(s.dataDir, symbol+summarySuffix))

	meta := &SymbolMetadata{Symbol: symbol, BarCount: len(bars), Format: format, Summary: statErr == nil}
	if len(bars) > 0 {
		meta.StartDate = bars[0].Date
		meta.EndDate = bars[len(bars)-1].Date
	}
	return meta, nil
}

// Quality runs the data quality checks over the stored bars for symbol.
func (s *Store) Quality(ctx context.Context, symbol string) (*QualityReport, error) {
	bars, err := s.LoadBars(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return s.quality.Validate(bars, NormalizeSymbol(symbol)), nil
}

// ClearCache clears the in-memory cache
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bars = make(map[string][]types.Bar)
	s.summaries = make(map[string]*types.SignalSummary)
}

// CacheSize returns the number of cached bar sets
func (s *Store) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.bars)
}

// barFile prefers JSON over CSV when both exist.
func (s *Store) barFile(symbol string) (path, format string, err error) {
	for _, format := range []string{"json", "csv"} {
		path := filepath.Join(s.dataDir, symbol+"."+format)
		if _, err := os.Stat(path); err == nil {
			return path, format, nil
		}
	}
	return "", "", fmt.Errorf("%s: %w", symbol, ErrSymbolNotFound)
}

func readBars(path, format string) ([]types.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if format == "csv" {
		return ParseCSV(f)
	}
	var bars []types.Bar
	if err := json.NewDecoder(f).Decode(&bars); err != nil {
		return nil, fmt.Errorf("failed to parse bars: %w", err)
	}
	return bars, nil
}

func filterByDate(bars []types.Bar, start, end time.Time) []types.Bar {
	lo := 0
	if !start.IsZero() {
		lo = sort.Search(len(bars), func(i int) bool { return !bars[i].Date.Before(start) })
	}
	hi := len(bars)
	if !end.IsZero() {
		hi = sort.Search(len(bars), func(i int) bool { return bars[i].Date.After(end) })
	}
	if lo >= hi {
		return []types.Bar{}
	}
	return bars[lo:hi]
}
