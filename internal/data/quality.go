package data

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Severity of a data issue
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Issue types
const (
	IssueNoData       = "NO_DATA"
	IssueGap          = "GAP_DETECTED"
	IssueBadPrice     = "NON_POSITIVE_PRICE"
	IssueExtremeRange = "EXTREME_RANGE"
	IssueGapMove      = "GAP_MOVE"
	IssueZeroVolume   = "ZERO_VOLUME"
	IssueVolumeSpike  = "VOLUME_SPIKE"
	IssueOHLC         = "OHLC_INCONSISTENT"
	IssueDuplicate    = "DUPLICATE_DATE"
	IssueOutOfOrder   = "OUT_OF_ORDER"
)

// QualityValidator checks daily bars before they are backtested
type QualityValidator struct {
	logger *zap.Logger

	MaxIntradayRange  float64 // high/low - 1 above which a bar is flagged
	MaxGapMove        float64 // |open/prevClose - 1| above which a bar is flagged
	MaxCalendarGap    int     // days between sessions before a gap is reported
	MaxVolumeMultiple float64 // multiple of mean volume treated as a spike
	MinUsableScore    int
}

// Issue is one data quality problem
type Issue struct {
	Type     string    `json:"type"`
	Severity Severity  `json:"severity"`
	Date     time.Time `json:"date"`
	Message  string    `json:"message"`
	BarIndex int       `json:"barIndex"`
}

// QualityReport summarizes a data quality assessment
type QualityReport struct {
	Symbol          string    `json:"symbol"`
	TotalBars       int       `json:"totalBars"`
	Issues          []Issue   `json:"issues"`
	Score           int       `json:"score"`
	Usable          bool      `json:"usable"`
	StartDate       time.Time `json:"startDate"`
	EndDate         time.Time `json:"endDate"`
	Recommendations []string  `json:"recommendations"`
}

// NewQualityValidator creates a validator with equity market defaults.
func NewQualityValidator(logger *zap.Logger) *QualityValidator {
	return &QualityValidator{
		logger:            logger,
		MaxIntradayRange:  0.20,
		MaxGapMove:        0.15,
		MaxCalendarGap:    7,
		MaxVolumeMultiple: 10,
		MinUsableScore:    70,
	}
}

// Validate runs all quality checks on bars
func (v *QualityValidator) Validate(bars []types.Bar, symbol string) *QualityReport {
	if len(bars) == 0 {
		return &QualityReport{
			Symbol:          symbol,
			Issues:          []Issue{{Type: IssueNoData, Severity: SeverityCritical, Message: "No data provided"}},
			Recommendations: []string{"Load bars for the symbol"},
		}
	}

	issues := make([]Issue, 0)
	issues = append(issues, v.checkOrder(bars)...)
	issues = append(issues, v.checkPrices(bars)...)
	issues = append(issues, v.checkVolume(bars)...)

	score := v.score(len(bars), issues)
	return &QualityReport{
		Symbol:          symbol,
		TotalBars:       len(bars),
		Issues:          issues,
		Score:           score,
		Usable:          score >= v.MinUsableScore && !hasCritical(issues),
		StartDate:       bars[0].Date,
		EndDate:         bars[len(bars)-1].Date,
		Recommendations: recommendations(issues, len(bars)),
	}
}

// checkOrder reports duplicates, out-of-order dates and calendar gaps
func (v *QualityValidator) checkOrder(bars []types.Bar) []Issue {
	issues := make([]Issue, 0)
	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1].Date, bars[i].Date
		switch {
		case cur.Equal(prev):
			issues = append(issues, Issue{Type: IssueDuplicate, Severity: SeverityHigh, Date: cur,
				Message: "Duplicate session date", BarIndex: i})
		case cur.Before(prev):
			issues = append(issues, Issue{Type: IssueOutOfOrder, Severity: SeverityCritical, Date: cur,
				Message: "Bar is out of chronological order", BarIndex: i})
		default:
			if days := int(cur.Sub(prev).Hours() / 24); days > v.MaxCalendarGap {
				issues = append(issues, Issue{Type: IssueGap, Severity: SeverityMedium, Date: prev,
					Message: fmt.Sprintf("No sessions for %d days", days), BarIndex: i - 1})
			}
		}
	}
	return issues
}

func (v *QualityValidator) checkPrices(bars []types.Bar) []Issue {
	issues := make([]Issue, 0)
	for i, b := range bars {
		if !b.Open.IsPositive() || !b.High.IsPositive() || !b.Low.IsPositive() || !b.Close.IsPositive() {
			issues = append(issues, Issue{Type: IssueBadPrice, Severity: SeverityCritical, Date: b.Date,
				Message: "Zero or negative price", BarIndex: i})
			continue
		}
		if b.High.LessThan(decimal.Max(b.Open, b.Close)) || b.Low.GreaterThan(decimal.Min(b.Open, b.Close)) {
			issues = append(issues, Issue{Type: IssueOHLC, Severity: SeverityCritical, Date: b.Date,
				Message:  fmt.Sprintf("O:%s H:%s L:%s C:%s", b.Open, b.High, b.Low, b.Close),
				BarIndex: i})
		}
		if r := b.High.Div(b.Low).InexactFloat64() - 1; r > v.MaxIntradayRange {
			issues = append(issues, Issue{Type: IssueExtremeRange, Severity: SeverityHigh, Date: b.Date,
				Message: fmt.Sprintf("Intraday range %.2f%%", r*100), BarIndex: i})
		}
		if i > 0 && bars[i-1].Close.IsPositive() {
			if g := math.Abs(b.Open.Div(bars[i-1].Close).InexactFloat64() - 1); g > v.MaxGapMove {
				issues = append(issues, Issue{Type: IssueGapMove, Severity: SeverityMedium, Date: b.Date,
					Message: fmt.Sprintf("Opening gap %.2f%%", g*100), BarIndex: i})
			}
		}
	}
	return issues
}

func (v *QualityValidator) checkVolume(bars []types.Bar) []Issue {
	issues := make([]Issue, 0)
	vols := make([]float64, 0, len(bars))
	for _, b := range bars {
		if b.Volume.IsPositive() {
			vols = append(vols, b.Volume.InexactFloat64())
		}
	}
	mean := 0.0
	for _, x := range vols {
		mean += x
	}
	if len(vols) > 0 {
		mean /= float64(len(vols))
	}

	for i, b := range bars {
		vol := b.Volume.InexactFloat64()
		switch {
		case vol <= 0:
			issues = append(issues, Issue{Type: IssueZeroVolume, Severity: SeverityLow, Date: b.Date,
				Message: "Zero volume session", BarIndex: i})
		case mean > 0 && vol > mean*v.MaxVolumeMultiple:
			issues = append(issues, Issue{Type: IssueVolumeSpike, Severity: SeverityLow, Date: b.Date,
				Message: fmt.Sprintf("Volume %.1fx average", vol/mean), BarIndex: i})
		}
	}
	return issues
}

// score weights issues by severity, normalized per 100 bars
func (v *QualityValidator) score(total int, issues []Issue) int {
	penalty := 0.0
	for _, is := range issues {
		switch is.Severity {
		case SeverityCritical:
			penalty += 10
		case SeverityHigh:
			penalty += 5
		case SeverityMedium:
			penalty += 2
		case SeverityLow:
			penalty += 0.5
		}
	}
	normalized := penalty / math.Max(1, float64(total)/100) * 10
	return int(math.Max(0, 100-math.Min(normalized, 100)))
}

func hasCritical(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

func recommendations(issues []Issue, total int) []string {
	counts := make(map[string]int)
	for _, is := range issues {
		counts[is.Type]++
	}

	recs := make([]string, 0)
	if counts[IssueGap] > 0 {
		recs = append(recs, "Check the source for missing sessions")
	}
	if counts[IssueOHLC]+counts[IssueBadPrice] > 0 {
		recs = append(recs, "Invalid prices found; verify data source integrity")
	}
	if counts[IssueDuplicate]+counts[IssueOutOfOrder] > 0 {
		recs = append(recs, "Sort bars and remove duplicate dates before backtesting")
	}
	if counts[IssueZeroVolume] > total/10 {
		recs = append(recs, "Many zero volume sessions; consider a more liquid symbol")
	}
	if len(recs) == 0 {
		recs = append(recs, "Data quality is acceptable for backtesting")
	}
	return recs
}

// CleanBars sorts by date, keeps the first bar of each date, drops
// non-positive prices and widens high/low to cover open and close. The input
// is not modified.
func (v *QualityValidator) CleanBars(bars []types.Bar) []types.Bar {
	sorted := make([]types.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	cleaned := make([]types.Bar, 0, len(sorted))
	for _, b := range sorted {
		if n := len(cleaned); n > 0 && cleaned[n-1].Date.Equal(b.Date) {
			continue
		}
		if !b.Open.IsPositive() || !b.High.IsPositive() || !b.Low.IsPositive() || !b.Close.IsPositive() {
			continue
		}
		if b.High.LessThan(b.Low) {
			continue
		}
		b.High = decimal.Max(b.High, b.Open, b.Close)
		b.Low = decimal.Min(b.Low, b.Open, b.Close)
		cleaned = append(cleaned, b)
	}
	return cleaned
}
