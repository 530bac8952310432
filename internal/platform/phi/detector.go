package phi

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
)

const (
	// DefaultSampleSize bounds how many values per column are content-scanned.
	DefaultSampleSize = 100
	// DefaultMatchThreshold is the fraction of sampled values that must match
	// a category before the column is flagged.
	DefaultMatchThreshold = 0.1
)

// Table is the columnar view the detector scans. The tabular engine's
// Dataset satisfies it; tests may supply any in-memory implementation.
type Table interface {
	// ColumnNames returns the column names in dataset order.
	ColumnNames() []string
	// ColumnValues returns every value of the named column, row order
	// preserved. Unknown columns return nil.
	ColumnValues(name string) []any
}

// RiskLevel grades how likely a column is to contain PHI.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"   // content matched a PHI pattern
	RiskMedium RiskLevel = "medium" // only the column name matched
)

// ColumnRisk is one column's entry in a detection report.
type ColumnRisk struct {
	Column         string     `json:"column"`
	Risk           RiskLevel  `json:"risk"`
	ContentMatches []Category `json:"content_matches,omitempty"`
	NameIndicators []Category `json:"name_indicators,omitempty"`
}

// Report is the outcome of a dataset scan: one entry per column that
// matched by content or by name, ordered by column name.
type Report struct {
	Columns []ColumnRisk `json:"columns"`
}

// Detector scans free text and tabular data for likely PHI. It never
// mutates its input. Sampling uses the injected generator so scans are
// reproducible under a fixed seed; the mutex serializes draws so one
// detector can serve concurrent scans.
type Detector struct {
	mu         sync.Mutex
	rng        *rand.Rand
	classifier *FieldClassifier
}

// NewDetector returns a detector sampling with the given generator.
// A nil generator disables sampling: every value is scanned.
func NewDetector(rng *rand.Rand) *Detector {
	return &Detector{rng: rng, classifier: NewFieldClassifier()}
}

// DetectInText scans free text and returns, per category, the matched
// substrings. Categories without matches are absent from the result.
func (d *Detector) DetectInText(text string) map[Category][]string {
	found := make(map[Category][]string)
	for _, cat := range Categories() {
		if m := ContentPatterns[cat].FindAllString(text, -1); len(m) > 0 {
			found[cat] = m
		}
	}
	return found
}

// DetectInDataset content-scans a bounded random sample of each column and
// returns, per column, how many sampled values matched each category.
// sampleSize <= 0 falls back to DefaultSampleSize.
func (d *Detector) DetectInDataset(t Table, sampleSize int) map[string]map[Category]int {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	out := make(map[string]map[Category]int)
	for _, col := range t.ColumnNames() {
		counts := make(map[Category]int)
		for _, v := range d.sample(t.ColumnValues(col), sampleSize) {
			s := stringify(v)
			if s == "" {
				continue
			}
			for _, cat := range Categories() {
				if ContentPatterns[cat].MatchString(s) {
					counts[cat]++
				}
			}
		}
		out[col] = counts
	}
	return out
}

// IdentifyPHIColumns returns each column whose sampled match fraction for
// some category meets or exceeds threshold, with the set of categories that
// crossed it. threshold <= 0 falls back to DefaultMatchThreshold.
func (d *Detector) IdentifyPHIColumns(t Table, threshold float64) map[string][]Category {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	flagged := make(map[string][]Category)
	for _, col := range t.ColumnNames() {
		sampled := d.sample(t.ColumnValues(col), DefaultSampleSize)
		n := 0
		counts := make(map[Category]int)
		for _, v := range sampled {
			s := stringify(v)
			if s == "" {
				continue
			}
			n++
			for _, cat := range Categories() {
				if ContentPatterns[cat].MatchString(s) {
					counts[cat]++
				}
			}
		}
		if n == 0 {
			continue
		}
		var cats []Category
		for _, cat := range Categories() {
			if float64(counts[cat])/float64(n) >= threshold {
				cats = append(cats, cat)
			}
		}
		if len(cats) > 0 {
			flagged[col] = cats
		}
	}
	return flagged
}

// GenerateReport combines content detection with column-name heuristics.
// Columns whose content matched are graded high; columns flagged only by
// name are graded medium; clean columns are omitted.
func (d *Detector) GenerateReport(t Table) *Report {
	content := d.IdentifyPHIColumns(t, DefaultMatchThreshold)
	rep := &Report{}
	for _, col := range t.ColumnNames() {
		byName := NameIndicates(col)
		byContent := content[col]
		switch {
		case len(byContent) > 0:
			rep.Columns = append(rep.Columns, ColumnRisk{
				Column:         col,
				Risk:           RiskHigh,
				ContentMatches: byContent,
				NameIndicators: byName,
			})
		case len(byName) > 0:
			rep.Columns = append(rep.Columns, ColumnRisk{
				Column:         col,
				Risk:           RiskMedium,
				NameIndicators: byName,
			})
		}
	}
	sort.Slice(rep.Columns, func(i, j int) bool { return rep.Columns[i].Column < rep.Columns[j].Column })
	return rep
}

// sample returns up to n values drawn without replacement. With a nil
// generator, or when the column holds n values or fewer, values are
// returned as-is.
func (d *Detector) sample(values []any, n int) []any {
	if d.rng == nil || len(values) <= n {
		return values
	}
	d.mu.Lock()
	idx := d.rng.Perm(len(values))[:n]
	d.mu.Unlock()
	sort.Ints(idx)
	out := make([]any, 0, n)
	for _, i := range idx {
		out = append(out, values[i])
	}
	return out
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
