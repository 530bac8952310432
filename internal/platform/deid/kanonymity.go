package deid

import (
	"fmt"
	"strings"

	"github.com/deid/deid/internal/platform/phi"
)

// ageBandWidth is the generalization granularity for small-group ages.
const ageBandWidth = 5

// KAnonymityEnforcer generalizes quasi-identifier combinations shared by
// fewer than k records. Quasi-identifier columns are auto-selected: any
// column classified as age plus any whose name carries a gender, race, or
// ethnicity indicator. Groups at or above k are left untouched.
//
// The pass is idempotent: a generalized age band no longer parses as a
// number and a redaction marker no longer matches the original small-group
// signature, so re-running produces no further change.
type KAnonymityEnforcer struct {
	k          int
	classifier *phi.FieldClassifier
}

// NewKAnonymityEnforcer builds an enforcer with minimum group size k.
// k <= 1 makes Enforce a no-op.
func NewKAnonymityEnforcer(k int) *KAnonymityEnforcer {
	return &KAnonymityEnforcer{k: k, classifier: phi.NewFieldClassifier()}
}

// Enforce returns a dataset in which every quasi-identifier combination is
// shared by at least k rows or has been generalized/redacted. The input is
// not mutated.
func (e *KAnonymityEnforcer) Enforce(ds *Dataset) *Dataset {
	if e.k <= 1 {
		return ds
	}

	var quasiIdx []int
	for i, col := range ds.Columns {
		if e.classifier.IsQuasiIdentifier(col) {
			quasiIdx = append(quasiIdx, i)
		}
	}
	if len(quasiIdx) == 0 {
		return ds
	}

	groups := make(map[string][]int)
	for rowIdx, row := range ds.Rows {
		key := groupKey(row, quasiIdx)
		groups[key] = append(groups[key], rowIdx)
	}

	out := ds.Clone()
	for _, members := range groups {
		if len(members) >= e.k {
			continue
		}
		for _, rowIdx := range members {
			row := out.Rows[rowIdx]
			for _, colIdx := range quasiIdx {
				if e.classifier.Classify(out.Columns[colIdx]) == phi.FieldAge {
					if age, ok := parseAge(row[colIdx]); ok {
						row[colIdx] = ageBand(age)
					}
					// Already-generalized bands stay as they are.
					continue
				}
				if stringValue(row[colIdx]) != "" {
					row[colIdx] = RedactionMarker
				}
			}
		}
	}
	return out
}

func groupKey(row []any, quasiIdx []int) string {
	parts := make([]string, len(quasiIdx))
	for i, idx := range quasiIdx {
		parts[i] = stringValue(row[idx])
	}
	return strings.Join(parts, "\x1f")
}

// ageBand renders an age as its enclosing band, e.g. 22 -> "20-24".
func ageBand(age float64) string {
	lo := int(age) / ageBandWidth * ageBandWidth
	return fmt.Sprintf("%d-%d", lo, lo+ageBandWidth-1)
}
