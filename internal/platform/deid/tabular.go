package deid

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/deid/deid/internal/platform/phi"
)

// birthIndicator spots date-of-birth columns among date-classified ones,
// for the redaction fallback when date shifting is disabled.
var birthIndicator = regexp.MustCompile(`(?i)birth|\bdob\b`)

// TabularDeidentifier applies the Safe Harbor transforms column by column.
// The input dataset is never mutated; callers get a transformed clone with
// identical column order and row count.
type TabularDeidentifier struct {
	cfg        Config
	classifier *phi.FieldClassifier
	hasher     *IdentifierHasher
	shifts     *DateShiftRegistry
	kanon      *KAnonymityEnforcer
}

// NewTabularDeidentifier wires the tabular path. hasher and shifts are
// shared with the resource path by the owning Engine so a subject's digest
// and offset agree across both representations.
func NewTabularDeidentifier(cfg Config, hasher *IdentifierHasher, shifts *DateShiftRegistry) *TabularDeidentifier {
	return &TabularDeidentifier{
		cfg:        cfg,
		classifier: phi.NewFieldClassifier(),
		hasher:     hasher,
		shifts:     shifts,
		kanon:      NewKAnonymityEnforcer(cfg.KAnonymityThreshold),
	}
}

// Deidentify transforms the dataset. subjectIDColumn names the column whose
// raw values key date shifting and, when HashPatientIDs is set, get hashed;
// it may be empty. phiColumns restricts transformation to the named
// columns; nil auto-selects every column the name classifier recognizes.
// A named column absent from the dataset is a caller/config mismatch and
// returns an error; malformed individual values never do.
func (td *TabularDeidentifier) Deidentify(ds *Dataset, subjectIDColumn string, phiColumns []string) (*Dataset, error) {
	subjectIdx := -1
	if subjectIDColumn != "" {
		subjectIdx = ds.ColumnIndex(subjectIDColumn)
		if subjectIdx < 0 {
			return nil, fmt.Errorf("tabular deidentify: subject id column %q not in dataset", subjectIDColumn)
		}
	}

	targets := make(map[string]bool)
	if phiColumns != nil {
		for _, col := range phiColumns {
			if ds.ColumnIndex(col) < 0 {
				return nil, fmt.Errorf("tabular deidentify: phi column %q not in dataset", col)
			}
			targets[col] = true
		}
	} else {
		for _, col := range ds.Columns {
			if td.classifier.Classify(col) != phi.FieldNone {
				targets[col] = true
			}
		}
	}

	// Raw subject ids are captured before any transformation so date
	// columns shift against the pre-hash identifier.
	subjects := make([]string, len(ds.Rows))
	if subjectIdx >= 0 {
		for i, row := range ds.Rows {
			subjects[i] = stringValue(row[subjectIdx])
		}
	}

	out := ds.Clone()
	for colIdx, col := range out.Columns {
		switch {
		case colIdx == subjectIdx:
			if td.cfg.HashPatientIDs {
				td.applyHash(out, colIdx)
			}
		case targets[col]:
			td.transformColumn(out, colIdx, td.classifier.Classify(col), subjects)
		}
	}

	if td.cfg.KAnonymityThreshold > 1 {
		out = td.kanon.Enforce(out)
	}
	return out, nil
}

func (td *TabularDeidentifier) transformColumn(ds *Dataset, colIdx int, cat phi.FieldCategory, subjects []string) {
	switch cat {
	case phi.FieldDate:
		if td.cfg.ShiftDates {
			for i, row := range ds.Rows {
				if s := stringValue(row[colIdx]); s != "" {
					row[colIdx] = td.shifts.ShiftString(s, subjects[i])
				}
			}
		} else if td.cfg.RemoveDatesOfBirth && birthIndicator.MatchString(ds.Columns[colIdx]) {
			td.applyMarker(ds, colIdx)
		}
	case phi.FieldAge:
		for _, row := range ds.Rows {
			if age, ok := parseAge(row[colIdx]); ok && age >= float64(td.cfg.AgeThreshold) {
				row[colIdx] = fmt.Sprintf("%d+", td.cfg.AgeThreshold)
			}
		}
	case phi.FieldName:
		if td.cfg.RemoveNames {
			td.applyMarker(ds, colIdx)
		}
	case phi.FieldAddress:
		if td.cfg.RemoveAddresses {
			td.applyMarker(ds, colIdx)
		}
	case phi.FieldContact:
		if td.cfg.RemoveContactInfo {
			td.applyMarker(ds, colIdx)
		}
	case phi.FieldMRN:
		td.redactOrHash(ds, colIdx, td.cfg.RemoveMRNs)
	case phi.FieldSSN:
		td.redactOrHash(ds, colIdx, td.cfg.RemoveSSNs)
	case phi.FieldDeviceID:
		td.redactOrHash(ds, colIdx, td.cfg.RemoveDeviceIDs)
	case phi.FieldGenericID:
		td.applyHash(ds, colIdx)
	}
}

// redactOrHash handles the specific id subtypes: redacted outright when
// their flag is set, otherwise hashed like any other identifier.
func (td *TabularDeidentifier) redactOrHash(ds *Dataset, colIdx int, remove bool) {
	if remove {
		td.applyMarker(ds, colIdx)
		return
	}
	td.applyHash(ds, colIdx)
}

func (td *TabularDeidentifier) applyMarker(ds *Dataset, colIdx int) {
	for _, row := range ds.Rows {
		if stringValue(row[colIdx]) != "" {
			row[colIdx] = RedactionMarker
		}
	}
}

func (td *TabularDeidentifier) applyHash(ds *Dataset, colIdx int) {
	for _, row := range ds.Rows {
		if s := stringValue(row[colIdx]); s != "" {
			row[colIdx] = td.hasher.Hash(s)
		}
	}
}

func parseAge(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
