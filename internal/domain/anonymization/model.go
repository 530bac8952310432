package anonymization

import (
	"github.com/deid/deid/internal/platform/deid"
	"github.com/deid/deid/internal/platform/phi"
)

// TabularRequest carries a dataset to de-identify. SubjectIDColumn and
// PHIColumns are optional; when PHIColumns is empty the engine selects
// target columns from column names.
type TabularRequest struct {
	Dataset         deid.Dataset `json:"dataset"`
	SubjectIDColumn string       `json:"subject_id_column,omitempty"`
	PHIColumns      []string     `json:"phi_columns,omitempty"`
}

// TabularResponse returns the transformed dataset plus run metadata.
type TabularResponse struct {
	RunID    string        `json:"run_id"`
	Dataset  *deid.Dataset `json:"dataset"`
	Rows     int           `json:"rows"`
	Columns  int           `json:"columns"`
	Subjects int           `json:"subjects"`
}

// BundleResponse returns the transformed FHIR bundle as raw JSON so the
// resource shapes survive unchanged.
type BundleResponse struct {
	RunID   string `json:"run_id"`
	Entries int    `json:"entries"`
	Bundle  any    `json:"bundle"`
}

// ScanRequest carries a dataset to inspect for PHI without modifying it.
type ScanRequest struct {
	Dataset deid.Dataset `json:"dataset"`
}

// ScanResponse returns the per-column risk report.
type ScanResponse struct {
	RunID  string      `json:"run_id"`
	Report *phi.Report `json:"report"`
}
