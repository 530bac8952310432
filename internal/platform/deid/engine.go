package deid

import (
	"math/rand"
	"time"

	"github.com/deid/deid/internal/platform/fhir"
	"github.com/deid/deid/internal/platform/phi"
)

// Engine owns one de-identification run context: the validated Config, the
// salted hasher, and the date shift registry shared by the tabular and
// resource paths. Nothing is shared across engines, so independent runs
// (say, for consumers requiring different salts) cannot leak offsets or
// digests into each other.
type Engine struct {
	cfg      Config
	hasher   *IdentifierHasher
	shifts   *DateShiftRegistry
	tabular  *TabularDeidentifier
	resource *ResourceDeidentifier
	detector *phi.Detector
}

// NewEngine validates cfg and builds an engine drawing shift offsets from
// rng. An empty salt is generated here, exactly once. Pass a seeded
// generator to make offsets reproducible; nil seeds from the clock.
func NewEngine(cfg Config, rng *rand.Rand) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Salt == "" {
		cfg.Salt = generateSalt()
	}
	hasher := NewIdentifierHasher(cfg.Salt)
	shifts := NewDateShiftRegistry(cfg.DateShiftStrategy, cfg.MaxDateShiftDays, rng)

	// The detector samples without holding the shift registry's mutex, so
	// it gets its own generator, seeded from rng to stay reproducible.
	// Sharing rng would let a concurrent scan race a shift draw.
	detRNG := rand.New(rand.NewSource(rng.Int63()))

	return &Engine{
		cfg:      cfg,
		hasher:   hasher,
		shifts:   shifts,
		tabular:  NewTabularDeidentifier(cfg, hasher, shifts),
		resource: NewResourceDeidentifier(cfg, hasher, shifts),
		detector: phi.NewDetector(detRNG),
	}, nil
}

// Config returns the engine's effective configuration, including the
// generated salt when one was absent.
func (e *Engine) Config() Config {
	return e.cfg
}

// DeidentifyTabular runs the tabular path; see TabularDeidentifier.
func (e *Engine) DeidentifyTabular(ds *Dataset, subjectIDColumn string, phiColumns []string) (*Dataset, error) {
	return e.tabular.Deidentify(ds, subjectIDColumn, phiColumns)
}

// DeidentifyBundle runs the resource path; see ResourceDeidentifier.
func (e *Engine) DeidentifyBundle(bundle *fhir.Bundle) (*fhir.Bundle, error) {
	return e.resource.Deidentify(bundle)
}

// ScanReport produces the advisory PHI risk report for a dataset.
func (e *Engine) ScanReport(ds *Dataset) *phi.Report {
	return e.detector.GenerateReport(ds)
}

// Detector exposes the engine's PHI detector for text scans.
func (e *Engine) Detector() *phi.Detector {
	return e.detector
}

// SubjectCount reports how many subjects have registered date offsets.
func (e *Engine) SubjectCount() int {
	return e.shifts.SubjectCount()
}
