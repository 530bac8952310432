package anonymization

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deid/deid/internal/platform/deid"
	"github.com/deid/deid/internal/platform/fhir"
	"github.com/deid/deid/internal/platform/phi"
)

// Service runs de-identification jobs against a shared engine and logs a
// summary per run. The engine keeps the date shift registry, so subjects
// seen across runs keep the same offsets for the life of the process.
type Service struct {
	engine *deid.Engine
	log    zerolog.Logger
}

func NewService(engine *deid.Engine, log zerolog.Logger) *Service {
	return &Service{engine: engine, log: log}
}

// Engine exposes the underlying engine for callers that need its config.
func (s *Service) Engine() *deid.Engine {
	return s.engine
}

func (s *Service) DeidentifyTabular(req *TabularRequest) (*TabularResponse, error) {
	runID := uuid.NewString()
	start := time.Now()

	out, err := s.engine.DeidentifyTabular(&req.Dataset, req.SubjectIDColumn, req.PHIColumns)
	if err != nil {
		s.log.Warn().Str("run_id", runID).Err(err).Msg("tabular de-identification rejected")
		return nil, err
	}

	resp := &TabularResponse{
		RunID:    runID,
		Dataset:  out,
		Rows:     len(out.Rows),
		Columns:  len(out.Columns),
		Subjects: s.engine.SubjectCount(),
	}
	s.log.Info().
		Str("run_id", runID).
		Int("rows", resp.Rows).
		Int("columns", resp.Columns).
		Dur("elapsed", time.Since(start)).
		Msg("tabular de-identification complete")
	return resp, nil
}

func (s *Service) DeidentifyBundle(bundle *fhir.Bundle) (*BundleResponse, error) {
	runID := uuid.NewString()
	start := time.Now()

	out, err := s.engine.DeidentifyBundle(bundle)
	if err != nil {
		s.log.Warn().Str("run_id", runID).Err(err).Msg("bundle de-identification rejected")
		return nil, fmt.Errorf("de-identify bundle: %w", err)
	}

	resp := &BundleResponse{
		RunID:   runID,
		Entries: len(out.Entry),
		Bundle:  out,
	}
	s.log.Info().
		Str("run_id", runID).
		Int("entries", resp.Entries).
		Dur("elapsed", time.Since(start)).
		Msg("bundle de-identification complete")
	return resp, nil
}

func (s *Service) Scan(req *ScanRequest) *ScanResponse {
	runID := uuid.NewString()
	start := time.Now()

	report := s.engine.ScanReport(&req.Dataset)

	flagged := 0
	for _, col := range report.Columns {
		if col.Risk == phi.RiskHigh {
			flagged++
		}
	}
	s.log.Info().
		Str("run_id", runID).
		Int("columns_flagged", len(report.Columns)).
		Int("high_risk", flagged).
		Dur("elapsed", time.Since(start)).
		Msg("phi scan complete")
	return &ScanResponse{RunID: runID, Report: report}
}
