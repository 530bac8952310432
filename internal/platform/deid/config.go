// Package deid implements Safe Harbor de-identification of clinical data:
// salted identifier hashing, per-subject-consistent date shifting, category
// driven redaction of tabular columns, transformation of FHIR resource
// bundles, and k-anonymity enforcement over residual quasi-identifiers.
package deid

import (
	"fmt"

	"github.com/google/uuid"
)

// RedactionMarker replaces values removed under Safe Harbor.
const RedactionMarker = "[REDACTED]"

// ShiftStrategy selects how date offsets are assigned.
type ShiftStrategy string

const (
	// ShiftPerSubject draws one offset per subject, lazily, so all of a
	// subject's dates move together and relative intervals survive.
	ShiftPerSubject ShiftStrategy = "per-subject"
	// ShiftGlobal applies a single offset drawn at construction to every
	// date regardless of subject.
	ShiftGlobal ShiftStrategy = "global"
)

// Config is the immutable per-engine de-identification policy. Construct
// once via DefaultConfig or a literal, then pass to NewEngine; an empty
// Salt is generated exactly once there and never changes afterwards.
type Config struct {
	HashPatientIDs     bool
	RemoveNames        bool
	RemoveAddresses    bool
	RemoveDatesOfBirth bool
	RemoveContactInfo  bool
	RemoveMRNs         bool
	RemoveSSNs         bool
	RemoveDeviceIDs    bool

	// AgeThreshold top-codes ages: values >= AgeThreshold render as
	// "<AgeThreshold>+". Safe Harbor requires 89 or lower.
	AgeThreshold int

	// Salt feeds the identifier hash. Generated when empty.
	Salt string

	ShiftDates        bool
	DateShiftStrategy ShiftStrategy
	MaxDateShiftDays  int

	// KAnonymityThreshold is the minimum quasi-identifier group size.
	// Values <= 1 disable the enforcement pass.
	KAnonymityThreshold int
}

// DefaultConfig returns the full Safe Harbor policy: every identifier
// category transformed, per-subject shifting within a year, k=5.
func DefaultConfig() Config {
	return Config{
		HashPatientIDs:      true,
		RemoveNames:         true,
		RemoveAddresses:     true,
		RemoveDatesOfBirth:  true,
		RemoveContactInfo:   true,
		RemoveMRNs:          true,
		RemoveSSNs:          true,
		RemoveDeviceIDs:     true,
		AgeThreshold:        89,
		ShiftDates:          true,
		DateShiftStrategy:   ShiftPerSubject,
		MaxDateShiftDays:    365,
		KAnonymityThreshold: 5,
	}
}

// Validate rejects structurally invalid configuration. It is called by
// NewEngine; a failure here is a caller error and is never recovered.
func (c Config) Validate() error {
	switch c.DateShiftStrategy {
	case ShiftPerSubject, ShiftGlobal:
	default:
		return fmt.Errorf("deid config: unknown date shift strategy %q (want %q or %q)",
			c.DateShiftStrategy, ShiftPerSubject, ShiftGlobal)
	}
	if c.AgeThreshold < 1 {
		return fmt.Errorf("deid config: age threshold must be >= 1, got %d", c.AgeThreshold)
	}
	if c.MaxDateShiftDays < 1 {
		return fmt.Errorf("deid config: max date shift days must be >= 1, got %d", c.MaxDateShiftDays)
	}
	if c.KAnonymityThreshold < 0 {
		return fmt.Errorf("deid config: k-anonymity threshold must be >= 0, got %d", c.KAnonymityThreshold)
	}
	return nil
}

// generateSalt produces a random salt for configurations that omit one.
func generateSalt() string {
	return uuid.NewString()
}
