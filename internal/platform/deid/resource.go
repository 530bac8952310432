package deid

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/deid/deid/internal/platform/fhir"
)

// ResourceDeidentifier transforms FHIR resource bundles. Each supported
// resource type has one pure transform in a closed dispatch table; entries
// of any other type pass through byte for byte. The input bundle is never
// mutated: every transformed entry is rebuilt from a fresh decode.
type ResourceDeidentifier struct {
	cfg    Config
	hasher *IdentifierHasher
	shifts *DateShiftRegistry
}

// NewResourceDeidentifier wires the resource path. hasher and shifts are
// the same instances the tabular path uses, so a subject keeps one digest
// and one offset across both representations.
func NewResourceDeidentifier(cfg Config, hasher *IdentifierHasher, shifts *DateShiftRegistry) *ResourceDeidentifier {
	return &ResourceDeidentifier{cfg: cfg, hasher: hasher, shifts: shifts}
}

// Deidentify returns a transformed copy of the bundle.
func (rd *ResourceDeidentifier) Deidentify(bundle *fhir.Bundle) (*fhir.Bundle, error) {
	out := &fhir.Bundle{
		ResourceType: bundle.ResourceType,
		ID:           bundle.ID,
		Type:         bundle.Type,
		Total:        bundle.Total,
		Timestamp:    bundle.Timestamp,
	}
	for i, entry := range bundle.Entry {
		transformed, err := rd.DeidentifyResource(entry.Resource)
		if err != nil {
			return nil, fmt.Errorf("bundle entry %d: %w", i, err)
		}
		out.Entry = append(out.Entry, fhir.BundleEntry{FullURL: entry.FullURL, Resource: transformed})
	}
	return out, nil
}

// DeidentifyResource dispatches a single raw resource through the
// type-specific transform. Unsupported resource types are returned as an
// untouched copy.
func (rd *ResourceDeidentifier) DeidentifyResource(raw json.RawMessage) (json.RawMessage, error) {
	switch fhir.ResourceTypeOf(raw) {
	case fhir.TypePatient:
		return decodeTransform(raw, rd.transformPatient)
	case fhir.TypeObservation:
		return decodeTransform(raw, rd.transformObservation)
	case fhir.TypeEncounter:
		return decodeTransform(raw, rd.transformEncounter)
	case fhir.TypeCondition:
		return decodeTransform(raw, rd.transformCondition)
	case fhir.TypeMedicationRequest:
		return decodeTransform(raw, rd.transformMedicationRequest)
	default:
		cp := make(json.RawMessage, len(raw))
		copy(cp, raw)
		return cp, nil
	}
}

// decodeTransform decodes raw into T, applies the transform in place, and
// re-encodes. Decoding a fresh value per call is what guarantees the
// caller's bytes stay untouched.
func decodeTransform[T any](raw json.RawMessage, transform func(*T)) (json.RawMessage, error) {
	var res T
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode %T: %w", res, err)
	}
	transform(&res)
	out, err := json.Marshal(&res)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", res, err)
	}
	return out, nil
}

func (rd *ResourceDeidentifier) transformPatient(p *fhir.Patient) {
	// The raw id keys this patient's date offset before it is hashed.
	subjectID := p.ID

	if rd.cfg.RemoveNames && len(p.Name) > 0 {
		p.Name = []fhir.HumanName{{Text: RedactionMarker}}
	}
	if rd.cfg.RemoveAddresses && len(p.Address) > 0 {
		p.Address = []fhir.Address{{Text: RedactionMarker}}
	}
	if rd.cfg.RemoveContactInfo {
		p.Telecom = nil
	}

	p.BirthDate = rd.transformBirthDate(p.BirthDate, subjectID)
	if p.DeceasedDateTime != "" && rd.cfg.ShiftDates {
		p.DeceasedDateTime = rd.shifts.ShiftString(p.DeceasedDateTime, subjectID)
	}

	if rd.cfg.HashPatientIDs {
		p.ID = rd.hasher.Hash(p.ID)
		for i := range p.Identifier {
			p.Identifier[i].Value = rd.hasher.Hash(p.Identifier[i].Value)
		}
	}
}

// transformBirthDate applies the Safe Harbor birth date rules: shift when
// shifting is on; otherwise keep only the decade for patients at or above
// the age threshold and drop the field entirely for everyone else.
func (rd *ResourceDeidentifier) transformBirthDate(birthDate, subjectID string) string {
	if birthDate == "" {
		return birthDate
	}
	if rd.cfg.ShiftDates {
		return rd.shifts.ShiftString(birthDate, subjectID)
	}
	if age, ok := ageFromBirthDate(birthDate, time.Now()); ok && age >= rd.cfg.AgeThreshold {
		year := birthYear(birthDate)
		return fmt.Sprintf("%d", year/10*10)
	}
	return ""
}

func (rd *ResourceDeidentifier) transformObservation(o *fhir.Observation) {
	subjectID := rd.subjectIDFrom(o.Subject)
	o.EffectiveDateTime = rd.shiftIfEnabled(o.EffectiveDateTime, subjectID)
	o.Issued = rd.shiftIfEnabled(o.Issued, subjectID)
	rd.shiftPeriod(o.EffectivePeriod, subjectID)
	rd.hashSubjectRef(o.Subject)
}

func (rd *ResourceDeidentifier) transformEncounter(e *fhir.Encounter) {
	subjectID := rd.subjectIDFrom(e.Subject)
	rd.shiftPeriod(e.Period, subjectID)
	rd.hashSubjectRef(e.Subject)
}

func (rd *ResourceDeidentifier) transformCondition(c *fhir.Condition) {
	subjectID := rd.subjectIDFrom(c.Subject)
	c.OnsetDateTime = rd.shiftIfEnabled(c.OnsetDateTime, subjectID)
	c.AbatementDateTime = rd.shiftIfEnabled(c.AbatementDateTime, subjectID)
	c.RecordedDate = rd.shiftIfEnabled(c.RecordedDate, subjectID)
	rd.shiftPeriod(c.OnsetPeriod, subjectID)
	rd.hashSubjectRef(c.Subject)
}

func (rd *ResourceDeidentifier) transformMedicationRequest(m *fhir.MedicationRequest) {
	subjectID := rd.subjectIDFrom(m.Subject)
	m.AuthoredOn = rd.shiftIfEnabled(m.AuthoredOn, subjectID)
	rd.hashSubjectRef(m.Subject)
}

// subjectIDFrom pulls the raw subject id out of a subject/patient
// reference of the form "<Type>/<id>". Anything else yields "" and the
// global offset takes over.
func (rd *ResourceDeidentifier) subjectIDFrom(ref *fhir.Reference) string {
	if ref == nil {
		return ""
	}
	parts := strings.SplitN(ref.Reference, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	return parts[1]
}

// hashSubjectRef rewrites the reference with the hashed subject id and
// clears the display name, which typically repeats the patient's name.
func (rd *ResourceDeidentifier) hashSubjectRef(ref *fhir.Reference) {
	if ref == nil || !rd.cfg.HashPatientIDs {
		return
	}
	if id := rd.subjectIDFrom(ref); id != "" {
		prefix := strings.SplitN(ref.Reference, "/", 2)[0]
		ref.Reference = prefix + "/" + rd.hasher.Hash(id)
	}
	if ref.Identifier != nil {
		ref.Identifier.Value = rd.hasher.Hash(ref.Identifier.Value)
	}
	ref.Display = ""
}

func (rd *ResourceDeidentifier) shiftIfEnabled(value, subjectID string) string {
	if value == "" || !rd.cfg.ShiftDates {
		return value
	}
	return rd.shifts.ShiftString(value, subjectID)
}

func (rd *ResourceDeidentifier) shiftPeriod(p *fhir.Period, subjectID string) {
	if p == nil {
		return
	}
	p.Start = rd.shiftIfEnabled(p.Start, subjectID)
	p.End = rd.shiftIfEnabled(p.End, subjectID)
}

// ageFromBirthDate computes completed years between the birth date and now.
func ageFromBirthDate(birthDate string, now time.Time) (int, bool) {
	var born time.Time
	var err error
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		born, err = time.Parse(layout, birthDate)
		if err == nil {
			break
		}
	}
	if err != nil {
		return 0, false
	}
	// Compare month and day rather than YearDay: day-of-year numbering
	// drifts by one after February across leap years.
	age := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		age--
	}
	if age < 0 {
		return 0, false
	}
	return age, true
}

func birthYear(birthDate string) int {
	var t time.Time
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if parsed, err := time.Parse(layout, birthDate); err == nil {
			t = parsed
			break
		}
	}
	return t.Year()
}
