package deid

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/deid/deid/internal/platform/fhir"
)

func testBundle(t *testing.T) *fhir.Bundle {
	t.Helper()
	patient := `{
		"resourceType": "Patient",
		"id": "pat-1",
		"identifier": [{"system": "urn:mrn", "value": "MRN-42"}],
		"name": [{"family": "Doe", "given": ["Jane"]}],
		"telecom": [{"system": "phone", "value": "555-0100"}],
		"address": [{"line": ["42 Maple St"], "city": "Springfield"}],
		"gender": "female",
		"birthDate": "1980-05-01"
	}`
	observation := `{
		"resourceType": "Observation",
		"id": "obs-1",
		"status": "final",
		"subject": {"reference": "Patient/pat-1", "display": "Jane Doe"},
		"effectiveDateTime": "2023-06-01T10:00:00Z",
		"valueQuantity": {"value": 98.6, "unit": "degF"}
	}`
	return &fhir.Bundle{
		ResourceType: "Bundle",
		Type:         "collection",
		Entry: []fhir.BundleEntry{
			{Resource: json.RawMessage(patient)},
			{Resource: json.RawMessage(observation)},
		},
	}
}

func TestDeidentifyBundle_SharedOffsetAcrossResources(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Salt = "s"
	eng := newTestEngine(t, cfg, 10)

	out, err := eng.DeidentifyBundle(testBundle(t))
	if err != nil {
		t.Fatalf("DeidentifyBundle: %v", err)
	}

	var p fhir.Patient
	if err := json.Unmarshal(out.Entry[0].Resource, &p); err != nil {
		t.Fatalf("decode patient: %v", err)
	}
	var o fhir.Observation
	if err := json.Unmarshal(out.Entry[1].Resource, &o); err != nil {
		t.Fatalf("decode observation: %v", err)
	}

	off := eng.shifts.OffsetFor("pat-1")
	wantBirth := time.Date(1980, 5, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, off).Format("2006-01-02")
	if p.BirthDate != wantBirth {
		t.Errorf("birthDate = %q, want %q (offset %d)", p.BirthDate, wantBirth, off)
	}
	wantEff := time.Date(2023, 6, 1, 10, 0, 0, 0, time.UTC).AddDate(0, 0, off).Format(time.RFC3339)
	if o.EffectiveDateTime != wantEff {
		t.Errorf("effectiveDateTime = %q, want %q (offset %d)", o.EffectiveDateTime, wantEff, off)
	}
}

func TestDeidentifyBundle_PatientIdentifiersTransformed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Salt = "s"
	eng := newTestEngine(t, cfg, 11)

	out, err := eng.DeidentifyBundle(testBundle(t))
	if err != nil {
		t.Fatalf("DeidentifyBundle: %v", err)
	}

	var p fhir.Patient
	if err := json.Unmarshal(out.Entry[0].Resource, &p); err != nil {
		t.Fatalf("decode patient: %v", err)
	}

	if len(p.ID) != 64 {
		t.Errorf("patient id = %q, want hashed", p.ID)
	}
	if p.Identifier[0].Value == "MRN-42" || len(p.Identifier[0].Value) != 64 {
		t.Errorf("identifier value = %q, want hashed", p.Identifier[0].Value)
	}
	if len(p.Name) != 1 || p.Name[0].Text != RedactionMarker || p.Name[0].Family != "" {
		t.Errorf("name = %+v, want single redaction marker", p.Name)
	}
	if len(p.Address) != 1 || p.Address[0].Text != RedactionMarker || p.Address[0].City != "" {
		t.Errorf("address = %+v, want single redaction marker", p.Address)
	}
	if p.Telecom != nil {
		t.Errorf("telecom = %+v, want cleared", p.Telecom)
	}
	if p.Gender != "female" {
		t.Errorf("gender = %q, want preserved", p.Gender)
	}
}

func TestDeidentifyBundle_SubjectReferenceHashed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Salt = "s"
	eng := newTestEngine(t, cfg, 12)

	out, err := eng.DeidentifyBundle(testBundle(t))
	if err != nil {
		t.Fatalf("DeidentifyBundle: %v", err)
	}

	var p fhir.Patient
	var o fhir.Observation
	if err := json.Unmarshal(out.Entry[0].Resource, &p); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(out.Entry[1].Resource, &o); err != nil {
		t.Fatal(err)
	}

	// The reference must still resolve to the transformed patient.
	if o.Subject.Reference != "Patient/"+p.ID {
		t.Errorf("subject reference = %q, patient id = %q", o.Subject.Reference, p.ID)
	}
	if o.Subject.Display != "" {
		t.Errorf("subject display = %q, want cleared", o.Subject.Display)
	}
	// Clinical payload untouched.
	if o.ValueQuantity == nil || *o.ValueQuantity.Value != 98.6 {
		t.Errorf("valueQuantity = %+v, want preserved", o.ValueQuantity)
	}
}

func TestDeidentifyBundle_InputNotMutated(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Salt = "s"
	eng := newTestEngine(t, cfg, 13)

	in := testBundle(t)
	before := make([]string, len(in.Entry))
	for i, e := range in.Entry {
		before[i] = string(e.Resource)
	}

	if _, err := eng.DeidentifyBundle(in); err != nil {
		t.Fatalf("DeidentifyBundle: %v", err)
	}
	for i, e := range in.Entry {
		if string(e.Resource) != before[i] {
			t.Errorf("input entry %d mutated", i)
		}
	}
}

func TestDeidentifyBundle_UnknownResourcePassesThrough(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Salt = "s"
	eng := newTestEngine(t, cfg, 14)

	raw := json.RawMessage(`{"resourceType":"Organization","id":"org-1","name":"General Hospital"}`)
	bundle := &fhir.Bundle{ResourceType: "Bundle", Entry: []fhir.BundleEntry{{Resource: raw}}}

	out, err := eng.DeidentifyBundle(bundle)
	if err != nil {
		t.Fatalf("DeidentifyBundle: %v", err)
	}
	if string(out.Entry[0].Resource) != string(raw) {
		t.Errorf("unknown resource changed: %s", out.Entry[0].Resource)
	}
}

func TestDeidentifyResource_EncounterConditionMedication(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Salt = "s"
	eng := newTestEngine(t, cfg, 15)
	off := eng.shifts.OffsetFor("pat-9")

	encounter := json.RawMessage(`{
		"resourceType": "Encounter",
		"id": "enc-1",
		"status": "finished",
		"subject": {"reference": "Patient/pat-9"},
		"period": {"start": "2023-02-01T08:00:00Z", "end": "2023-02-03T17:30:00Z"}
	}`)
	condition := json.RawMessage(`{
		"resourceType": "Condition",
		"id": "cond-1",
		"subject": {"reference": "Patient/pat-9"},
		"onsetDateTime": "2022-11-20",
		"recordedDate": "2022-11-21"
	}`)
	medreq := json.RawMessage(`{
		"resourceType": "MedicationRequest",
		"id": "med-1",
		"status": "active",
		"subject": {"reference": "Patient/pat-9"},
		"authoredOn": "2023-02-02"
	}`)

	shiftDate := func(s string, layout string) string {
		tm, err := time.Parse(layout, s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		return tm.AddDate(0, 0, off).Format(layout)
	}

	outEnc, err := eng.resource.DeidentifyResource(encounter)
	if err != nil {
		t.Fatal(err)
	}
	var enc fhir.Encounter
	if err := json.Unmarshal(outEnc, &enc); err != nil {
		t.Fatal(err)
	}
	if enc.Period.Start != shiftDate("2023-02-01T08:00:00Z", time.RFC3339) {
		t.Errorf("encounter period start = %q", enc.Period.Start)
	}
	if enc.Period.End != shiftDate("2023-02-03T17:30:00Z", time.RFC3339) {
		t.Errorf("encounter period end = %q", enc.Period.End)
	}

	outCond, err := eng.resource.DeidentifyResource(condition)
	if err != nil {
		t.Fatal(err)
	}
	var cond fhir.Condition
	if err := json.Unmarshal(outCond, &cond); err != nil {
		t.Fatal(err)
	}
	if cond.OnsetDateTime != shiftDate("2022-11-20", "2006-01-02") {
		t.Errorf("condition onset = %q", cond.OnsetDateTime)
	}
	if cond.RecordedDate != shiftDate("2022-11-21", "2006-01-02") {
		t.Errorf("condition recorded = %q", cond.RecordedDate)
	}

	outMed, err := eng.resource.DeidentifyResource(medreq)
	if err != nil {
		t.Fatal(err)
	}
	var med fhir.MedicationRequest
	if err := json.Unmarshal(outMed, &med); err != nil {
		t.Fatal(err)
	}
	if med.AuthoredOn != shiftDate("2023-02-02", "2006-01-02") {
		t.Errorf("authoredOn = %q", med.AuthoredOn)
	}
}

func TestTransformBirthDate_NoShift(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Salt = "s"
	cfg.ShiftDates = false
	eng := newTestEngine(t, cfg, 16)

	// Old enough to cross the threshold: decade only.
	old := time.Now().AddDate(-95, 0, 0).Format("2006-01-02")
	wantDecade := time.Now().AddDate(-95, 0, 0).Year() / 10 * 10
	got := eng.resource.transformBirthDate(old, "p")
	if got != strconv.Itoa(wantDecade) {
		t.Errorf("birthDate %q -> %q, want decade %d", old, got, wantDecade)
	}

	// Younger: removed entirely.
	if got := eng.resource.transformBirthDate("1990-05-01", "p"); got != "" {
		t.Errorf("young birthDate -> %q, want removed", got)
	}
}

func TestAgeFromBirthDate(t *testing.T) {
	cases := []struct {
		name      string
		birthDate string
		now       time.Time
		want      int
		ok        bool
	}{
		{"birthday today", "2000-06-15", time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), 25, true},
		{"day before birthday", "2000-03-01", time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), 24, true},
		// now in a non-leap year, born after Feb in a leap year: day-of-year
		// comparison would undercount this one.
		{"leap year birth, non-leap now", "2000-03-01", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 25, true},
		{"feb 29 birth", "2000-02-29", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 25, true},
		{"feb 29 birth, before", "2000-02-29", time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), 24, true},
		{"year precision", "1950", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), 75, true},
		{"malformed", "not-a-date", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ageFromBirthDate(tc.birthDate, tc.now)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if got != tc.want {
				t.Errorf("age = %d, want %d", got, tc.want)
			}
		})
	}
}
