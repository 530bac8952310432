package phi

import "regexp"

// FieldCategory is the semantic bucket a column name classifies into. It
// decides which de-identification transform applies to the column.
type FieldCategory string

const (
	FieldName      FieldCategory = "name"
	FieldAddress   FieldCategory = "address"
	FieldDate      FieldCategory = "date"
	FieldAge       FieldCategory = "age"
	FieldContact   FieldCategory = "contact"
	FieldMRN       FieldCategory = "mrn"
	FieldSSN       FieldCategory = "ssn"
	FieldDeviceID  FieldCategory = "device-id"
	FieldGenericID FieldCategory = "generic-id"
	FieldNone      FieldCategory = ""
)

// classifierRule pairs a field category with the name pattern that selects
// it. Rules are evaluated in order: the specific identifier subtypes (ssn,
// mrn, device-id) come before the generic id fallback so that
// "ssn_number" is not swallowed by the `id|number` rule.
type classifierRule struct {
	category FieldCategory
	pattern  *regexp.Regexp
}

var classifierRules = []classifierRule{
	// Underscores count as word characters, so snake_case names like
	// "ssn_id" defeat \b anchors; match the token bare instead.
	{FieldSSN, regexp.MustCompile(`(?i)ssn|social[-_\s]?security`)},
	{FieldMRN, regexp.MustCompile(`(?i)mrn|medical[-_\s]?record`)},
	{FieldDeviceID, regexp.MustCompile(`(?i)device[-_\s]?(id|identifier|serial)|serial[-_\s]?(no|num|number)`)},
	{FieldName, regexp.MustCompile(`(?i)\b(first|last|middle|full|family|given|maiden|patient|sur)[-_\s]?name\b|^name$`)},
	{FieldAddress, regexp.MustCompile(`(?i)address|street|city|county|zip|postal`)},
	{FieldAge, regexp.MustCompile(`(?i)^age$|[-_\s]age$|^age[-_\s]|age[-_\s]?(at|in)[-_\s]`)},
	{FieldDate, regexp.MustCompile(`(?i)date|_dt$|^dt$|birth|dob|admission|discharge|onset|death|time(stamp)?$`)},
	{FieldContact, regexp.MustCompile(`(?i)phone|mobile|cell|fax|e?[-_]?mail|contact|telecom`)},
	{FieldGenericID, regexp.MustCompile(`(?i)\bid\b|_id$|^id_|identifier|\bacct\b|account[-_\s]?(no|num|number)`)},
}

// FieldClassifier buckets column names into semantic PHI categories using
// ordered, case-insensitive name rules. It inspects names only, never
// values, and is stateless: safe for unsynchronized concurrent use.
type FieldClassifier struct{}

// NewFieldClassifier returns a classifier over the built-in rule set.
func NewFieldClassifier() *FieldClassifier {
	return &FieldClassifier{}
}

// Classify returns the first matching category for the field name, or
// FieldNone when no rule matches.
func (fc *FieldClassifier) Classify(fieldName string) FieldCategory {
	for _, r := range classifierRules {
		if r.pattern.MatchString(fieldName) {
			return r.category
		}
	}
	return FieldNone
}

// IsQuasiIdentifier reports whether the field name denotes a
// quasi-identifier for k-anonymity purposes: an age column or a
// demographic indicator (gender, sex, race, ethnicity).
func (fc *FieldClassifier) IsQuasiIdentifier(fieldName string) bool {
	if fc.Classify(fieldName) == FieldAge {
		return true
	}
	return quasiIndicator.MatchString(fieldName)
}

var quasiIndicator = regexp.MustCompile(`(?i)gender|\bsex\b|race|ethnic`)
