// Package phi provides pattern-based detection and classification of
// Protected Health Information (PHI) per the HIPAA Safe Harbor
// de-identification standard (45 CFR 164.514(b)(2)). It is advisory:
// nothing in this package mutates data.
package phi

import "regexp"

// Category is a PHI content category detectable in free text or values.
type Category string

const (
	CategoryName    Category = "name"
	CategorySSN     Category = "ssn"
	CategoryPhone   Category = "phone"
	CategoryEmail   Category = "email"
	CategoryAddress Category = "address"
	CategoryDate    Category = "date"
	CategoryMRN     Category = "mrn"
	CategoryIP      Category = "ip"
	CategoryURL     Category = "url"
	CategoryZIP     Category = "zip"
)

// ContentPatterns maps each PHI category to the compiled expression used to
// find it inside free text or cell values. The ordering of Categories()
// controls match reporting order; the patterns themselves are independent.
var ContentPatterns = map[Category]*regexp.Regexp{
	// Two consecutive capitalized words. Crude, but names have no stronger
	// lexical signature; column-name heuristics carry most of the weight.
	CategoryName:  regexp.MustCompile(`\b[A-Z][a-z]{1,20}\s+[A-Z][a-z]{1,20}\b`),
	CategorySSN:   regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	CategoryPhone: regexp.MustCompile(`(\+1[-\s.]?)?\(?\d{3}\)?[-\s.]?\d{3}[-\s.]?\d{4}\b`),
	CategoryEmail: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	CategoryAddress: regexp.MustCompile(
		`\b\d{1,6}\s+[A-Za-z0-9.\s]{2,40}\b(?i:street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|court|ct|circle|cir|way|place|pl)\b`),
	CategoryDate: regexp.MustCompile(
		`\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|(?i:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4})\b`),
	CategoryMRN: regexp.MustCompile(`\b(?i:mrn|medical\s*record\s*(?:number|#)?)[:\s#]*\d{5,12}\b`),
	CategoryIP: regexp.MustCompile(
		`\b((25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
	CategoryURL: regexp.MustCompile(`\bhttps?://[^\s<>"]+`),
	CategoryZIP: regexp.MustCompile(`\b\d{5}(-\d{4})?\b`),
}

// Categories returns the detectable content categories in a stable order.
func Categories() []Category {
	return []Category{
		CategoryName, CategorySSN, CategoryPhone, CategoryEmail, CategoryAddress,
		CategoryDate, CategoryMRN, CategoryIP, CategoryURL, CategoryZIP,
	}
}

// Column-name heuristics. These match the *name* of a field, not its values,
// and drive both auto-selection of PHI columns and field classification.
var namePatterns = map[Category]*regexp.Regexp{
	CategoryName:    regexp.MustCompile(`(?i)\b(first|last|middle|full|family|given|maiden|patient|sur)[-_\s]?name\b|^name$`),
	CategorySSN:     regexp.MustCompile(`(?i)ssn|social[-_\s]?security`),
	CategoryPhone:   regexp.MustCompile(`(?i)phone|mobile|cell|fax|telecom`),
	CategoryEmail:   regexp.MustCompile(`(?i)e?[-_]?mail`),
	CategoryAddress: regexp.MustCompile(`(?i)address|street|city|county|zip|postal`),
	CategoryDate:    regexp.MustCompile(`(?i)date|_dt$|^dt_|birth|dob|admission|discharge|onset|death`),
	CategoryMRN:     regexp.MustCompile(`(?i)mrn|medical[-_\s]?record`),
	CategoryIP:      regexp.MustCompile(`(?i)ip[-_\s]?addr`),
	CategoryURL:     regexp.MustCompile(`(?i)url|website|homepage`),
	CategoryZIP:     regexp.MustCompile(`(?i)zip|postal[-_\s]?code`),
}

// NameIndicates returns the categories whose column-name heuristic matches
// the given field name.
func NameIndicates(fieldName string) []Category {
	var out []Category
	for _, cat := range Categories() {
		if namePatterns[cat].MatchString(fieldName) {
			out = append(out, cat)
		}
	}
	return out
}
