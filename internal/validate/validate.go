package validate

import (
	"strings"
	"unicode"

	"equitable/internal/model"
)

const (
	// maxFieldLen caps each free-text field so a hostile page cannot
	// bloat a record.
	maxFieldLen = 2048

	minConfidence = 1
	maxConfidence = 10

	// defaultScrapedConfidence is used when the model omits a score for
	// a scraped record.
	defaultScrapedConfidence = 5
)

// DefaultEligibility is stored when a pantry lists no eligibility rules.
const DefaultEligibility = "Open to all - no restrictions listed"

// Sanitized holds extraction output after cleaning. Every field is
// safe to store as-is.
type Sanitized struct {
	Status           model.Status
	HoursNotes       string
	HoursToday       string
	EligibilityRules []string
	IsIDRequired     bool
	ResidencyReq     *string
	SpecialNotes     *string
	Confidence       int
}

// Update cleans a raw extraction result. Confidence is clamped to
// [1,10] and defaulted when absent, unknown statuses collapse to
// UNKNOWN, and free text is stripped of control characters and
// truncated.
func Update(u *model.PantryUpdate) Sanitized {
	s := Sanitized{
		Status:     model.ParseStatus(string(u.Status)),
		HoursNotes: cleanText(u.HoursNotes),
		HoursToday: cleanText(u.HoursToday),
	}

	for _, rule := range u.EligibilityRules {
		rule = cleanText(rule)
		if rule != "" {
			s.EligibilityRules = append(s.EligibilityRules, rule)
		}
	}
	if len(s.EligibilityRules) == 0 {
		s.EligibilityRules = []string{DefaultEligibility}
	}

	if u.IsIDRequired != nil {
		s.IsIDRequired = *u.IsIDRequired
	}

	s.ResidencyReq = cleanTextPtr(u.ResidencyReq)
	s.SpecialNotes = cleanTextPtr(u.SpecialNotes)

	conf := defaultScrapedConfidence
	if u.Confidence != nil {
		conf = *u.Confidence
	}
	if conf < minConfidence {
		conf = minConfidence
	}
	if conf > maxConfidence {
		conf = maxConfidence
	}
	s.Confidence = conf

	return s
}

// cleanText strips control characters (keeping newlines and tabs),
// collapses surrounding whitespace, and truncates to maxFieldLen.
func cleanText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}

	out := strings.TrimSpace(b.String())
	if len(out) > maxFieldLen {
		out = out[:maxFieldLen]
		// Avoid splitting a multi-byte rune at the cut point.
		out = strings.ToValidUTF8(out, "")
	}
	return out
}

func cleanTextPtr(p *string) *string {
	if p == nil {
		return nil
	}
	out := cleanText(*p)
	if out == "" {
		return nil
	}
	return &out
}
