package validate

import (
	"strings"
	"testing"

	"equitable/internal/model"
)

func intPtr(v int) *int       { return &v }
func boolPtr(v bool) *bool    { return &v }
func strPtr(v string) *string { return &v }

func TestUpdateDefaults(t *testing.T) {
	s := Update(&model.PantryUpdate{})

	if s.Status != model.StatusUnknown {
		t.Fatalf("expected UNKNOWN status for empty update, got %s", s.Status)
	}
	if s.IsIDRequired {
		t.Fatal("expected is_id_required false by default")
	}
	if len(s.EligibilityRules) != 1 || s.EligibilityRules[0] != DefaultEligibility {
		t.Fatalf("expected default eligibility rule, got %v", s.EligibilityRules)
	}
	if s.Confidence != 5 {
		t.Fatalf("expected default confidence 5, got %d", s.Confidence)
	}
}

func TestUpdateClampsConfidence(t *testing.T) {
	if got := Update(&model.PantryUpdate{Confidence: intPtr(0)}).Confidence; got != 1 {
		t.Fatalf("expected confidence clamped to 1, got %d", got)
	}
	if got := Update(&model.PantryUpdate{Confidence: intPtr(99)}).Confidence; got != 10 {
		t.Fatalf("expected confidence clamped to 10, got %d", got)
	}
	if got := Update(&model.PantryUpdate{Confidence: intPtr(7)}).Confidence; got != 7 {
		t.Fatalf("expected confidence 7 preserved, got %d", got)
	}
}

func TestUpdateCoercesStatus(t *testing.T) {
	s := Update(&model.PantryUpdate{Status: "definitely open!!"})
	if s.Status != model.StatusUnknown {
		t.Fatalf("expected free-form status coerced to UNKNOWN, got %s", s.Status)
	}

	s = Update(&model.PantryUpdate{Status: model.StatusWaitlist})
	if s.Status != model.StatusWaitlist {
		t.Fatalf("expected WAITLIST preserved, got %s", s.Status)
	}
}

func TestUpdateCleansText(t *testing.T) {
	s := Update(&model.PantryUpdate{
		HoursNotes:   "  Tue 9-12\x00\x07 and Thu 1-4  ",
		SpecialNotes: strPtr("\x1b[31mbring a bag\x1b[0m"),
		ResidencyReq: strPtr("   "),
		IsIDRequired: boolPtr(true),
	})

	if s.HoursNotes != "Tue 9-12 and Thu 1-4" {
		t.Fatalf("expected control chars stripped and trimmed, got %q", s.HoursNotes)
	}
	if s.SpecialNotes == nil || *s.SpecialNotes != "[31mbring a bag[0m" {
		t.Fatalf("expected escape bytes stripped, got %v", s.SpecialNotes)
	}
	if s.ResidencyReq != nil {
		t.Fatal("expected whitespace-only residency requirement dropped")
	}
	if !s.IsIDRequired {
		t.Fatal("expected is_id_required true preserved")
	}
}

func TestUpdateTruncatesLongText(t *testing.T) {
	long := strings.Repeat("a", 5000)
	s := Update(&model.PantryUpdate{HoursNotes: long})
	if len(s.HoursNotes) != 2048 {
		t.Fatalf("expected hours_notes truncated to 2048 bytes, got %d", len(s.HoursNotes))
	}
}

func TestUpdateDropsEmptyEligibilityEntries(t *testing.T) {
	s := Update(&model.PantryUpdate{EligibilityRules: []string{" ", "Seniors only", ""}})
	if len(s.EligibilityRules) != 1 || s.EligibilityRules[0] != "Seniors only" {
		t.Fatalf("expected only the non-empty rule kept, got %v", s.EligibilityRules)
	}
}
