package extract

import (
	"testing"
)

func TestNormalizeLoanNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"555123", "LN-555123"},
		{"LN-555123", "LN-555123"},
		{"ln-555123", "LN-555123"},
		{"#555123", "LN-555123"},
		{"", ""},
		{"not-a-number", ""},
		{"12a34", ""},
	}

	for _, tt := range tests {
		if got := NormalizeLoanNumber(tt.in); got != tt.want {
			t.Errorf("NormalizeLoanNumber(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHarvestEntities(t *testing.T) {
	text := `Hi team,

Attached is the signed contract for 123 Oak Street, Unit 4. The listing is
MLS# ML1234567 and the lender references loan number 555123.

The inspection is scheduled for September 5, 2026 and closing on 2026-09-30.
Reply to 123 Oak Street with any questions.`

	e := HarvestEntities(text)

	if len(e.Addresses) != 1 {
		t.Fatalf("Addresses = %v, want one deduplicated address", e.Addresses)
	}
	if e.Addresses[0] != "123 Oak Street, Unit 4" && e.Addresses[0] != "123 Oak Street" {
		t.Errorf("address = %q", e.Addresses[0])
	}

	if len(e.MLSNumbers) != 1 || e.MLSNumbers[0] != "ML1234567" {
		t.Errorf("MLSNumbers = %v", e.MLSNumbers)
	}
	if len(e.LoanNumbers) != 1 || e.LoanNumbers[0] != "LN-555123" {
		t.Errorf("LoanNumbers = %v", e.LoanNumbers)
	}

	if len(e.Dates) != 2 {
		t.Fatalf("Dates = %v, want inspection and closing", e.Dates)
	}
	byType := map[string]string{}
	for _, d := range e.Dates {
		byType[d.Type] = d.Date
	}
	if byType["inspection"] != "2026-09-05" {
		t.Errorf("inspection date = %q", byType["inspection"])
	}
	if byType["closing"] != "2026-09-30" {
		t.Errorf("closing date = %q", byType["closing"])
	}
}

func TestHarvestEntitiesDueBecomesDeadline(t *testing.T) {
	e := HarvestEntities("The earnest money is due 9/15/2026 per the contract.")
	if len(e.Dates) != 1 {
		t.Fatalf("Dates = %v", e.Dates)
	}
	if e.Dates[0].Type != "deadline" || e.Dates[0].Date != "2026-09-15" {
		t.Errorf("date = %+v", e.Dates[0])
	}
}

func TestHarvestEntitiesEmptyText(t *testing.T) {
	e := HarvestEntities("nothing of interest here")
	if len(e.Addresses)+len(e.MLSNumbers)+len(e.LoanNumbers)+len(e.Dates) != 0 {
		t.Errorf("entities harvested from empty text: %+v", e)
	}
}
