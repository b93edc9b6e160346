package extract

import (
	"testing"

	"github.com/trident-re/mailroom/internal/ai"
)

func TestDetectBoundaries(t *testing.T) {
	tests := []struct {
		name  string
		pages []string
		want  []ai.PageRange
	}{
		{
			name:  "empty pdf",
			pages: nil,
			want:  nil,
		},
		{
			name:  "single page",
			pages: []string{"RESIDENTIAL PURCHASE AGREEMENT\nThis agreement..."},
			want:  []ai.PageRange{{Start: 1, End: 1}},
		},
		{
			name: "no titles yields one document",
			pages: []string{
				"random first page",
				"random second page",
				"random third page",
			},
			want: []ai.PageRange{{Start: 1, End: 3}},
		},
		{
			name: "two forms split at second title",
			pages: []string{
				"RESIDENTIAL PURCHASE AND SALE AGREEMENT\nBuyer: Sarah Chen",
				"terms continue here",
				"Seller's Property Disclosure\nSection 1",
				"disclosure continues",
			},
			want: []ai.PageRange{{Start: 1, End: 2}, {Start: 3, End: 4}},
		},
		{
			name: "continuation marker suppresses title match",
			pages: []string{
				"Home Inspection Report\nProperty: 123 Oak St",
				"Page 2 of 3\nInspection Report findings continued",
				"Page 3 of 3\nmore findings",
			},
			want: []ai.PageRange{{Start: 1, End: 3}},
		},
		{
			name: "title below the scan window is ignored",
			pages: []string{
				"first page text",
				"a\nb\nc\nd\ne\nf\ng\nAddendum No. 2",
			},
			want: []ai.PageRange{{Start: 1, End: 2}},
		},
		{
			name: "three-way bundle",
			pages: []string{
				"Closing Disclosure\nLoan terms",
				"page two of closing figures",
				"ADDENDUM\nto the purchase agreement",
				"Title Commitment\nSchedule A",
			},
			want: []ai.PageRange{{Start: 1, End: 2}, {Start: 3, End: 3}, {Start: 4, End: 4}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectBoundaries(tt.pages)
			if len(got) != len(tt.want) {
				t.Fatalf("DetectBoundaries() = %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("range %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestInferDocType(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		text     string
		want     string
	}{
		{"contract from title", "scan001.pdf", "RESIDENTIAL PURCHASE AGREEMENT\n...", "contract"},
		{"contract from filename", "purchase_agreement_final.pdf", "illegible scan", "contract"},
		{"inspection", "report.pdf", "Home Inspection Report\nProperty: 456 Maple", "inspection"},
		{"closing from settlement statement", "doc.pdf", "SETTLEMENT STATEMENT\nHUD-1", "closing"},
		{"loan", "estimate.pdf", "Loan Estimate\nDate issued", "loan"},
		{"addendum", "doc.pdf", "Amendment to Purchase Contract", "addendum"},
		{"unknown", "photo.pdf", "nothing recognizable here", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, conf := InferDocType(tt.filename, tt.text)
			if got != tt.want {
				t.Errorf("InferDocType() = %q, want %q", got, tt.want)
			}
			if tt.want != "" && conf != heuristicDocTypeConfidence {
				t.Errorf("confidence = %v, want %v", conf, heuristicDocTypeConfidence)
			}
			if tt.want == "" && conf != 0 {
				t.Errorf("confidence = %v for no match, want 0", conf)
			}
		})
	}
}
