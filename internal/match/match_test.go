package match

import (
	"strings"
	"testing"
	"time"

	"github.com/trident-re/mailroom/internal/ai"
	"github.com/trident-re/mailroom/internal/property"
	"github.com/trident-re/mailroom/internal/queue"
)

// fakeFinder serves matches from in-memory property fixtures
type fakeFinder struct {
	props []property.Property
}

func (f *fakeFinder) FindByMLS(mls string) (*property.Property, error) {
	for i := range f.props {
		if f.props[i].MLSNumber == mls {
			return &f.props[i], nil
		}
	}
	return nil, nil
}

func (f *fakeFinder) FindByLoan(loan string) (*property.Property, error) {
	for i := range f.props {
		if f.props[i].LoanNumber == loan {
			return &f.props[i], nil
		}
	}
	return nil, nil
}

func (f *fakeFinder) FindByNormalizedAddress(norm string) (*property.Property, error) {
	for i := range f.props {
		if f.props[i].AddressNorm == norm {
			return &f.props[i], nil
		}
	}
	return nil, nil
}

func (f *fakeFinder) FindByClientName(name string) (*property.Property, error) {
	for i := range f.props {
		if strings.ToLower(f.props[i].ClientName) == name {
			return &f.props[i], nil
		}
	}
	return nil, nil
}

func (f *fakeFinder) FindByClientSubstring(fragment string) (*property.Property, error) {
	for i := range f.props {
		stored := strings.ToLower(f.props[i].ClientName)
		if strings.Contains(stored, fragment) || strings.Contains(fragment, stored) {
			return &f.props[i], nil
		}
	}
	return nil, nil
}

func (f *fakeFinder) FindByAgentName(name string) ([]property.Property, error) {
	var out []property.Property
	for i := range f.props {
		if strings.ToLower(f.props[i].AgentName) == name {
			out = append(out, f.props[i])
		}
	}
	return out, nil
}

func (f *fakeFinder) Candidates() ([]property.Candidate, error) {
	out := make([]property.Candidate, 0, len(f.props))
	for _, p := range f.props {
		out = append(out, property.Candidate{ID: p.ID, AddressNorm: p.AddressNorm, UpdatedAt: p.UpdatedAt})
	}
	return out, nil
}

func fixtureFinder() *fakeFinder {
	return &fakeFinder{props: []property.Property{
		{
			ID:          "prop-oak",
			Address:     "123 Oak Street",
			AddressNorm: NormalizeAddress("123 Oak Street"),
			MLSNumber:   "ML1234567",
			LoanNumber:  "LN-555123",
			ClientName:  "Sarah Chen",
			AgentName:   "Mike Torres",
			UpdatedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:          "prop-maple",
			Address:     "456 Maple Avenue Unit 2",
			AddressNorm: NormalizeAddress("456 Maple Avenue Unit 2"),
			MLSNumber:   "ML7654321",
			ClientName:  "Robert Delgado",
			AgentName:   "Mike Torres",
			UpdatedAt:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:          "prop-riverside",
			Address:     "1500 West Riverside Commons Parkway Suite 210",
			AddressNorm: NormalizeAddress("1500 West Riverside Commons Parkway Suite 210"),
			AgentName:   "Dana Whitfield",
			UpdatedAt:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		},
	}}
}

func TestMatchPriorityOrder(t *testing.T) {
	m := NewMatcher(fixtureFinder())

	tests := []struct {
		name       string
		entities   ai.Entities
		text       string
		wantID     string
		wantMethod queue.MatchMethod
		wantConf   float64
	}{
		{
			name:       "mls exact",
			entities:   ai.Entities{MLSNumbers: []string{"ML1234567"}},
			wantID:     "prop-oak",
			wantMethod: queue.MethodMLS,
			wantConf:   0.99,
		},
		{
			name:       "mls beats conflicting fuzzy address",
			entities:   ai.Entities{MLSNumbers: []string{"ML1234567"}, Addresses: []string{"456 Maple Ave"}},
			wantID:     "prop-oak",
			wantMethod: queue.MethodMLS,
			wantConf:   0.99,
		},
		{
			name:       "loan number from body text",
			text:       "Payoff statement attached for loan #555123, please confirm.",
			wantID:     "prop-oak",
			wantMethod: queue.MethodLoan,
			wantConf:   0.95,
		},
		{
			name:       "exact address tolerates formatting",
			entities:   ai.Entities{Addresses: []string{"123 Oak St."}},
			wantID:     "prop-oak",
			wantMethod: queue.MethodAddressExact,
			wantConf:   0.95,
		},
		{
			name:       "client exact",
			entities:   ai.Entities{ClientNames: []string{"Sarah Chen"}},
			wantID:     "prop-oak",
			wantMethod: queue.MethodClientName,
			wantConf:   0.90,
		},
		{
			name:       "client partial",
			entities:   ai.Entities{ClientNames: []string{"Delgado"}},
			wantID:     "prop-maple",
			wantMethod: queue.MethodClientName,
			wantConf:   0.70,
		},
		{
			name:       "fuzzy address",
			entities:   ai.Entities{Addresses: []string{"465 Maple Av Unit 2"}},
			wantID:     "prop-maple",
			wantMethod: queue.MethodAddressFuzzy,
			wantConf:   0.60,
		},
		{
			// "Riverside" alone is too short a fragment to clear the fuzzy
			// floor against the full address, so only the agent+fragment
			// combination can resolve it
			name:       "combined agent plus address fragment",
			entities:   ai.Entities{AgentNames: []string{"Dana Whitfield"}, Addresses: []string{"Riverside"}},
			wantID:     "prop-riverside",
			wantMethod: queue.MethodCombined,
			wantConf:   0.80,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Match(tt.entities, tt.text)
			if err != nil {
				t.Fatalf("Match() error: %v", err)
			}
			if got == nil {
				t.Fatalf("Match() = nil, want property %s", tt.wantID)
			}
			if got.PropertyID != tt.wantID {
				t.Errorf("PropertyID = %s, want %s", got.PropertyID, tt.wantID)
			}
			if got.Method != tt.wantMethod {
				t.Errorf("Method = %s, want %s", got.Method, tt.wantMethod)
			}
			if got.Confidence != tt.wantConf {
				t.Errorf("Confidence = %.2f, want %.2f", got.Confidence, tt.wantConf)
			}
		})
	}
}

func TestMatchCombinedNeedsBothSignals(t *testing.T) {
	m := NewMatcher(fixtureFinder())

	// An agent alone matches two properties, so it must not resolve
	got, err := m.Match(ai.Entities{AgentNames: []string{"Mike Torres"}}, "")
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if got != nil {
		t.Errorf("agent-only match = %+v, want nil", got)
	}
}

func TestMatchNoSignals(t *testing.T) {
	m := NewMatcher(fixtureFinder())

	got, err := m.Match(ai.Entities{}, "Just checking in, are we still on for lunch?")
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if got != nil {
		t.Errorf("Match() = %+v, want nil", got)
	}
}

func TestFuzzyRecencyTieBreak(t *testing.T) {
	// Two identically-addressed listings; the newer record must win the tie
	f := &fakeFinder{props: []property.Property{
		{ID: "old", AddressNorm: NormalizeAddress("789 Pine Drive"), UpdatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "new", AddressNorm: NormalizeAddress("789 Pine Drive"), UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}}
	m := NewMatcher(f)

	got, err := m.fuzzyAddress([]string{"798 Pine Dr"})
	if err != nil {
		t.Fatalf("fuzzyAddress() error: %v", err)
	}
	if got == nil || got.PropertyID != "new" {
		t.Fatalf("fuzzyAddress() = %+v, want property new", got)
	}
}

func TestFuzzyFloor(t *testing.T) {
	m := NewMatcher(fixtureFinder())

	got, err := m.fuzzyAddress([]string{"99 Completely Different Blvd"})
	if err != nil {
		t.Fatalf("fuzzyAddress() error: %v", err)
	}
	if got != nil {
		t.Errorf("fuzzyAddress() below floor = %+v, want nil", got)
	}
}

func TestTrigramSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"123 oak st", "123 oak st", 1.0, 1.0},
		{"123 oak st", "123 oak street", 0.3, 0.99},
		{"123 oak st", "", 0, 0},
		{"abc", "xyz", 0, 0},
	}
	for _, tt := range tests {
		got := TrigramSimilarity(tt.a, tt.b)
		if got < tt.min || got > tt.max {
			t.Errorf("TrigramSimilarity(%q, %q) = %.3f, want in [%.2f, %.2f]", tt.a, tt.b, got, tt.min, tt.max)
		}
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"123 Main Street", "123 main st"},
		{"123 Main St.", "123 main st"},
		{"456 N. Maple Avenue, Apt 3", "456 n maple ave apt 3"},
		{"  789  Pine   Drive  ", "789 pine dr"},
	}
	for _, tt := range tests {
		if got := NormalizeAddress(tt.in); got != tt.want {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
