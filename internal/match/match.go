package match

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/trident-re/mailroom/internal/ai"
	"github.com/trident-re/mailroom/internal/extract"
	"github.com/trident-re/mailroom/internal/property"
	"github.com/trident-re/mailroom/internal/queue"
)

// Fixed per-strategy confidences. Strategies run in priority order and the
// first hit wins; there is no averaging across strategies.
const (
	confMLS            = 0.99
	confLoan           = 0.95
	confAddressExact   = 0.95
	confClientExact    = 0.90
	confCombined       = 0.80
	confClientPartial  = 0.70
	confAddressFuzzy   = 0.60
	fuzzyMinSimilarity = 0.3
)

// Result is a ranked property match
type Result struct {
	PropertyID string
	Confidence float64
	Method     queue.MatchMethod
	Detail     string // JSON payload describing what matched, kept for audit
}

// PropertyFinder is the slice of the property store the matcher reads
type PropertyFinder interface {
	FindByMLS(mls string) (*property.Property, error)
	FindByLoan(loan string) (*property.Property, error)
	FindByNormalizedAddress(norm string) (*property.Property, error)
	FindByClientName(name string) (*property.Property, error)
	FindByClientSubstring(fragment string) (*property.Property, error)
	FindByAgentName(name string) ([]property.Property, error)
	Candidates() ([]property.Candidate, error)
}

type Matcher struct {
	props PropertyFinder
}

func NewMatcher(props PropertyFinder) *Matcher {
	return &Matcher{props: props}
}

func detail(strategy, value string, extra map[string]any) string {
	payload := map[string]any{"strategy": strategy, "matched": value}
	for k, v := range extra {
		payload[k] = v
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

// Match evaluates the strategies in fixed priority order against the
// extracted entities and raw email text. Returns nil when no strategy
// clears its own threshold; acceptance/review gating is the caller's job.
func (m *Matcher) Match(entities ai.Entities, emailText string) (*Result, error) {
	// Fold identifiers found in the body text into the entity set so a bare
	// "MLS# 1234567" in an email with no attachments still matches
	harvested := extract.HarvestEntities(emailText)
	merged := entities
	merged.Merge(harvested)

	// 1. MLS number, exact
	for _, mls := range merged.MLSNumbers {
		p, err := m.props.FindByMLS(strings.ToUpper(strings.TrimSpace(mls)))
		if err != nil {
			return nil, err
		}
		if p != nil {
			return &Result{p.ID, confMLS, queue.MethodMLS, detail("mls", mls, nil)}, nil
		}
	}

	// 2. Loan number, exact on canonical form
	for _, loan := range merged.LoanNumbers {
		canonical := extract.NormalizeLoanNumber(loan)
		if canonical == "" {
			canonical = strings.ToUpper(strings.TrimSpace(loan))
		}
		p, err := m.props.FindByLoan(canonical)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return &Result{p.ID, confLoan, queue.MethodLoan, detail("loan", canonical, nil)}, nil
		}
	}

	// 3. Exact normalized address
	for _, addr := range merged.Addresses {
		norm := NormalizeAddress(addr)
		p, err := m.props.FindByNormalizedAddress(norm)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return &Result{p.ID, confAddressExact, queue.MethodAddressExact, detail("address_exact", addr, nil)}, nil
		}
	}

	// 4. Client name: exact first, then substring
	for _, name := range merged.ClientNames {
		p, err := m.props.FindByClientName(NormalizeName(name))
		if err != nil {
			return nil, err
		}
		if p != nil {
			return &Result{p.ID, confClientExact, queue.MethodClientName, detail("client_exact", name, nil)}, nil
		}
	}
	for _, name := range merged.ClientNames {
		p, err := m.props.FindByClientSubstring(NormalizeName(name))
		if err != nil {
			return nil, err
		}
		if p != nil {
			return &Result{p.ID, confClientPartial, queue.MethodClientName, detail("client_partial", name, nil)}, nil
		}
	}

	// 5. Fuzzy address similarity
	if r, err := m.fuzzyAddress(merged.Addresses); err != nil {
		return nil, err
	} else if r != nil {
		return r, nil
	}

	// 6. Combined weak signals: known agent plus an address fragment
	if r, err := m.combined(merged); err != nil {
		return nil, err
	} else if r != nil {
		return r, nil
	}

	return nil, nil
}

// fuzzyAddress scores every candidate against every extracted address and
// keeps the best similarity at or above the floor. Ties break to the most
// recently updated property.
func (m *Matcher) fuzzyAddress(addresses []string) (*Result, error) {
	if len(addresses) == 0 {
		return nil, nil
	}

	candidates, err := m.props.Candidates()
	if err != nil {
		return nil, err
	}

	var best *property.Candidate
	var bestSim float64
	var bestAddr string
	for _, addr := range addresses {
		norm := NormalizeAddress(addr)
		if norm == "" {
			continue
		}
		for i := range candidates {
			sim := TrigramSimilarity(norm, candidates[i].AddressNorm)
			if sim < fuzzyMinSimilarity {
				continue
			}
			if best == nil || sim > bestSim ||
				(sim == bestSim && candidates[i].UpdatedAt.After(best.UpdatedAt)) {
				best = &candidates[i]
				bestSim = sim
				bestAddr = addr
			}
		}
	}

	if best == nil {
		return nil, nil
	}
	return &Result{
		PropertyID: best.ID,
		Confidence: confAddressFuzzy,
		Method:     queue.MethodAddressFuzzy,
		Detail: detail("address_fuzzy", bestAddr, map[string]any{
			"similarity": fmt.Sprintf("%.2f", bestSim),
		}),
	}, nil
}

// combined fires when an agent name and a partial address fragment point at
// the same property; each signal alone is too weak.
func (m *Matcher) combined(entities ai.Entities) (*Result, error) {
	if len(entities.AgentNames) == 0 || len(entities.Addresses) == 0 {
		return nil, nil
	}

	for _, agent := range entities.AgentNames {
		props, err := m.props.FindByAgentName(NormalizeName(agent))
		if err != nil {
			return nil, err
		}
		for _, p := range props {
			for _, addr := range entities.Addresses {
				norm := NormalizeAddress(addr)
				if norm == "" {
					continue
				}
				if strings.Contains(p.AddressNorm, norm) || strings.Contains(norm, p.AddressNorm) {
					return &Result{
						PropertyID: p.ID,
						Confidence: confCombined,
						Method:     queue.MethodCombined,
						Detail: detail("combined", addr, map[string]any{
							"agent": agent,
						}),
					}, nil
				}
			}
		}
	}
	return nil, nil
}
