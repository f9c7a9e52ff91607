package classify

import "strings"

// Rule matching tiers. A match below ruleAcceptThreshold is discarded and
// the item falls through to the AI tier.
const (
	ruleScoreExact      = 1.0
	ruleScoreNormalized = 0.95
	ruleScoreContains   = 0.80
	ruleAcceptThreshold = 0.85
	ruleFuzzyFloor      = 0.60
)

// RuleMatch is a scored rule hit.
type RuleMatch struct {
	Rule  *Rule
	Score float64
}

// MatchRule scores a raw line item name against the rule set and returns the
// best hit, or nil when nothing clears the accept threshold. Rules restricted
// to other entity types or source document types are skipped.
func MatchRule(rs *RuleSet, itemName, entityType, docType string) *RuleMatch {
	raw := strings.ToLower(strings.TrimSpace(itemName))
	normalized := NormalizeTerm(itemName)
	if normalized == "" {
		return nil
	}

	if r := rs.Exact(raw); r != nil && r.appliesTo(entityType, docType) {
		return &RuleMatch{Rule: r, Score: ruleScoreExact}
	}
	if r := rs.Exact(normalized); r != nil && r.appliesTo(entityType, docType) {
		return &RuleMatch{Rule: r, Score: ruleScoreNormalized}
	}

	// Substring containment only counts for terms long enough to not match
	// by accident ("rent" inside "current liabilities" must not fire).
	var best *RuleMatch
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if !r.appliesTo(entityType, docType) {
			continue
		}
		term := NormalizeTerm(r.SourceTerm)
		if len(term) > 3 && (strings.Contains(normalized, term) || strings.Contains(term, normalized)) {
			best = &RuleMatch{Rule: r, Score: ruleScoreContains}
			break
		}
	}
	if best == nil {
		for i := range rs.Rules {
			r := &rs.Rules[i]
			if !r.appliesTo(entityType, docType) {
				continue
			}
			ratio := Ratio(normalized, NormalizeTerm(r.SourceTerm))
			if ratio > ruleFuzzyFloor && (best == nil || ratio > best.Score) {
				best = &RuleMatch{Rule: r, Score: ratio}
			}
		}
	}

	if best == nil || best.Score < ruleAcceptThreshold {
		return nil
	}
	return best
}

// RuleAlternatives returns up to max scored rule candidates for an item,
// ignoring the accept threshold. Used to populate reviewer suggestions.
func RuleAlternatives(rs *RuleSet, itemName string, max int) []RuleMatch {
	normalized := NormalizeTerm(itemName)
	if normalized == "" || max <= 0 {
		return nil
	}

	var matches []RuleMatch
	for i := range rs.Rules {
		r := &rs.Rules[i]
		ratio := Ratio(normalized, NormalizeTerm(r.SourceTerm))
		if ratio > ruleFuzzyFloor {
			matches = append(matches, RuleMatch{Rule: r, Score: ratio})
		}
	}

	// Insertion sort by score descending; candidate lists are tiny.
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Score > matches[j-1].Score; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
	if len(matches) > max {
		matches = matches[:max]
	}
	return matches
}
