package classify

import (
	"github.com/caflow/cma-engine/internal/model"
)

// Precedent scoring tiers. Firm-scoped precedents outrank global ones, and
// an entity-type match outranks a bare term match. Anything below the accept
// threshold falls through to the rule tier.
const (
	precScoreFirmEntity      = 1.0
	precScoreFirmTerm        = 0.95
	precScoreGlobalExact     = 0.90
	precScoreFirmFuzzy       = 0.80
	precScoreGlobalFuzzy     = 0.70
	precedentAcceptThreshold = 0.80
	precedentFuzzyFloor      = 0.70
)

// PrecedentMatch is a scored precedent hit.
type PrecedentMatch struct {
	Precedent *model.Precedent
	Score     float64
}

// PrecedentIndex holds the precedents visible to one classification run,
// pre-normalized for lookup.
type PrecedentIndex struct {
	firm   []indexedPrecedent
	global []indexedPrecedent
}

type indexedPrecedent struct {
	norm string
	prec *model.Precedent
}

// NewPrecedentIndex builds an index from the precedents a store lookup
// returned for the firm (firm-scoped plus globals).
func NewPrecedentIndex(precedents []*model.Precedent) *PrecedentIndex {
	idx := &PrecedentIndex{}
	for _, p := range precedents {
		entry := indexedPrecedent{norm: NormalizeTerm(p.SourceTerm), prec: p}
		if p.Scope == model.ScopeGlobal {
			idx.global = append(idx.global, entry)
		} else {
			idx.firm = append(idx.firm, entry)
		}
	}
	return idx
}

// Match scores an item name against the index and returns the best hit at or
// above the accept threshold, or nil.
func (idx *PrecedentIndex) Match(itemName string, entityType model.EntityType) *PrecedentMatch {
	normalized := NormalizeTerm(itemName)
	if normalized == "" {
		return nil
	}

	var best *PrecedentMatch
	consider := func(p *model.Precedent, score float64) {
		if best == nil || score > best.Score {
			best = &PrecedentMatch{Precedent: p, Score: score}
		}
	}

	for _, e := range idx.firm {
		if e.norm == normalized {
			if entityType != "" && e.prec.EntityType == entityType {
				consider(e.prec, precScoreFirmEntity)
			} else {
				consider(e.prec, precScoreFirmTerm)
			}
		}
	}
	for _, e := range idx.global {
		if e.norm == normalized {
			consider(e.prec, precScoreGlobalExact)
		}
	}

	// Fuzzy tiers only matter when no exact hit cleared them already. The
	// firm tier demands an entity-type match; a close term from another
	// business category is not worth 0.80.
	if best == nil || best.Score < precScoreFirmFuzzy {
		for _, e := range idx.firm {
			if entityType != "" && e.prec.EntityType != entityType {
				continue
			}
			if Ratio(normalized, e.norm) > precedentFuzzyFloor {
				consider(e.prec, precScoreFirmFuzzy)
				break
			}
		}
	}
	if best == nil {
		for _, e := range idx.global {
			if Ratio(normalized, e.norm) > precedentFuzzyFloor {
				consider(e.prec, precScoreGlobalFuzzy)
				break
			}
		}
	}

	if best == nil || best.Score < precedentAcceptThreshold {
		return nil
	}
	return best
}
