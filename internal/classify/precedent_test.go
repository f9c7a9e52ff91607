package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caflow/cma-engine/internal/model"
)

func prec(id, term string, row int, scope model.PrecedentScope, entity model.EntityType) *model.Precedent {
	return &model.Precedent{
		ID:          id,
		SourceTerm:  term,
		TargetRow:   row,
		TargetSheet: "balance_sheet",
		Scope:       scope,
		EntityType:  entity,
	}
}

func TestPrecedentExactFirmAndEntityScoresFull(t *testing.T) {
	idx := NewPrecedentIndex([]*model.Precedent{
		prec("p1", "security deposits", 68, model.ScopeFirm, model.EntityTrading),
	})

	m := idx.Match("Security Deposits", model.EntityTrading)
	require.NotNil(t, m)
	assert.Equal(t, 1.0, m.Score)
	assert.Equal(t, "p1", m.Precedent.ID)
}

func TestPrecedentExactFirmWithoutEntity(t *testing.T) {
	idx := NewPrecedentIndex([]*model.Precedent{
		prec("p1", "security deposits", 68, model.ScopeFirm, model.EntityManufacturing),
	})

	m := idx.Match("Security Deposits", model.EntityTrading)
	require.NotNil(t, m)
	assert.Equal(t, precScoreFirmTerm, m.Score)
}

func TestPrecedentFirmBeatsGlobal(t *testing.T) {
	idx := NewPrecedentIndex([]*model.Precedent{
		prec("global", "security deposits", 70, model.ScopeGlobal, ""),
		prec("firm", "security deposits", 68, model.ScopeFirm, model.EntityTrading),
	})

	m := idx.Match("security deposits", model.EntityTrading)
	require.NotNil(t, m)
	assert.Equal(t, "firm", m.Precedent.ID)
	assert.Equal(t, 1.0, m.Score)
}

func TestPrecedentGlobalExact(t *testing.T) {
	idx := NewPrecedentIndex([]*model.Precedent{
		prec("global", "security deposits", 70, model.ScopeGlobal, ""),
	})

	m := idx.Match("security deposits", "")
	require.NotNil(t, m)
	assert.Equal(t, precScoreGlobalExact, m.Score)
}

func TestPrecedentFuzzyFirm(t *testing.T) {
	idx := NewPrecedentIndex([]*model.Precedent{
		prec("p1", "security deposits", 68, model.ScopeFirm, ""),
	})

	m := idx.Match("security deposit", "")
	require.NotNil(t, m)
	assert.Equal(t, precScoreFirmFuzzy, m.Score)
}

func TestPrecedentFuzzyFirmRequiresEntityMatch(t *testing.T) {
	idx := NewPrecedentIndex([]*model.Precedent{
		prec("p1", "security deposits", 68, model.ScopeFirm, model.EntityManufacturing),
	})

	// Exact firm matches tolerate an entity mismatch at 0.95, but a fuzzy
	// one from another business category must not clear the 0.80 tier.
	assert.Nil(t, idx.Match("security deposit", model.EntityTrading))

	m := idx.Match("security deposit", model.EntityManufacturing)
	require.NotNil(t, m)
	assert.Equal(t, precScoreFirmFuzzy, m.Score)
}

func TestPrecedentGlobalFuzzyBelowAcceptThreshold(t *testing.T) {
	// A fuzzy-only global hit scores 0.70, below the 0.80 accept floor.
	idx := NewPrecedentIndex([]*model.Precedent{
		prec("global", "security deposits", 70, model.ScopeGlobal, ""),
	})

	assert.Nil(t, idx.Match("security deposit", ""))
}

func TestPrecedentNoMatch(t *testing.T) {
	idx := NewPrecedentIndex([]*model.Precedent{
		prec("p1", "security deposits", 68, model.ScopeFirm, ""),
	})

	assert.Nil(t, idx.Match("loose tools", ""))
	assert.Nil(t, idx.Match("", ""))
}
