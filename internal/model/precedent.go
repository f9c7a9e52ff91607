package model

import "time"

// PrecedentScope determines precedent visibility: firm-private or global.
type PrecedentScope string

const (
	ScopeFirm   PrecedentScope = "firm"
	ScopeGlobal PrecedentScope = "global"
)

// Precedent is a memorized human classification decision, reusable across
// projects. At most one active precedent exists per
// (scope, firm, source term, entity type); writes are upserts.
type Precedent struct {
	ID          string         `json:"id"`
	FirmID      string         `json:"firm_id,omitempty"`
	SourceTerm  string         `json:"source_term"`
	TargetRow   int            `json:"target_row"`
	TargetSheet string         `json:"target_sheet"`
	EntityType  EntityType     `json:"entity_type"`
	Scope       PrecedentScope `json:"scope"`
	ProjectID   string         `json:"project_id,omitempty"`
	CreatedBy   string         `json:"created_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
