package classify

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed rules.json
var embeddedRules []byte

// Rule maps one normalized ledger term to a CMA form cell. Empty
// EntityTypes and DocumentTypes lists apply the rule everywhere; non-empty
// lists restrict it to those entity or source document types.
type Rule struct {
	ID            int      `json:"id,omitempty" yaml:"id,omitempty"`
	SourceTerm    string   `json:"source_term" yaml:"source_term"`
	TargetRow     int      `json:"target_row" yaml:"target_row"`
	TargetSheet   string   `json:"target_sheet" yaml:"target_sheet"`
	TargetLabel   string   `json:"target_label" yaml:"target_label"`
	EntityTypes   []string `json:"entity_types,omitempty" yaml:"entity_types,omitempty"`
	DocumentTypes []string `json:"document_types,omitempty" yaml:"document_types,omitempty"`
}

func (r *Rule) appliesTo(entityType, docType string) bool {
	return matchesRestriction(r.EntityTypes, entityType) &&
		matchesRestriction(r.DocumentTypes, docType)
}

func matchesRestriction(allowed []string, value string) bool {
	if len(allowed) == 0 || value == "" {
		return true
	}
	for _, a := range allowed {
		if a == value {
			return true
		}
	}
	return false
}

type ruleFile struct {
	Rules []Rule `json:"rules" yaml:"rules"`
}

// RuleSet holds the loaded classification rules plus an index keyed by
// normalized source term for exact lookups.
type RuleSet struct {
	Rules  []Rule
	byTerm map[string]*Rule
}

func newRuleSet(rules []Rule) *RuleSet {
	rs := &RuleSet{Rules: rules, byTerm: make(map[string]*Rule, len(rules))}
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if r.ID == 0 {
			r.ID = i + 1
		}
		rs.byTerm[NormalizeTerm(r.SourceTerm)] = r
	}
	return rs
}

// Exact returns the rule whose normalized source term equals the given
// normalized term, or nil.
func (rs *RuleSet) Exact(normalized string) *Rule {
	return rs.byTerm[normalized]
}

// RuleLoader serves the rule set with a TTL cache. Rules come from an
// optional JSON or YAML file on disk, falling back to the embedded
// defaults, so firms can tune mappings without a rebuild.
type RuleLoader struct {
	path string
	ttl  time.Duration

	mu       sync.RWMutex
	cached   *RuleSet
	loadedAt time.Time
}

// NewRuleLoader creates a loader. An empty path serves the embedded rules
// only. A non-positive ttl disables expiry.
func NewRuleLoader(path string, ttl time.Duration) *RuleLoader {
	return &RuleLoader{path: path, ttl: ttl}
}

// Get returns the current rule set, reloading when the cache has expired.
// A reload failure keeps serving the previous set.
func (l *RuleLoader) Get() (*RuleSet, error) {
	l.mu.RLock()
	if l.cached != nil && !l.expired() {
		rs := l.cached
		l.mu.RUnlock()
		return rs, nil
	}
	l.mu.RUnlock()

	return l.Reload()
}

// Reload forces a fresh load, bypassing the TTL.
func (l *RuleLoader) Reload() (*RuleSet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rs, err := l.load()
	if err != nil {
		if l.cached != nil {
			zap.L().Warn("classify: rule reload failed, serving stale set",
				zap.String("path", l.path), zap.Error(err))
			return l.cached, nil
		}
		return nil, err
	}
	l.cached = rs
	l.loadedAt = time.Now()
	return rs, nil
}

func (l *RuleLoader) expired() bool {
	return l.ttl > 0 && time.Since(l.loadedAt) > l.ttl
}

func (l *RuleLoader) load() (*RuleSet, error) {
	data := embeddedRules
	unmarshal := json.Unmarshal
	if l.path != "" {
		b, err := os.ReadFile(l.path)
		if err != nil {
			return nil, eris.Wrapf(err, "classify: read rules file %s", l.path)
		}
		data = b
		switch filepath.Ext(l.path) {
		case ".yaml", ".yml":
			unmarshal = yaml.Unmarshal
		}
	}

	var f ruleFile
	if err := unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "classify: parse rules")
	}
	if len(f.Rules) == 0 {
		return nil, eris.New("classify: rule set is empty")
	}
	return newRuleSet(f.Rules), nil
}
