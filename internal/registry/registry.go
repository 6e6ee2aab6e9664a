// Package registry holds the immutable action-type catalog.
package registry

import (
	"fmt"
	"strings"

	"caseflow/internal/config"
	"caseflow/internal/domain"
	"caseflow/internal/policy"
)

// Registry is read-only after New and safe for concurrent use.
type Registry struct {
	types  []domain.ActionType
	byCode map[string]int
}

// New builds a registry and checks that every action the pipeline depends on is declared.
func New(types []domain.ActionType) (*Registry, error) {
	r := &Registry{byCode: make(map[string]int, len(types))}
	for _, at := range types {
		if at.Code == "" {
			return nil, fmt.Errorf("action type with empty code")
		}
		if _, dup := r.byCode[at.Code]; dup {
			return nil, fmt.Errorf("duplicate action type %s", at.Code)
		}
		at.ApplicableStages = append([]domain.Stage(nil), at.ApplicableStages...)
		r.byCode[at.Code] = len(r.types)
		r.types = append(r.types, at)
	}
	var missing []string
	for _, code := range policy.RequiredCodes() {
		if _, ok := r.byCode[code]; !ok {
			missing = append(missing, code)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("catalog is missing pipeline action types: %s", strings.Join(missing, ", "))
	}
	return r, nil
}

// FromConfig builds a registry from a validated catalog.
func FromConfig(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	return New(cfg.ToActionTypes())
}

// List returns every action type in declaration order.
func (r *Registry) List() []domain.ActionType {
	out := make([]domain.ActionType, len(r.types))
	copy(out, r.types)
	return out
}

// Get returns the action type for code.
func (r *Registry) Get(code string) (domain.ActionType, error) {
	i, ok := r.byCode[code]
	if !ok {
		return domain.ActionType{}, &domain.PipelineError{Kind: domain.ErrNotFound, Op: "get_action_type", ActionType: code}
	}
	return r.types[i], nil
}

type Filter struct {
	Role       domain.Role
	ActiveOnly bool
	Stage      domain.Stage
}

// Filter returns the types matching f. Role matches required_role exactly.
func (r *Registry) Filter(f Filter) []domain.ActionType {
	out := []domain.ActionType{}
	for _, at := range r.types {
		if f.Role != "" && at.RequiredRole != f.Role {
			continue
		}
		if f.ActiveOnly && !at.IsActive {
			continue
		}
		if f.Stage != "" && !at.AppliesTo(f.Stage) {
			continue
		}
		out = append(out, at)
	}
	return out
}
