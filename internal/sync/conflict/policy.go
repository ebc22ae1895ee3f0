package conflict

import (
	"fmt"
	"sort"

	apperrors "github.com/stevedores/dashboard-sync/internal/errors"
	"github.com/stevedores/dashboard-sync/internal/models"
)

// Strategy settles a conflict.
type Strategy string

const (
	StrategyClientWins Strategy = models.ResolutionClientWins
	StrategyServerWins Strategy = models.ResolutionServerWins
	StrategyMerge      Strategy = models.ResolutionMerge
	StrategyManual     Strategy = models.ResolutionManual
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyClientWins, StrategyServerWins, StrategyMerge, StrategyManual:
		return true
	}
	return false
}

// Automatic reports whether the resolver settles s without the user.
func (s Strategy) Automatic() bool {
	return s == StrategyClientWins || s == StrategyServerWins || s == StrategyMerge
}

// FieldRule picks the value of one field during a merge.
type FieldRule string

const (
	FieldLocal  FieldRule = "local"
	FieldServer FieldRule = "server"
	FieldUnion  FieldRule = "union"
	FieldMax    FieldRule = "max"
	FieldMin    FieldRule = "min"
)

// Valid reports whether r is a known rule.
func (r FieldRule) Valid() bool {
	switch r {
	case FieldLocal, FieldServer, FieldUnion, FieldMax, FieldMin:
		return true
	}
	return false
}

// Policy is the conflict policy for one entity type. Field keys use dots
// for nested objects, e.g. "position.lat".
type Policy struct {
	Strategy Strategy             `mapstructure:"strategy" json:"strategy" yaml:"strategy"`
	Fields   map[string]FieldRule `mapstructure:"fields" json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Policies maps entity types to policies.
type Policies struct {
	Default  Strategy
	ByEntity map[models.EntityType]Policy
}

// DefaultPolicies returns the built-in policy table. Cargo tallies are
// counted on the terminal, so the latest local count is authoritative.
func DefaultPolicies() Policies {
	return Policies{
		Default: StrategyMerge,
		ByEntity: map[models.EntityType]Policy{
			models.EntityCargoTally: {Strategy: StrategyClientWins},
			models.EntityVessel: {
				Strategy: StrategyMerge,
				Fields: map[string]FieldRule{
					"tags":           FieldUnion,
					"crew":           FieldUnion,
					"draft_readings": FieldUnion,
				},
			},
			models.EntityPortCall: {
				Strategy: StrategyMerge,
				Fields: map[string]FieldRule{
					"berth":      FieldServer,
					"cleared_at": FieldMax,
					"services":   FieldUnion,
					"arrived_at": FieldMin,
				},
			},
		},
	}
}

// For returns the policy of an entity type. Unknown types get the default
// strategy with no field rules.
func (p Policies) For(entityType models.EntityType) Policy {
	if pol, ok := p.ByEntity[entityType]; ok {
		if pol.Strategy == "" {
			pol.Strategy = p.defaultStrategy()
		}
		return pol
	}
	return Policy{Strategy: p.defaultStrategy()}
}

func (p Policies) defaultStrategy() Strategy {
	if p.Default == "" {
		return StrategyMerge
	}
	return p.Default
}

// Validate checks every strategy and field rule.
func (p Policies) Validate() error {
	if p.Default != "" && !p.Default.Valid() {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown default conflict strategy %q", p.Default)
	}
	entities := make([]string, 0, len(p.ByEntity))
	for e := range p.ByEntity {
		entities = append(entities, string(e))
	}
	sort.Strings(entities)

	for _, e := range entities {
		pol := p.ByEntity[models.EntityType(e)]
		if pol.Strategy != "" && !pol.Strategy.Valid() {
			return apperrors.Newf(apperrors.ErrInvalid, "entity %s: unknown conflict strategy %q", e, pol.Strategy)
		}
		for field, rule := range pol.Fields {
			if !rule.Valid() {
				return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("entity %s field %s: unknown merge rule %q", e, field, rule))
			}
		}
	}
	return nil
}

// WithOverrides returns a copy of p with the given entries replacing the
// built-in ones.
func (p Policies) WithOverrides(def Strategy, overrides map[string]Policy) Policies {
	out := Policies{Default: p.Default, ByEntity: make(map[models.EntityType]Policy, len(p.ByEntity)+len(overrides))}
	if def != "" {
		out.Default = def
	}
	for e, pol := range p.ByEntity {
		out.ByEntity[e] = pol
	}
	for e, pol := range overrides {
		out.ByEntity[models.EntityType(e)] = pol
	}
	return out
}
