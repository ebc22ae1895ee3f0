package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/stevedores/dashboard-sync/internal/errors"
	"github.com/stevedores/dashboard-sync/internal/models"
)

func TestDefaultPolicies(t *testing.T) {
	p := DefaultPolicies()

	assert.Equal(t, StrategyClientWins, p.For(models.EntityCargoTally).Strategy)
	assert.Equal(t, StrategyMerge, p.For(models.EntityVessel).Strategy)
	assert.Equal(t, StrategyMerge, p.For(models.EntityPortCall).Strategy)
	assert.Equal(t, StrategyMerge, p.For("crane_log").Strategy, "unknown entity types merge")
	assert.NoError(t, p.Validate())
}

func TestPolicies_emptyDefault(t *testing.T) {
	var p Policies
	assert.Equal(t, StrategyMerge, p.For(models.EntityVessel).Strategy)

	p = Policies{ByEntity: map[models.EntityType]Policy{models.EntityVessel: {}}}
	assert.Equal(t, StrategyMerge, p.For(models.EntityVessel).Strategy)
}

func TestPolicies_Validate(t *testing.T) {
	bad := Policies{Default: "coin_flip"}
	assert.True(t, apperrors.Is(bad.Validate(), apperrors.ErrInvalid))

	bad = Policies{ByEntity: map[models.EntityType]Policy{
		models.EntityVessel: {Strategy: "newest"},
	}}
	assert.Error(t, bad.Validate())

	bad = Policies{ByEntity: map[models.EntityType]Policy{
		models.EntityVessel: {Strategy: StrategyMerge, Fields: map[string]FieldRule{"eta": "latest"}},
	}}
	assert.Error(t, bad.Validate())
}

func TestPolicies_WithOverrides(t *testing.T) {
	base := DefaultPolicies()
	p := base.WithOverrides(StrategyManual, map[string]Policy{
		"vessel": {Strategy: StrategyServerWins},
	})

	assert.Equal(t, StrategyServerWins, p.For(models.EntityVessel).Strategy)
	assert.Equal(t, StrategyClientWins, p.For(models.EntityCargoTally).Strategy)
	assert.Equal(t, StrategyManual, p.For("crane_log").Strategy)

	// The base table is untouched.
	assert.Equal(t, StrategyMerge, base.For(models.EntityVessel).Strategy)
}

func TestStrategy(t *testing.T) {
	assert.True(t, StrategyMerge.Automatic())
	assert.True(t, StrategyServerWins.Automatic())
	assert.False(t, StrategyManual.Automatic())
	assert.True(t, StrategyManual.Valid())
	assert.False(t, Strategy("x").Valid())
}
