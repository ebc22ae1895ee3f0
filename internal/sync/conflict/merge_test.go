package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stevedores/dashboard-sync/internal/models"
)

func TestMerge_defaults(t *testing.T) {
	local := models.Payload{
		"name": "Aurora",
		"eta":  "10:00",
		"tags": []interface{}{"reefer", "priority"},
	}
	server := models.Payload{
		"name": "Aurora",
		"eta":  "11:30",
		"tags": []interface{}{"priority", "hazmat"},
		"imo":  "9321483",
	}

	got := Merge(local, server, nil)

	assert.Equal(t, "10:00", got["eta"], "scalars prefer local")
	assert.Equal(t, "9321483", got["imo"], "server-only fields are kept")
	assert.Equal(t, []interface{}{"reefer", "priority", "hazmat"}, got["tags"], "lists take the union")
}

func TestMerge_nested(t *testing.T) {
	local := models.Payload{
		"position": map[string]interface{}{"lat": 51.9, "lon": 4.1},
	}
	server := models.Payload{
		"position": map[string]interface{}{"lat": 51.8, "heading": 270},
	}

	got := Merge(local, server, map[string]FieldRule{"position.lat": FieldServer})

	pos := got["position"].(map[string]interface{})
	assert.Equal(t, 51.8, pos["lat"])
	assert.Equal(t, 4.1, pos["lon"])
	assert.Equal(t, 270, pos["heading"])
}

func TestMerge_nestedPayloadType(t *testing.T) {
	local := models.Payload{"meta": models.Payload{"a": 1}}
	server := models.Payload{"meta": map[string]interface{}{"b": 2}}

	got := Merge(local, server, nil)
	meta := got["meta"].(map[string]interface{})
	assert.EqualValues(t, 1, meta["a"])
	assert.EqualValues(t, 2, meta["b"])
}

func TestMerge_rules(t *testing.T) {
	local := models.Payload{
		"berth":      "A1",
		"cleared_at": 200,
		"arrived_at": 150,
		"note":       "local",
		"services":   []interface{}{"pilot"},
	}
	server := models.Payload{
		"berth":      "B4",
		"cleared_at": 300.0,
		"arrived_at": 100.0,
		"note":       "server",
		"services":   []interface{}{"tug"},
	}
	rules := map[string]FieldRule{
		"berth":      FieldServer,
		"cleared_at": FieldMax,
		"arrived_at": FieldMin,
		"note":       FieldLocal,
		"services":   FieldUnion,
	}

	got := Merge(local, server, rules)

	assert.Equal(t, "B4", got["berth"])
	assert.Equal(t, 300.0, got["cleared_at"])
	assert.Equal(t, 100.0, got["arrived_at"])
	assert.Equal(t, "local", got["note"])
	assert.Equal(t, []interface{}{"pilot", "tug"}, got["services"])
}

func TestMerge_ruleFallbacks(t *testing.T) {
	local := models.Payload{"count": "many", "tags": "single"}
	server := models.Payload{"count": 5, "tags": []interface{}{"x"}}

	got := Merge(local, server, map[string]FieldRule{"count": FieldMax, "tags": FieldUnion})

	assert.Equal(t, "many", got["count"], "non-numeric max keeps local")
	assert.Equal(t, "single", got["tags"], "union of a non-list keeps local")
}

func TestMerge_timestampRules(t *testing.T) {
	local := models.Payload{
		"arrived_at": "2024-05-01T08:30:00Z",
		"cleared_at": "2024-05-01T14:00:00+02:00",
	}
	server := models.Payload{
		"arrived_at": "2024-05-01T07:45:00Z",
		"cleared_at": "2024-05-01T12:30:00Z",
	}

	got := Merge(local, server, map[string]FieldRule{"arrived_at": FieldMin, "cleared_at": FieldMax})

	assert.Equal(t, "2024-05-01T07:45:00Z", got["arrived_at"])
	assert.Equal(t, "2024-05-01T12:30:00Z", got["cleared_at"], "offsets are compared as instants")
}

func TestMerge_timestampAgainstNumberKeepsLocal(t *testing.T) {
	local := models.Payload{"arrived_at": "2024-05-01T08:30:00Z"}
	server := models.Payload{"arrived_at": 1714550000000.0}

	got := Merge(local, server, map[string]FieldRule{"arrived_at": FieldMin})

	assert.Equal(t, "2024-05-01T08:30:00Z", got["arrived_at"])
}

func TestMerge_unionNumbersAcrossTypes(t *testing.T) {
	local := models.Payload{"ids": []interface{}{1, 2}}
	server := models.Payload{"ids": []interface{}{2.0, 3.0}}

	got := Merge(local, server, nil)
	assert.Equal(t, []interface{}{1, 2, 3.0}, got["ids"])
}

func TestMerge_doesNotAliasInputs(t *testing.T) {
	local := models.Payload{"tags": []interface{}{"a"}}
	server := models.Payload{"nested": map[string]interface{}{"k": "v"}}

	got := Merge(local, server, nil)
	got["nested"].(map[string]interface{})["k"] = "changed"

	assert.Equal(t, "v", server["nested"].(map[string]interface{})["k"])
}

func TestMerge_nilSides(t *testing.T) {
	assert.Equal(t, models.Payload{"a": 1}, Merge(models.Payload{"a": 1}, nil, nil))
	assert.Equal(t, models.Payload{"b": 2}, Merge(nil, models.Payload{"b": 2}, nil))
}
