package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stevedores/dashboard-sync/internal/models"
)

func TestOf_deterministic(t *testing.T) {
	p := models.Payload{"count": 150, "location": "Berth A1"}
	assert.Equal(t, Of(p), Of(p))
	assert.Len(t, Of(p), 32)
}

func TestOf_orderIndependent(t *testing.T) {
	a := models.Payload{}
	a["count"] = 150
	a["location"] = "Berth A1"

	b := models.Payload{}
	b["location"] = "Berth A1"
	b["count"] = 150

	assert.Equal(t, Of(a), Of(b))
}

func TestOf_nestedOrderIndependent(t *testing.T) {
	a := models.Payload{"specs": map[string]interface{}{"loa": 180, "beam": 32}}
	b := models.Payload{"specs": map[string]interface{}{"beam": 32, "loa": 180}}
	assert.Equal(t, Of(a), Of(b))
}

func TestOf_detectsChanges(t *testing.T) {
	base := models.Payload{"count": 150, "location": "Berth A1"}

	tests := []struct {
		name  string
		other models.Payload
	}{
		{"changed value", models.Payload{"count": 151, "location": "Berth A1"}},
		{"extra field", models.Payload{"count": 150, "location": "Berth A1", "note": ""}},
		{"missing field", models.Payload{"count": 150}},
		{"type change", models.Payload{"count": "150", "location": "Berth A1"}},
		{"key value shift", models.Payload{"count1": 50, "location": "Berth A1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, Of(base), Of(tt.other))
		})
	}
}

func TestOf_integerAndFloatAgree(t *testing.T) {
	// Payloads read back from JSON carry float64 numbers.
	assert.Equal(t, Of(models.Payload{"count": 150}), Of(models.Payload{"count": 150.0}))
}

func TestOf_emptyAndNil(t *testing.T) {
	assert.Equal(t, Of(nil), Of(models.Payload{}))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(models.Payload{"a": 1, "b": 2}, models.Payload{"b": 2, "a": 1}))
	assert.False(t, Equal(models.Payload{"a": 1}, models.Payload{"a": 2}))
}
