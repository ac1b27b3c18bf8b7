package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRangeGenerator_Generate(t *testing.T) {
	generator := NewRangeGenerator(6.0, 9.0, 2)

	for i := 0; i < 100; i++ {
		result := generator.Generate()
		assert.True(t, result >= 6.0 && result <= 9.0)
		assert.Equal(t, Round(result, 2), result)
	}
}

func TestRangeGenerator_SwappedBounds(t *testing.T) {
	generator := NewRangeGenerator(-70, -120, 6)

	for i := 0; i < 100; i++ {
		result := generator.Generate()
		assert.True(t, result >= -120 && result <= -70)
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		value    float64
		places   int
		expected float64
	}{
		{7.123, 2, 7.12},
		{7.125001, 2, 7.13},
		{-1.999, 1, -2.0},
		{42.0, 0, 42.0},
		{30.1234567, 6, 30.123457},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.expected, Round(tt.value, tt.places), 1e-9)
	}
}

func TestChance(t *testing.T) {
	assert.False(t, Chance(0))
	assert.True(t, Chance(1))
}

func TestNewUUID(t *testing.T) {
	uuid := NewUUID()
	assert.NotEmpty(t, uuid.String())
	assert.True(t, IsValidUUID(uuid.String()))
	assert.False(t, IsValidUUID("invalid-id"))
}
