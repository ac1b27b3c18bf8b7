package utils

import (
	"math"
	"math/rand"

	"github.com/google/uuid"
)

func NewUUID() uuid.UUID {
	return uuid.New()
}

func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Round округляет до places знаков после запятой
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// RangeGenerator выдаёт случайные значения из [min, max], округлённые до places знаков
type RangeGenerator struct {
	min    float64
	max    float64
	places int
}

func NewRangeGenerator(min, max float64, places int) *RangeGenerator {
	if max < min {
		min, max = max, min
	}
	return &RangeGenerator{
		min:    min,
		max:    max,
		places: places,
	}
}

func (g *RangeGenerator) Generate() float64 {
	v := g.min + rand.Float64()*(g.max-g.min)
	return Round(v, g.places)
}

// Chance возвращает true с вероятностью p
func Chance(p float64) bool {
	return rand.Float64() < p
}
