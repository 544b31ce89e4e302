package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonotonicClockAdvancesPerTenant(t *testing.T) {
	fixed := time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC)
	clock := NewMonotonicClock()
	clock.now = func() time.Time { return fixed }

	first := clock.Now("colid-1")
	second := clock.Now("colid-1")
	other := clock.Now("colid-2")

	assert.Equal(t, fixed, first)
	assert.Equal(t, fixed.Add(time.Microsecond), second)
	assert.Equal(t, fixed, other)
}
