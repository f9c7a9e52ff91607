package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaudeCost(t *testing.T) {
	c := NewCalculator(nil)

	// 1M input + 1M output on sonnet.
	got := c.Claude("claude-sonnet-4-5-20250929", 1_000_000, 1_000_000)
	assert.InDelta(t, 18.00, got, 0.001)
}

func TestClaudeCostFractional(t *testing.T) {
	c := NewCalculator(nil)

	// A typical classification batch: 5k in, 1k out on sonnet.
	got := c.Claude("claude-sonnet-4-5-20250929", 5000, 1000)
	assert.InDelta(t, 0.015+0.015, got, 0.0001)
}

func TestClaudeUnknownModelCostsZero(t *testing.T) {
	c := NewCalculator(nil)
	assert.Zero(t, c.Claude("unknown-model", 1_000_000, 1_000_000))
}

func TestCustomRates(t *testing.T) {
	c := NewCalculator(map[string]ModelRate{
		"custom": {Input: 1.00, Output: 2.00},
	})
	assert.InDelta(t, 3.00, c.Claude("custom", 1_000_000, 1_000_000), 0.001)
}
