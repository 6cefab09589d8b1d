package comparison_test

import (
	"testing"

	"github.com/rysavy-ondrej/RINASharp-sub000/utils/comparison"
	"github.com/stretchr/testify/assert"
)

func TestMinMax(t *testing.T) {
	assert.Equal(t, 1, comparison.Min(1, 2))
	assert.Equal(t, 2, comparison.Max(1, 2))
	assert.Equal(t, "a", comparison.Min("b", "a"))
	assert.Equal(t, 2.5, comparison.Max(2.5, -1))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 5, comparison.Clamp(7, 0, 5))
	assert.Equal(t, 0, comparison.Clamp(-3, 0, 5))
	assert.Equal(t, 3, comparison.Clamp(3, 0, 5))
}
