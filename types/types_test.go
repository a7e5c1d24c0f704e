package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypes(t *testing.T) {
	{ // Test packed int for edge labeling
		en := NewEdgeKey(1, 0)
		assert.Equal(t, EdgeKey(1<<32), en)
		assert.Equal(t, [2]int{0, 1}, en.GetVertices())

		en = NewEdgeKey(0, 1)
		assert.Equal(t, EdgeKey(1<<32), en)
		assert.Equal(t, [2]int{0, 1}, en.GetVertices())

		en = NewEdgeKey(0, 10)
		assert.Equal(t, EdgeKey(10*(1<<32)), en)
		assert.Equal(t, [2]int{0, 10}, en.GetVertices())

		en = NewEdgeKey(100, 1)
		assert.Equal(t, EdgeKey(100*(1<<32)+1), en)
		assert.Equal(t, [2]int{1, 100}, en.GetVertices())

		en = NewEdgeKey(100, 100001)
		assert.Equal(t, EdgeKey(100001*(1<<32)+100), en)
		assert.Equal(t, [2]int{100, 100001}, en.GetVertices())

		// Test maximum/minimum indices
		en = NewEdgeKey(1, 1<<32-1)
		assert.Equal(t, EdgeKey((1<<32-1)<<32+1), en)
		assert.Equal(t, [2]int{1, 1<<32 - 1}, en.GetVertices())
	}
	{ // Endpoint queries
		en := NewEdgeKey(7, 3)
		assert.True(t, en.Contains(3))
		assert.True(t, en.Contains(7))
		assert.False(t, en.Contains(5))
		assert.Equal(t, 7, en.Other(3))
		assert.Equal(t, 3, en.Other(7))
		assert.Panics(t, func() { en.Other(5) })
		assert.Panics(t, func() { NewEdgeKey(-1, 2) })
	}
	{ // Key ordering is by (max, min), usable for deterministic sweeps
		keys := EdgeKeySlice{NewEdgeKey(5, 9), NewEdgeKey(0, 1), NewEdgeKey(2, 3)}
		keys.Sort()
		assert.Equal(t, [2]int{0, 1}, keys[0].GetVertices())
		assert.Equal(t, [2]int{2, 3}, keys[1].GetVertices())
		assert.Equal(t, [2]int{5, 9}, keys[2].GetVertices())
	}
}
