package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFractionDirectUnits(t *testing.T) {
	n := New(4)
	assert.Equal(t, 0.0, n.Fraction())

	n.Add(1)
	assert.InDelta(t, 0.25, n.Fraction(), 1e-9)

	n.Add(10) // clamped
	assert.Equal(t, 1.0, n.Fraction())
}

func TestFractionComposedFromChildren(t *testing.T) {
	parent := New(2)
	first := New(2)
	second := New(4)
	parent.AddChild(first, 1)
	parent.AddChild(second, 1)

	first.Add(1)
	assert.InDelta(t, 0.25, parent.Fraction(), 1e-9)

	second.Add(4)
	assert.InDelta(t, 0.75, parent.Fraction(), 1e-9)

	first.Add(1)
	assert.InDelta(t, 1.0, parent.Fraction(), 1e-9)
}

func TestWeightedChildren(t *testing.T) {
	parent := New(4)
	heavy := New(1)
	parent.AddChild(heavy, 3)
	parent.Add(1)

	heavy.Add(1)
	assert.InDelta(t, 1.0, parent.Fraction(), 1e-9)
}

func TestOnChangeBubblesUp(t *testing.T) {
	parent := New(1)
	child := New(2)
	parent.AddChild(child, 1)

	var last float64
	parent.OnChange(func(f float64) { last = f })

	child.Add(1)
	assert.InDelta(t, 0.5, last, 1e-9)

	child.Add(1)
	assert.InDelta(t, 1.0, last, 1e-9)
}

func TestZeroTotal(t *testing.T) {
	n := New(0)
	assert.Equal(t, 0.0, n.Fraction())
}

func TestComplete(t *testing.T) {
	n := New(3)
	n.AddChild(New(5), 2)
	n.Complete()
	assert.Equal(t, 1.0, n.Fraction())
}
