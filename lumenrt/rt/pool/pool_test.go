package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolHandlesStartAtOne(t *testing.T) {
	p := New[string](2)
	a := p.Add("a")
	b := p.Add("b")

	assert.Equal(t, Handle(1), a)
	assert.Equal(t, Handle(2), b)
	assert.False(t, p.Valid(Invalid))
	assert.Equal(t, "b", p.Get(b))
}

func TestPoolSetAndPtr(t *testing.T) {
	p := New[int](0)
	h := p.Add(1)
	p.Set(h, 5)
	*p.Ptr(h) += 1
	assert.Equal(t, 6, p.Get(h))
}

func TestPoolReleaseVisitsAll(t *testing.T) {
	p := New[int](0)
	for i := 0; i < 4; i++ {
		p.Add(i)
	}
	var seen []int
	p.Release(func(v int) { seen = append(seen, v) })

	assert.Equal(t, []int{0, 1, 2, 3}, seen)
	assert.Equal(t, 0, p.Len())
	assert.False(t, p.Valid(1))
}

func TestPoolInvalidHandlePanics(t *testing.T) {
	p := New[int](0)
	require.PanicsWithValue(t, "pool: invalid handle", func() { p.Get(3) })
}

func TestPoolRemoveReusesSlot(t *testing.T) {
	p := New[string](0)
	a := p.Add("a")
	b := p.Add("b")

	assert.Equal(t, "a", p.Remove(a))
	assert.False(t, p.Valid(a))
	assert.True(t, p.Valid(b))
	assert.Equal(t, 1, p.Live())
	require.PanicsWithValue(t, "pool: invalid handle", func() { p.Remove(a) })

	c := p.Add("c")
	assert.Equal(t, a, c, "freed slot is reused")
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, 2, p.Live())
}

func TestPoolEachAndReleaseSkipRemoved(t *testing.T) {
	p := New[int](0)
	for i := 0; i < 4; i++ {
		p.Add(i)
	}
	p.Remove(2)

	var each []int
	p.Each(func(h Handle, v *int) { each = append(each, *v) })
	assert.Equal(t, []int{0, 2, 3}, each)

	var released []int
	p.Release(func(v int) { released = append(released, v) })
	assert.Equal(t, []int{0, 2, 3}, released)
	assert.Equal(t, 0, p.Live())
	assert.Equal(t, Handle(1), p.Add(9), "release drops the free list")
}
