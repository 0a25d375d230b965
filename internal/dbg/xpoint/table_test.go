package xpoint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableDedup(t *testing.T) {
	tab := NewTable(DefaultCapacity)

	slot, added, err := tab.Add(0x1000, Break)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 1, slot)
	size := tab.Len()

	again, added, err := tab.Add(0x1000, Break)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, slot, again)
	assert.Equal(t, size, tab.Len())

	xp, ok := tab.Get(slot)
	assert.True(t, ok)
	assert.Equal(t, uint(2), xp.RefCount)

	// Same address, different kind is a different xpoint.
	other, added, err := tab.Add(0x1000, WatchWrite)
	require.NoError(t, err)
	assert.True(t, added)
	assert.NotEqual(t, slot, other)
}

func TestTableRefCount(t *testing.T) {
	for n := 1; n <= 4; n++ {
		tab := NewTable(DefaultCapacity)
		var slot int
		for i := 0; i < n; i++ {
			slot, _, _ = tab.Add(0x1000, Break)
		}
		for i := 0; i < n-1; i++ {
			assert.NoError(t, tab.Delete(slot), "test #%d", n)
		}
		xp, ok := tab.Get(slot)
		assert.True(t, ok, "test #%d", n)
		assert.Equal(t, uint(1), xp.RefCount, "test #%d", n)

		assert.NoError(t, tab.Delete(slot), "test #%d", n)
		_, ok = tab.Get(slot)
		assert.False(t, ok, "test #%d", n)
		assert.ErrorIs(t, tab.Delete(slot), ErrInvalidSlot, "test #%d", n)
	}
}

func TestTableInvalidSlot(t *testing.T) {
	tab := NewTable(DefaultCapacity)
	tab.Add(0x1000, Break)
	freed, _, _ := tab.Add(0x1004, Break)
	tab.Delete(freed)
	tab.setTemp(0x1008)

	ops := []struct {
		name string
		fn   func(slot int) error
	}{
		{"delete", tab.Delete},
		{"enable", func(slot int) error { return tab.Enable(slot, true) }},
		{"disable", func(slot int) error { return tab.Enable(slot, false) }},
		{"condition", func(slot int) error { return tab.SetCondition(slot, mockExpr("true")) }},
		{"ignore", func(slot int) error { return tab.SetSkipCount(slot, 3) }},
	}
	for _, slot := range []int{0, -1, freed, 50, DefaultCapacity, DefaultCapacity + 1} {
		for _, op := range ops {
			before := append([]Xpoint(nil), tab.slots...)
			next := tab.next
			err := op.fn(slot)
			assert.ErrorIs(t, err, ErrInvalidSlot, "%s %d", op.name, slot)
			assert.Equal(t, before, tab.slots, "%s %d", op.name, slot)
			assert.Equal(t, next, tab.next, "%s %d", op.name, slot)
		}
	}
}

func TestTableFull(t *testing.T) {
	tab := NewTable(4)
	for i := 1; i < 4; i++ {
		slot, _, err := tab.Add(uint64(0x1000+i), Break)
		require.NoError(t, err)
		assert.Equal(t, i, slot)
	}

	_, _, err := tab.Add(0x2000, Break)
	assert.True(t, errors.Is(err, ErrTableFull))

	// A freed slot above 1 is found rather than overwriting slot 1.
	require.NoError(t, tab.Delete(2))
	slot, added, err := tab.Add(0x2000, Break)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 2, slot)

	xp, _ := tab.Get(1)
	assert.Equal(t, uint64(0x1001), xp.Addr)
}

func TestTableFind(t *testing.T) {
	tab := NewTable(DefaultCapacity)
	a, _, _ := tab.Add(0x1000, Break)
	b, _, _ := tab.Add(0x1010, Break)

	assert.Equal(t, a, tab.Find(0x1000, Break))
	assert.Equal(t, -1, tab.Find(0x1000, WatchRead))

	tab.Enable(b, false)
	assert.Equal(t, -1, tab.Find(0x1010, Break))

	tab.setTemp(0x1020)
	assert.Equal(t, 0, tab.Find(0x1020, Break))
}

func TestTableRemoveAllInModule(t *testing.T) {
	tab := NewTable(DefaultCapacity)
	tab.Add(0x1000, Break)
	tab.Add(0x1000, Break)
	tab.Add(0x1800, WatchWrite)
	keep, _, _ := tab.Add(0x3000, Break)

	assert.Equal(t, 2, tab.RemoveAllInModule(0x1000, 0x1000))

	entries := tab.List()
	assert.Len(t, entries, 1)
	assert.Equal(t, keep, entries[0].Slot)
}

func TestWatchWidth(t *testing.T) {
	tests := []struct {
		addr      uint64
		width     int
		want      int
		supported bool
	}{
		{0x8000, 4, 4, true},
		{0x8002, 4, 2, true},
		{0x8001, 4, 1, true},
		{0x8001, 2, 1, true},
		{0x8003, 1, 1, true},
		{0x8000, 8, 4, false},
		{0x8006, 3, 2, false},
	}
	for i, test := range tests {
		w, ok := watchWidth(test.addr, test.width)
		assert.Equal(t, test.want, w, "test #%d", i)
		assert.Equal(t, test.supported, ok, "test #%d", i)
	}
}
