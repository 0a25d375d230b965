package xpoint

// DefaultCapacity is the default number of slots, slot 0 included.
const DefaultCapacity = 100

// Table is the fixed capacity collection of xpoints of one debuggee. Slot 0
// holds the internal step-over breakpoint, slots 1 and up are user visible.
type Table struct {
	slots []Xpoint
	next  int // first never used slot
}

func NewTable(capacity int) *Table {
	if capacity < 2 {
		capacity = 2
	}
	return &Table{
		slots: make([]Xpoint, capacity),
		next:  1,
	}
}

func (t *Table) Capacity() int {
	return len(t.slots)
}

// Len returns the number of slots ever allocated, slot 0 included.
func (t *Table) Len() int {
	return t.next
}

// Add returns the slot holding (addr, kind), allocating one if needed. added
// is false when an existing slot was re-requested.
func (t *Table) Add(addr uint64, kind Kind) (slot int, added bool, err error) {
	if slot := t.lookup(addr, kind); slot > 0 {
		t.slots[slot].RefCount++
		return slot, false, nil
	}
	slot = t.alloc()
	if slot < 0 {
		return -1, false, ErrTableFull
	}
	t.slots[slot] = Xpoint{
		Kind:     kind,
		Addr:     addr,
		Enabled:  true,
		RefCount: 1,
	}
	return slot, true, nil
}

func (t *Table) alloc() int {
	if t.next < len(t.slots) {
		t.next++
		return t.next - 1
	}
	for i := 1; i < len(t.slots); i++ {
		if !t.slots[i].live() {
			return i
		}
	}
	return -1
}

// lookup finds a live user slot for (addr, kind), enabled or not.
func (t *Table) lookup(addr uint64, kind Kind) int {
	for i := 1; i < t.next; i++ {
		xp := &t.slots[i]
		if xp.live() && xp.Addr == addr && xp.Kind == kind {
			return i
		}
	}
	return -1
}

// Find returns the lowest live, enabled slot matching (addr, kind) or -1.
func (t *Table) Find(addr uint64, kind Kind) int {
	for i := 0; i < t.next; i++ {
		xp := &t.slots[i]
		if xp.live() && xp.Enabled && xp.Addr == addr && xp.Kind == kind {
			return i
		}
	}
	return -1
}

func (t *Table) user(slot int) (*Xpoint, error) {
	if slot <= 0 || slot >= t.next || !t.slots[slot].live() {
		return nil, invalidSlot(slot)
	}
	return &t.slots[slot], nil
}

// Delete drops one reference to slot; the slot is freed with the last one.
func (t *Table) Delete(slot int) error {
	xp, err := t.user(slot)
	if err != nil {
		return err
	}
	xp.RefCount--
	if xp.RefCount == 0 {
		release(xp)
	}
	return nil
}

func release(xp *Xpoint) {
	xp.RefCount = 0
	xp.Enabled = false
	xp.Cond = nil
	xp.SkipCount = 0
}

func (t *Table) Enable(slot int, on bool) error {
	xp, err := t.user(slot)
	if err != nil {
		return err
	}
	xp.Enabled = on
	return nil
}

// SetCondition attaches e to slot; a nil e clears the condition.
func (t *Table) SetCondition(slot int, e Expr) error {
	xp, err := t.user(slot)
	if err != nil {
		return err
	}
	xp.Cond = e
	return nil
}

func (t *Table) SetSkipCount(slot int, n uint) error {
	xp, err := t.user(slot)
	if err != nil {
		return err
	}
	xp.SkipCount = n
	return nil
}

// Get returns a copy of a live slot, slot 0 included.
func (t *Table) Get(slot int) (Xpoint, bool) {
	if slot < 0 || slot >= t.next || !t.slots[slot].live() {
		return Xpoint{}, false
	}
	return t.slots[slot], true
}

// RemoveAllInModule deletes every xpoint in [base, base+size) whatever its
// reference count and returns how many were removed.
func (t *Table) RemoveAllInModule(base, size uint64) int {
	n := 0
	for i := 1; i < t.next; i++ {
		xp := &t.slots[i]
		if xp.live() && xp.Addr >= base && xp.Addr-base < size {
			release(xp)
			n++
		}
	}
	return n
}

// List returns the live user slots in slot order.
func (t *Table) List() []Entry {
	var entries []Entry
	for i := 1; i < t.next; i++ {
		if t.slots[i].live() {
			entries = append(entries, Entry{Slot: i, Xpoint: t.slots[i]})
		}
	}
	return entries
}

// setTemp arms slot 0 as a single shot breakpoint at addr. Slot 0 must not
// be physically installed.
func (t *Table) setTemp(addr uint64) {
	t.slots[0] = Xpoint{
		Kind:     Break,
		Addr:     addr,
		Enabled:  true,
		RefCount: 1,
	}
}
