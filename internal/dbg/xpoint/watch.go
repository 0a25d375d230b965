package xpoint

func (s *Session) decode(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(s.order.Uint16(b))
	case 4:
		return uint64(s.order.Uint32(b))
	case 8:
		return s.order.Uint64(b)
	}
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func (s *Session) readWatched(xp *Xpoint) (uint64, error) {
	b, err := s.mem.ReadMemory(xp.Addr, xp.Width)
	if err != nil {
		return 0, err
	}
	return s.decode(b), nil
}

func (s *Session) watching(xp *Xpoint) bool {
	return xp.live() && xp.Enabled && xp.Kind.IsWatch()
}

// triggeredWatch finds the watchpoint that caused the current trap. It first
// trusts the backend's per-slot signal and otherwise falls back to comparing
// every watched value against its baseline. In the fallback all changed
// baselines are refreshed but only the last changed slot is reported, so
// simultaneous writes to several watched locations report a single cause.
func (s *Session) triggeredWatch() (slot int, old uint64) {
	for i := 0; i < s.table.next; i++ {
		xp := &s.table.slots[i]
		if !s.watching(xp) || xp.Token == 0 || !s.cpu.WatchSignaled(xp.Token) {
			continue
		}
		s.cpu.ClearWatchSignal(xp.Token)
		v, err := s.readWatched(xp)
		if err != nil {
			continue
		}
		old = xp.Baseline
		xp.Baseline = v
		return i, old
	}

	slot = -1
	for i := 0; i < s.table.next; i++ {
		xp := &s.table.slots[i]
		if !s.watching(xp) {
			continue
		}
		v, err := s.readWatched(xp)
		if err != nil || v == xp.Baseline {
			continue
		}
		if xp.Token != 0 {
			s.cpu.ClearWatchSignal(xp.Token)
		}
		slot, old = i, xp.Baseline
		xp.Baseline = v
	}
	return slot, old
}
