package xpoint

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// AddResult describes the outcome of an add request.
type AddResult struct {
	Slot     int
	RefCount uint
	// Deferred is set when the request was queued for a later retry.
	Deferred bool
}

// Listing is everything the session knows about, for display.
type Listing struct {
	Entries []Entry
	Delayed []Request
}

func (s *Session) AddBreakpoint(addr uint64) (AddResult, error) {
	return s.addBreak(addr, s.deferUnresolved)
}

// AddBreakpointHere sets a breakpoint at the current location.
func (s *Session) AddBreakpointHere(pc uint64) (AddResult, error) {
	return s.addBreak(pc, false)
}

// AddBreakpointAt sets a breakpoint on a symbol, or on a source line when
// line is positive.
func (s *Session) AddBreakpointAt(name string, line int) (AddResult, error) {
	return s.addSymbol(SymbolRequest{Name: name, Line: line}, s.deferUnresolved)
}

// AddWatchpoint watches width bytes at addr for reads or writes.
func (s *Session) AddWatchpoint(addr uint64, width int, kind Kind) (AddResult, error) {
	if !kind.IsWatch() {
		return AddResult{}, fmt.Errorf("%w: %s", ErrNotWatchable, kind)
	}
	return s.addWatch(addr, width, kind, s.deferUnresolved)
}

func (s *Session) addSymbol(req SymbolRequest, deferrable bool) (AddResult, error) {
	if s.sym == nil {
		return s.unresolved(req, fmt.Errorf("%w: no symbols loaded", ErrUnresolved), deferrable)
	}
	addr, ok := s.sym.ResolveName(req.Name, req.Line)
	if !ok {
		return s.unresolved(req, fmt.Errorf("%w: %s", ErrUnresolved, req), deferrable)
	}
	return s.addBreak(addr, deferrable)
}

func (s *Session) addBreak(addr uint64, deferrable bool) (AddResult, error) {
	req := AddrRequest{Addr: addr, Kind: Break}
	lin, err := s.linear(addr)
	if err == nil {
		_, err = s.peek(lin, 1)
	}
	if err != nil {
		return s.unresolved(req, err, deferrable)
	}

	slot, added, err := s.table.Add(lin, Break)
	if err != nil {
		return AddResult{}, err
	}
	xp := &s.table.slots[slot]
	if added {
		s.printf("Breakpoint %d at 0x%x\n", slot, lin)
	} else {
		s.printf("Breakpoint %d at 0x%x (refcount=%d)\n", slot, lin, xp.RefCount)
	}
	s.log.WithFields(logrus.Fields{"slot": slot, "addr": lin, "refcount": xp.RefCount}).Debug("breakpoint added")
	return AddResult{Slot: slot, RefCount: xp.RefCount}, nil
}

func (s *Session) addWatch(addr uint64, width int, kind Kind, deferrable bool) (AddResult, error) {
	req := AddrRequest{Addr: addr, Kind: kind, Width: width}
	lin, err := s.linear(addr)
	if err != nil {
		return s.unresolved(req, err, deferrable)
	}
	w, supported := watchWidth(lin, width)
	if !supported {
		s.printf("Unsupported length (%d) for watch-points, defaulting to 4\n", width)
	}
	b, err := s.peek(lin, w)
	if err != nil {
		return s.unresolved(req, err, deferrable)
	}

	slot, added, err := s.table.Add(lin, kind)
	if err != nil {
		return AddResult{}, err
	}
	xp := &s.table.slots[slot]
	if added {
		xp.Width = w
		xp.Baseline = s.decode(b)
		s.printf("Watchpoint %d at 0x%x\n", slot, lin)
	} else {
		s.printf("Watchpoint %d at 0x%x (refcount=%d)\n", slot, lin, xp.RefCount)
	}
	s.log.WithFields(logrus.Fields{"slot": slot, "addr": lin, "len": xp.Width}).Debug("watchpoint added")
	return AddResult{Slot: slot, RefCount: xp.RefCount}, nil
}

func (s *Session) linear(addr uint64) (uint64, error) {
	if s.res == nil {
		return addr, nil
	}
	lin, err := s.res.Linear(addr)
	if err != nil {
		return 0, fmt.Errorf("%w: 0x%x: %w", ErrUnresolved, addr, err)
	}
	return lin, nil
}

func (s *Session) peek(lin uint64, size int) ([]byte, error) {
	b, err := s.mem.ReadMemory(lin, size)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid address 0x%x: %w", ErrUnresolved, lin, err)
	}
	return b, nil
}

func (s *Session) unresolved(req Request, err error, deferrable bool) (AddResult, error) {
	if !deferrable {
		return AddResult{}, err
	}
	s.delayed.Push(req)
	s.printf("Unable to add %s, will check again when a new module is loaded\n", req)
	s.log.WithField("request", req.String()).Debug("request delayed")
	return AddResult{Deferred: true}, nil
}

func (s *Session) Delete(slot int) error {
	return s.table.Delete(slot)
}

func (s *Session) Enable(slot int) error {
	return s.table.Enable(slot, true)
}

func (s *Session) Disable(slot int) error {
	return s.table.Enable(slot, false)
}

// SetCondition compiles src and attaches it to slot. An empty src removes
// the condition.
func (s *Session) SetCondition(slot int, src string) error {
	if _, err := s.table.user(slot); err != nil {
		return err
	}
	if src == "" {
		return s.table.SetCondition(slot, nil)
	}
	if s.exprs == nil {
		return ErrNoCondition
	}
	e, err := s.exprs.Compile(src)
	if err != nil {
		return err
	}
	return s.table.SetCondition(slot, e)
}

func (s *Session) SetSkipCount(slot int, n uint) error {
	return s.table.SetSkipCount(slot, n)
}

func (s *Session) List() Listing {
	return Listing{
		Entries: s.table.List(),
		Delayed: s.delayed.List(),
	}
}

// RetryDelayed retries every delayed request after new code became
// available. Requests whose address is now mapped leave the queue whether or
// not the add succeeds.
func (s *Session) RetryDelayed() ([]AddResult, error) {
	var results []AddResult
	var errs []error
	for _, req := range s.delayed.drain() {
		if !s.resolvable(req) {
			s.delayed.Push(req)
			continue
		}
		s.log.WithField("request", req.String()).Debug("trying delayed request")
		var res AddResult
		var err error
		switch r := req.(type) {
		case AddrRequest:
			if r.Kind == Break {
				res, err = s.addBreak(r.Addr, false)
			} else {
				res, err = s.addWatch(r.Addr, r.Width, r.Kind, false)
			}
		case SymbolRequest:
			res, err = s.addSymbol(r, false)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (s *Session) resolvable(req Request) bool {
	switch r := req.(type) {
	case AddrRequest:
		lin, err := s.linear(r.Addr)
		if err != nil {
			return false
		}
		size := 1
		if r.Kind.IsWatch() {
			size, _ = watchWidth(lin, r.Width)
		}
		_, err = s.peek(lin, size)
		return err == nil
	case SymbolRequest:
		if s.sym == nil {
			return false
		}
		_, ok := s.sym.ResolveName(r.Name, r.Line)
		return ok
	}
	return false
}

// ModuleUnloaded drops every xpoint inside an unloaded module.
func (s *Session) ModuleUnloaded(base, size uint64) int {
	n := s.table.RemoveAllInModule(base, size)
	if n > 0 {
		s.log.WithFields(logrus.Fields{"base": base, "size": size, "count": n}).Debug("xpoints removed with module")
	}
	return n
}
