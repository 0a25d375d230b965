package xpoint

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

type StopReason int

const (
	NotStopped StopReason = iota
	StopBreakpoint
	StopWatchpoint
	// StopUnrecognizedBreak is a breakpoint exception no xpoint accounts for.
	StopUnrecognizedBreak
	// StopStepped ends a step command.
	StopStepped
)

func (r StopReason) String() string {
	return [...]string{"running", "breakpoint", "watchpoint", "break", "step"}[r]
}

// Verdict is the outcome of BreakShouldContinue.
type Verdict struct {
	Reason StopReason
	// PC is the trap address after correction.
	PC       uint64
	Slot     int
	Old, New uint64
}

func (v Verdict) Continue() bool {
	return v.Reason == NotStopped
}

func (v Verdict) String() string {
	switch v.Reason {
	case StopBreakpoint:
		return fmt.Sprintf("Stopped on breakpoint %d at 0x%x", v.Slot, v.PC)
	case StopWatchpoint:
		return fmt.Sprintf("Stopped on watchpoint %d at 0x%x values: old=0x%x new=0x%x", v.Slot, v.PC, v.Old, v.New)
	case StopUnrecognizedBreak:
		return fmt.Sprintf("Stopped on unrecognized break at 0x%x", v.PC)
	case StopStepped:
		return fmt.Sprintf("Stopped at 0x%x", v.PC)
	}
	return fmt.Sprintf("Running at 0x%x", v.PC)
}

// ShouldStop tells whether a hit on slot is reported. A false condition
// leaves the skip count alone; a condition that fails to evaluate is dropped
// for good. A slot that is not live never stops.
func (s *Session) ShouldStop(slot int) bool {
	if slot < 0 || slot >= s.table.next || !s.table.slots[slot].live() {
		return false
	}
	xp := &s.table.slots[slot]
	if xp.Cond != nil {
		ok, err := s.evaluate(xp.Cond)
		if err != nil {
			eerr := &EvalError{Slot: slot, Expr: xp.Cond.String(), Err: err}
			s.printf("Unable to evaluate expression %s\nTurning off condition\n", xp.Cond)
			s.log.WithError(eerr).Warn("condition dropped")
			xp.Cond = nil
		} else if !ok {
			return false
		}
	}
	if xp.SkipCount > 0 {
		xp.SkipCount--
		return false
	}
	return true
}

func (s *Session) evaluate(e Expr) (bool, error) {
	if s.exprs == nil {
		return false, ErrNoCondition
	}
	return s.exprs.Evaluate(e)
}

func (s *Session) corrected(pc uint64, backward bool) uint64 {
	return uint64(int64(pc) + s.cpu.PCCorrection(backward))
}

// BreakShouldContinue decides what to do with a trap at pc.
func (s *Session) BreakShouldContinue(pc uint64, trap TrapKind) Verdict {
	if trap == TrapBreak {
		pc = s.corrected(pc, true)
	}
	temp := &s.table.slots[0]
	matched := temp.live() && temp.Enabled && temp.Addr == pc
	temp.Enabled = false

	log := s.log.WithFields(logrus.Fields{"pc": pc, "trap": trap, "mode": s.mode})

	if slot := s.table.Find(pc, Break); slot > 0 {
		if !s.ShouldStop(slot) {
			log.WithField("slot", slot).Debug("breakpoint passed")
			return Verdict{PC: pc, Slot: slot}
		}
		return Verdict{Reason: StopBreakpoint, PC: pc, Slot: slot}
	}

	if slot, old := s.triggeredWatch(); slot >= 0 {
		matched = true
		if trap == TrapBreak {
			pc = s.corrected(pc, false)
		}
		xp := &s.table.slots[slot]
		if s.ShouldStop(slot) {
			return Verdict{Reason: StopWatchpoint, PC: pc, Slot: slot, Old: old, New: xp.Baseline}
		}
		log.WithField("slot", slot).Debug("watchpoint passed")
	}

	switch {
	case s.mode.byLine():
		if s.sym != nil && s.sym.LineStatus(pc) == OnLine {
			s.steps--
		}
	case s.mode.byInsn():
		s.steps--
	}

	if s.steps > 0 || s.mode == ModeFinish {
		return Verdict{PC: pc}
	}

	if !matched && trap == TrapBreak {
		return Verdict{Reason: StopUnrecognizedBreak, PC: s.corrected(pc, false)}
	}

	if s.mode == ModeContinue {
		return Verdict{PC: pc}
	}
	return Verdict{Reason: StopStepped, PC: pc}
}
