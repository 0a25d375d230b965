package xpoint

import "github.com/sirupsen/logrus"

// Resume starts a new execution command from pc. count is the number of
// steps for stepping modes and the repeat count of a breakpoint being
// continued from in ModeContinue.
func (s *Session) Resume(mode Mode, count int, pc uint64) error {
	s.mode = mode
	repeat := 0
	switch mode {
	case ModeContinue:
		s.steps = 0
		repeat = count
	case ModeFinish:
		s.steps = 0
	default:
		s.steps = count
		if s.steps < 1 {
			s.steps = 1
		}
	}
	return s.RestartExecution(pc, repeat)
}

// RestartExecution prepares the debuggee stopped at pc to run again in the
// session's mode: it either arms every xpoint, possibly with the internal
// breakpoint after a call, or turns on single stepping.
func (s *Session) RestartExecution(pc uint64, repeat int) error {
	if err := s.SetInstalled(false); err != nil {
		return err
	}

	mode := s.mode
	resume := mode

	if slot := s.table.Find(pc, Break); slot > 0 {
		if repeat != 0 && mode == ModeContinue {
			s.table.slots[slot].SkipCount = uint(repeat)
		}
		mode = ModeStepInsn
	}

	if mode == ModeFinish && s.cpu.IsReturn(pc) {
		mode, resume = ModeStepInsn, ModeStepInsn
	}

	if callee, ok := s.cpu.CallTarget(pc); ok && mode == ModeStepLine {
		if callee == 0 || s.lineStatus(callee) == NoLineInfo {
			mode = ModeNextLine
		}
	}

	if mode == ModeStepLine && s.lineStatus(pc) == NoLineInfo {
		s.printf("Single stepping until exit from function,\nwhich has no line number information.\n")
		mode, resume = ModeFinish, ModeFinish
	}

	s.log.WithFields(logrus.Fields{"pc": pc, "mode": mode, "resume": resume}).Debug("restart")

	var err error
	switch mode {
	case ModeContinue:
		err = s.run()
	case ModeNextInsn, ModeNextLine, ModeFinish:
		if s.cpu.IsSteppableCall(pc) {
			s.table.setTemp(s.cpu.NextInstruction(pc))
			err = s.run()
			break
		}
		err = s.cpu.SetSingleStep(true)
	case ModeStepInsn, ModeStepLine:
		err = s.cpu.SetSingleStep(true)
	}
	s.mode = resume
	return err
}

func (s *Session) run() error {
	if err := s.cpu.SetSingleStep(false); err != nil {
		return err
	}
	return s.SetInstalled(true)
}

func (s *Session) lineStatus(addr uint64) LineStatus {
	if s.sym == nil {
		return NoLineInfo
	}
	return s.sym.LineStatus(addr)
}
