package xpoint

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// SetInstalled arms (on) or removes every xpoint in the debuggee. Calling it
// twice with the same value is a no-op. Entries that cannot be armed are
// disabled and reported in the returned error; the pass itself always
// completes.
func (s *Session) SetInstalled(on bool) error {
	if s.installed == on {
		return nil
	}
	s.installed = on
	if on {
		return s.arm()
	}
	return s.disarm()
}

func (s *Session) arm() error {
	var errs []error
	owners := make(map[uint64]bool)
	for i := 0; i < s.table.next; i++ {
		xp := &s.table.slots[i]
		if !xp.live() || !xp.Enabled || xp.installed {
			continue
		}
		if xp.Kind == Break && owners[xp.Addr] {
			xp.installed, xp.alias = true, true
			continue
		}
		tok, err := s.cpu.Install(xp.Kind, xp.Addr, xp.width())
		if err != nil {
			xp.Enabled = false
			ierr := &InstallError{Slot: i, Addr: xp.Addr, Err: err}
			s.printf("%s\n", ierr)
			s.log.WithFields(logrus.Fields{"slot": i, "addr": xp.Addr}).WithError(err).Warn("install failed")
			errs = append(errs, ierr)
			continue
		}
		xp.installed, xp.alias = true, false
		xp.Token = tok
		if xp.Kind == Break {
			owners[xp.Addr] = true
		}
	}
	return errors.Join(errs...)
}

func (s *Session) disarm() error {
	var errs []error
	for i := 0; i < s.table.next; i++ {
		xp := &s.table.slots[i]
		if !xp.installed {
			continue
		}
		xp.installed = false
		if xp.alias {
			xp.alias = false
			continue
		}
		// Token stays valid for watch signal queries until the next arm.
		if err := s.cpu.Remove(xp.Kind, xp.Addr, xp.width(), xp.Token); err != nil {
			s.log.WithFields(logrus.Fields{"slot": i, "addr": xp.Addr}).WithError(err).Warn("remove failed")
			errs = append(errs, fmt.Errorf("cannot remove %s %d at 0x%x: %w", xp.Kind, i, xp.Addr, err))
		}
	}
	return errors.Join(errs...)
}
