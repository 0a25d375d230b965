//go:build darwin || freebsd || linux || netbsd || openbsd

package term

import "golang.org/x/sys/unix"

type State struct {
	t  unix.Termios
	fd int
}

func IsTerminal(fd int) bool {
	_, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	return err == nil
}

// TerminalMode switches fd to raw mode and returns the state to restore.
func TerminalMode(fd int) (*State, error) {
	t, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return nil, err
	}
	orig := &State{t: *t, fd: fd}

	raw := *t
	raw.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	raw.Cflag |= unix.CS8
	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &raw); err != nil {
		return nil, err
	}
	return orig, nil
}

func (s *State) Restore() error {
	return unix.IoctlSetTermios(s.fd, ioctlSetTermios, &s.t)
}
