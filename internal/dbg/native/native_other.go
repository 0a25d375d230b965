//go:build !(linux && amd64)

package native

import (
	"errors"

	"github.com/sirupsen/logrus"

	"gni.dev/xdbg/internal/dbg"
)

var ErrUnsupported = errors.New("native backend requires linux/amd64")

func Launch(program string, args []string, stdio dbg.Stdio, log *logrus.Entry) (dbg.Target, error) {
	return nil, ErrUnsupported
}
