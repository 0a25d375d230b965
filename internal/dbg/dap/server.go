package dap

import (
	"fmt"
	"io"
	"net"

	"gni.dev/xdbg/internal/dbg/logflags"
)

// Server serves one client connection at a time.
type Server struct {
	port        int
	newDebugger NewDebugger
}

func NewServer(port int, newDebugger NewDebugger) *Server {
	return &Server{port: port, newDebugger: newDebugger}
}

func (s *Server) Run() error {
	listen, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", s.port))
	if err != nil {
		return err
	}
	defer listen.Close()
	log := logflags.New("dap")
	log.WithField("addr", listen.Addr().String()).Info("listening")
	for {
		conn, err := listen.Accept()
		if err != nil {
			return err
		}
		sess := NewSession(conn, s.newDebugger)
		err = sess.Serve()
		conn.Close()
		if err == io.EOF {
			return err
		}
		if err != nil {
			log.WithError(err).Error("session")
		}
	}
}
