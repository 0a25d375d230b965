package lldb

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/sirupsen/logrus"
)

const maxRetransmits = 5

type conn struct {
	remote io.ReadWriter
	br     *bufio.Reader
	ack    bool
	log    *logrus.Entry
}

// RemoteError is an "Exx" reply.
type RemoteError struct {
	Cmd  string
	Code uint64
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %02x for %q", e.Code, e.Cmd)
}

func newConn(remote io.ReadWriter, log *logrus.Entry) *conn {
	return &conn{remote: remote, br: bufio.NewReader(remote), log: log}
}

func (c *conn) handshake() error {
	c.ack = true

	if err := c.sendACK(true); err != nil {
		return err
	}
	if err := c.disableACK(); err != nil {
		return err
	}
	return nil
}

func (c *conn) exec(cmd string) (string, error) {
	if err := c.send(cmd); err != nil {
		return "", err
	}
	return c.recv()
}

// query is exec that turns error replies into a *RemoteError.
func (c *conn) query(cmd string) (string, error) {
	resp, err := c.exec(cmd)
	if err != nil {
		return "", err
	}
	if len(resp) == 3 && resp[0] == 'E' {
		code, err := strconv.ParseUint(resp[1:], 16, 8)
		if err == nil {
			return "", &RemoteError{Cmd: cmd, Code: code}
		}
	}
	return resp, nil
}

// expectOK runs cmd and fails unless the stub answers OK.
func (c *conn) expectOK(cmd string) error {
	resp, err := c.query(cmd)
	if err != nil {
		return err
	}
	if resp != "OK" {
		return fmt.Errorf("unexpected reply to %q: %q", cmd, resp)
	}
	return nil
}

func (c *conn) send(cmd string) error {
	p := fmt.Sprintf("$%s#%02x", cmd, checksum(cmd))
	c.log.Tracef("-> %s", p)

	for i := 0; i < maxRetransmits; i++ {
		if _, err := c.remote.Write([]byte(p)); err != nil {
			return err
		}

		if !c.ack {
			return nil
		}

		ok, err := c.recvACK()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("failed to send %s after %d attempts", cmd, maxRetransmits)
}

func (c *conn) recv() (string, error) {
	for i := 0; i < maxRetransmits; i++ {
		res, err := c.br.ReadBytes('#')
		if err != nil {
			return "", err
		}

		buf := make([]byte, 2)
		if _, err := io.ReadFull(c.br, buf); err != nil {
			return "", err
		}

		if res[0] == '%' {
			continue // ignore async notifications
		}

		raw := res[1 : len(res)-1]
		c.log.Tracef("<- %s", res)
		sum, err := strconv.ParseUint(string(buf), 16, 8)
		if err != nil {
			return "", err
		}
		sumOK := (uint8(sum) == checksum(string(raw)))

		if !c.ack {
			if sumOK {
				return decodePayload(raw), nil
			} else {
				return "", fmt.Errorf("checksum mismatch: %s", res)
			}
		}

		if sumOK {
			if err := c.sendACK(true); err != nil {
				return "", err
			}
			return decodePayload(raw), nil
		}
		if err := c.sendACK(false); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("failed to recv data after %d attempts", maxRetransmits)
}

// decodePayload undoes '}' escaping and '*' run length encoding.
func decodePayload(raw []byte) string {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		switch b := raw[i]; {
		case b == '}' && i+1 < len(raw):
			i++
			out = append(out, raw[i]^0x20)
		case b == '*' && i+1 < len(raw) && len(out) > 0:
			i++
			last := out[len(out)-1]
			for n := int(raw[i]) - 29; n > 0; n-- {
				out = append(out, last)
			}
		default:
			out = append(out, b)
		}
	}
	return string(out)
}

func (c *conn) sendACK(ack bool) error {
	var err error
	if ack {
		_, err = c.remote.Write([]byte{'+'})
	} else {
		_, err = c.remote.Write([]byte{'-'})
	}
	return err
}

func (c *conn) recvACK() (bool, error) {
	b, err := c.br.ReadByte()
	if err != nil {
		return false, err
	}
	if b != '+' && b != '-' {
		return false, fmt.Errorf("invalid ack byte: %c", b)
	}
	return b == '+', nil
}

func (c *conn) disableACK() error {
	res, err := c.exec("QStartNoAckMode")
	c.ack = (res != "OK")
	return err
}

func checksum(cmd string) uint8 {
	var sum uint8
	for _, b := range []byte(cmd) {
		sum += b
	}
	return sum
}
