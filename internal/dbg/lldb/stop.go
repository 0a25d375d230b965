package lldb

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// stopReply is a parsed T, S, W or X packet.
type stopReply struct {
	kind   byte
	signal int
	// status is the exit status for W and the signal for X.
	status int
	tid    int
	reason string

	watchAddr uint64
	hasWatch  bool

	regs map[int]uint64
}

func (r *stopReply) exited() bool {
	return r.kind == 'W' || r.kind == 'X'
}

func parseStopReply(s string) (*stopReply, error) {
	if len(s) < 3 {
		return nil, fmt.Errorf("invalid stop reply %q", s)
	}
	r := &stopReply{kind: s[0], regs: make(map[int]uint64)}
	code, err := strconv.ParseUint(s[1:3], 16, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid stop reply %q: %w", s, err)
	}

	switch r.kind {
	case 'W', 'X':
		r.status = int(code)
		return r, nil
	case 'S':
		r.signal = int(code)
		return r, nil
	case 'T':
		r.signal = int(code)
	default:
		return nil, fmt.Errorf("unexpected stop reply %q", s)
	}

	for _, kv := range strings.Split(s[3:], ";") {
		key, val, ok := strings.Cut(kv, ":")
		if !ok {
			continue
		}
		switch key {
		case "thread":
			tid, err := strconv.ParseUint(val, 16, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid thread %q", val)
			}
			r.tid = int(tid)
		case "reason":
			r.reason = val
		case "watch", "rwatch", "awatch":
			addr, err := strconv.ParseUint(val, 16, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid watch address %q", val)
			}
			r.reason = "watchpoint"
			r.watchAddr, r.hasWatch = addr, true
		case "description":
			// lldb-server describes watch hits as "addr index hit-addr" in
			// decimal, hex encoded.
			desc, err := hex.DecodeString(val)
			if err != nil || r.hasWatch {
				continue
			}
			if f := strings.Fields(string(desc)); len(f) > 0 {
				if addr, err := strconv.ParseUint(f[0], 10, 64); err == nil {
					r.watchAddr, r.hasWatch = addr, true
				}
			}
		default:
			regnum, err := strconv.ParseUint(key, 16, 32)
			if err != nil {
				continue
			}
			if v, err := decodeReg(val); err == nil {
				r.regs[int(regnum)] = v
			}
		}
	}
	if r.reason != "watchpoint" {
		r.hasWatch = false
	}
	return r, nil
}

// decodeReg decodes a little endian register value.
func decodeReg(s string) (uint64, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, err
	}
	if len(b) > 8 {
		b = b[:8]
	}
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func encodeReg(v uint64) string {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return hex.EncodeToString(buf[:])
}
