package lldb

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStopReply(t *testing.T) {
	desc := hex.EncodeToString([]byte("32768 0 32768"))
	tests := []struct {
		input    string
		want     stopReply
		hasError bool
	}{
		{
			input: "W00",
			want:  stopReply{kind: 'W'},
		},
		{
			input: "X09",
			want:  stopReply{kind: 'X', status: 9},
		},
		{
			input: "S05",
			want:  stopReply{kind: 'S', signal: 5},
		},
		{
			input: "T05thread:1f;name:a.out;reason:breakpoint;10:0010400000000000;",
			want: stopReply{
				kind: 'T', signal: 5, tid: 0x1f, reason: "breakpoint",
				regs: map[int]uint64{0x10: 0x401000},
			},
		},
		{
			input: "T05thread:1f;watch:8000;",
			want:  stopReply{kind: 'T', signal: 5, tid: 0x1f, reason: "watchpoint", watchAddr: 0x8000, hasWatch: true},
		},
		{
			input: "T05thread:1f;reason:watchpoint;description:" + desc + ";",
			want:  stopReply{kind: 'T', signal: 5, tid: 0x1f, reason: "watchpoint", watchAddr: 0x8000, hasWatch: true},
		},
		{
			input: "T0bthread:2;reason:signal;",
			want:  stopReply{kind: 'T', signal: 11, tid: 2, reason: "signal"},
		},
		{
			input:    "T05thread:zz;",
			hasError: true,
		},
		{
			input:    "OK",
			hasError: true,
		},
		{
			input:    "Q12",
			hasError: true,
		},
	}
	for i, test := range tests {
		r, err := parseStopReply(test.input)
		if test.hasError {
			assert.Error(t, err, "test #%d", i)
			continue
		}
		if !assert.NoError(t, err, "test #%d", i) {
			continue
		}
		if test.want.regs == nil && r.kind == 'T' {
			test.want.regs = map[int]uint64{}
		}
		if r.kind != 'T' {
			r.regs = nil
		}
		assert.Equal(t, test.want, *r, "test #%d", i)
	}
}

func TestRegCodec(t *testing.T) {
	v, err := decodeReg(encodeReg(0x7fffdeadbeef))
	assert.NoError(t, err)
	assert.Equal(t, uint64(0x7fffdeadbeef), v)

	v, err = decodeReg("3412")
	assert.NoError(t, err)
	assert.Equal(t, uint64(0x1234), v)
}
