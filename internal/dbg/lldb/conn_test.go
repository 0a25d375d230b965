package lldb

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.Out = io.Discard
	return logrus.NewEntry(l)
}

type MockServer struct {
	input  bytes.Buffer
	output *bytes.Buffer
}

func (s *MockServer) Read(data []byte) (int, error) {
	return s.input.Read(data)
}

func (s *MockServer) Write(data []byte) (int, error) {
	return s.output.Write(data)
}

func (s *MockServer) Append(data string) {
	s.input.WriteString(data)
}

var recvTests = []struct {
	input    string
	want     string
	hasError bool
	hasACK   bool
	wantOut  []byte
}{
	{
		input: "$test#c0",
		want:  "test",
	},
	{
		input:    "$test#XX",
		hasError: true,
	},
	{
		input:    "$test#c1",
		hasError: true,
	},
	{
		input: "%test#c0$test#c0",
		want:  "test",
	},
	{
		input:   "$test#c0",
		want:    "test",
		wantOut: []byte{'+'},
		hasACK:  true,
	},
	{
		input:   "$test#c1$test#c0",
		want:    "test",
		wantOut: []byte("-+"),
		hasACK:  true,
	},
	{
		input: "$test}]}\x03#1a",
		want:  "test}#",
	},
	{
		input: "$0* #7a", // run length encoded
		want:  "0000",
	},
}

func TestConnRecv(t *testing.T) {
	ms := &MockServer{}
	c := newConn(ms, discardLog())

	for i, test := range recvTests {
		ms.Append(test.input)
		c.ack = test.hasACK

		ms.output = &bytes.Buffer{}
		resp, err := c.recv()

		assert.Equal(t, test.want, resp, "test #%d", i)
		assert.Equal(t, test.wantOut, ms.output.Bytes(), "test #%d", i)
		if test.hasError {
			assert.NotNil(t, err, "test #%d", i)
		} else {
			assert.Nil(t, err, "test #%d", i)
		}
	}
}

func TestConnSend(t *testing.T) {
	ms := &MockServer{output: &bytes.Buffer{}}
	c := newConn(ms, discardLog())

	assert.NoError(t, c.send("m1000,4"))
	assert.Equal(t, "$m1000,4#8e", ms.output.String())

	// Retransmit on NACK.
	c.ack = true
	ms.output.Reset()
	ms.Append("-+")
	assert.NoError(t, c.send("k"))
	assert.Equal(t, "$k#6b$k#6b", ms.output.String())
}

func TestConnQuery(t *testing.T) {
	ms := &MockServer{output: &bytes.Buffer{}}
	c := newConn(ms, discardLog())

	ms.Append("$E08#ad")
	_, err := c.query("m0,4")
	var rerr *RemoteError
	assert.True(t, errors.As(err, &rerr))
	assert.Equal(t, uint64(8), rerr.Code)

	ms.Append("$OK#9a")
	assert.NoError(t, c.expectOK("Z0,1000,1"))

	ms.Append("$#00")
	assert.Error(t, c.expectOK("Z2,1000,4"))
}
