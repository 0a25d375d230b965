package dap

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// maxMessageSize bounds the Content-Length a client may announce.
const maxMessageSize = 1 << 24

type message interface {
	seq() int
}

type baseMessage struct {
	Seq  int    `json:"seq"`
	Type string `json:"type"`
}

func (m *baseMessage) seq() int { return m.Seq }

// request is an incoming request. Arguments are read lazily with gjson
// paths such as "breakpoints.#.line".
type request struct {
	baseMessage

	Command   string
	Arguments gjson.Result
}

type event struct {
	baseMessage

	Event string                 `json:"event"`
	Body  map[string]interface{} `json:"body,omitempty"`
}

type response struct {
	baseMessage

	RequestSeq int                    `json:"request_seq"`
	Success    bool                   `json:"success"`
	Command    string                 `json:"command"`
	Message    string                 `json:"message,omitempty"`
	Body       map[string]interface{} `json:"body,omitempty"`
}

type errorMessage struct {
	Id        int               `json:"id"`
	Format    string            `json:"format"`
	Variables map[string]string `json:"variables,omitempty"`
	ShowUser  bool              `json:"showUser"`
}

func readHeader(r *bufio.Reader) (int64, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	// skip the empty line ending the header
	if _, err := r.ReadBytes('\n'); err != nil {
		return 0, err
	}
	name, value, ok := strings.Cut(header, ":")
	if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
		return 0, fmt.Errorf("invalid header: %s", header)
	}
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

func readMessage(r *bufio.Reader) (message, error) {
	n, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > maxMessageSize {
		return nil, fmt.Errorf("invalid content length %d", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid message: %s", body)
	}

	m := gjson.ParseBytes(body)
	base := baseMessage{
		Seq:  int(m.Get("seq").Int()),
		Type: m.Get("type").String(),
	}
	switch base.Type {
	case "request":
		return &request{
			baseMessage: base,
			Command:     m.Get("command").String(),
			Arguments:   m.Get("arguments"),
		}, nil
	case "event", "response":
		return &base, nil
	default:
		return nil, fmt.Errorf("unknown message type: %s", body)
	}
}

func writeMessage(w io.Writer, m message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(b)); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
