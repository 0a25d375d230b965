package xpoint

import "fmt"

// Request is a stop request that could not be resolved yet. It is either an
// AddrRequest or a SymbolRequest.
type Request interface {
	fmt.Stringer
	delayed()
}

type AddrRequest struct {
	Addr  uint64
	Kind  Kind
	Width int
}

func (AddrRequest) delayed() {}

func (r AddrRequest) String() string {
	if r.Kind.IsWatch() {
		return fmt.Sprintf("%s at 0x%x (len=%d)", r.Kind, r.Addr, r.Width)
	}
	return fmt.Sprintf("%s at 0x%x", r.Kind, r.Addr)
}

type SymbolRequest struct {
	Name string
	Line int
}

func (SymbolRequest) delayed() {}

func (r SymbolRequest) String() string {
	if r.Line > 0 {
		return fmt.Sprintf("breakpoint at %s:%d", r.Name, r.Line)
	}
	return fmt.Sprintf("breakpoint at %s", r.Name)
}

// Queue holds delayed requests in arrival order.
type Queue struct {
	reqs []Request
}

func (q *Queue) Push(r Request) {
	q.reqs = append(q.reqs, r)
}

func (q *Queue) Len() int {
	return len(q.reqs)
}

func (q *Queue) List() []Request {
	return append([]Request(nil), q.reqs...)
}

// drain empties the queue and returns what it held.
func (q *Queue) drain() []Request {
	reqs := q.reqs
	q.reqs = nil
	return reqs
}
