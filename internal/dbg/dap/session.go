package dap

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"gni.dev/xdbg/internal/dbg"
	"gni.dev/xdbg/internal/dbg/logflags"
	"gni.dev/xdbg/internal/dbg/xpoint"
)

// threadID is the only thread the debugger reports.
const threadID = 1

// NewDebugger builds the debugger of a session; out receives its notices.
type NewDebugger func(out io.Writer) dbg.Debugger

type Session struct {
	rw       io.ReadWriter
	d        dbg.Debugger
	log      *logrus.Entry
	seq      int
	handlers map[string]func(*request)

	// sources maps a source path, or "" for functions, to the breakpoints
	// the client set there.
	sources     map[string][]int
	stopOnEntry bool
	state       *dbg.State
}

func NewSession(rw io.ReadWriter, newDebugger NewDebugger) *Session {
	s := &Session{
		rw:      rw,
		log:     logflags.New("dap"),
		sources: make(map[string][]int),
	}
	s.d = newDebugger(outputWriter{s})
	s.handlers = map[string]func(*request){
		"initialize":             s.onInitialize,
		"launch":                 s.onLaunch,
		"setBreakpoints":         s.onSetBreakpoints,
		"setFunctionBreakpoints": s.onSetFunctionBreakpoints,
		"configurationDone":      s.onConfigurationDone,
		"threads":                s.onThreads,
		"stackTrace":             s.onStackTrace,
		"continue":               s.resume(xpoint.ModeContinue),
		"next":                   s.resume(xpoint.ModeNextLine),
		"stepIn":                 s.resume(xpoint.ModeStepLine),
		"stepOut":                s.resume(xpoint.ModeFinish),
		"disconnect":             s.onDisconnect,
	}
	return s
}

func (s *Session) Serve() error {
	r := bufio.NewReader(s.rw)
	for {
		m, err := readMessage(r)
		if err != nil {
			return err
		}
		req, ok := m.(*request)
		if !ok {
			s.replyErr(m, processingErr, "only requests are allowed", false)
			return io.EOF
		}
		s.log.WithFields(logrus.Fields{"seq": req.Seq, "command": req.Command}).Debug("request")

		fn, ok := s.handlers[req.Command]
		if !ok {
			s.replyErr(m, processingErr, "unknown command", false)
			continue
		}
		fn(req)
		if req.Command == "disconnect" {
			return io.EOF
		}
	}
}

func (s *Session) onInitialize(req *request) {
	s.reply(s.newResponse(req, map[string]interface{}{
		"supportsConfigurationDoneRequest":  true,
		"supportsFunctionBreakpoints":       true,
		"supportsConditionalBreakpoints":    true,
		"supportsHitConditionalBreakpoints": true,
	}))
	s.send("initialized", nil)
}

func (s *Session) onLaunch(req *request) {
	program := req.Arguments.Get("program").String()
	if program == "" {
		s.replyErr(req, launchErr, "no program specified", true)
		return
	}
	var args []string
	for _, a := range req.Arguments.Get("args").Array() {
		args = append(args, a.String())
	}
	s.stopOnEntry = req.Arguments.Get("stopOnEntry").Bool()

	if err := s.d.Launch(program, args); err != nil {
		s.replyErr(req, launchErr, err.Error(), true)
		return
	}
	s.reply(s.newResponse(req, nil))
}

func (s *Session) onSetBreakpoints(req *request) {
	path := req.Arguments.Get("source.path").String()
	if path == "" {
		s.replyErr(req, setBreakpointsErr, "no source path", false)
		return
	}
	s.setBreakpoints(req, path, req.Arguments.Get("breakpoints").Array(), func(bp gjson.Result) dbg.Location {
		return dbg.Location{Name: path, Line: int(bp.Get("line").Int())}
	})
}

func (s *Session) onSetFunctionBreakpoints(req *request) {
	s.setBreakpoints(req, "", req.Arguments.Get("breakpoints").Array(), func(bp gjson.Result) dbg.Location {
		loc, err := dbg.ParseLocation(bp.Get("name").String())
		if err != nil {
			return dbg.Location{Name: bp.Get("name").String()}
		}
		return loc
	})
}

// setBreakpoints replaces the breakpoints of source with bps.
func (s *Session) setBreakpoints(req *request, source string, bps []gjson.Result, location func(gjson.Result) dbg.Location) {
	for _, id := range s.sources[source] {
		if err := s.d.Delete(id); err != nil {
			s.log.WithError(err).WithField("id", id).Warn("delete breakpoint")
		}
	}
	s.sources[source] = nil

	result := []map[string]interface{}{}
	for _, arg := range bps {
		loc := location(arg)
		bp, err := s.d.AddBreakpoint(loc)
		if err != nil {
			result = append(result, map[string]interface{}{"verified": false, "message": err.Error()})
			continue
		}
		info := map[string]interface{}{"verified": !bp.Deferred}
		if bp.Deferred {
			info["message"] = "pending until the program is loaded"
			result = append(result, info)
			continue
		}
		s.sources[source] = append(s.sources[source], bp.ID)
		info["id"] = bp.ID
		if bp.Line > 0 {
			info["line"] = bp.Line
		}
		info["instructionReference"] = fmt.Sprintf("0x%x", bp.Addr)
		if err := s.configure(bp.ID, arg); err != nil {
			info["message"] = err.Error()
		}
		result = append(result, info)
	}
	s.reply(s.newResponse(req, map[string]interface{}{"breakpoints": result}))
}

func (s *Session) configure(id int, arg gjson.Result) error {
	var errs []error
	if c := arg.Get("condition"); c.Exists() {
		errs = append(errs, s.d.SetCondition(id, c.String()))
	}
	if h := arg.Get("hitCondition"); h.Exists() && h.Int() > 1 {
		errs = append(errs, s.d.SetIgnoreCount(id, uint(h.Int()-1)))
	}
	return errors.Join(errs...)
}

func (s *Session) onConfigurationDone(req *request) {
	s.reply(s.newResponse(req, nil))
	if s.stopOnEntry {
		s.send("stopped", map[string]interface{}{
			"reason":            "entry",
			"threadId":          threadID,
			"allThreadsStopped": true,
		})
		return
	}
	s.run(xpoint.ModeContinue)
}

func (s *Session) onThreads(req *request) {
	s.reply(s.newResponse(req, map[string]interface{}{
		"threads": []map[string]interface{}{{"id": threadID, "name": "main"}},
	}))
}

func (s *Session) onStackTrace(req *request) {
	frames := []map[string]interface{}{}
	if st := s.state; st != nil && !st.Exited {
		name := st.Func
		if name == "" {
			name = fmt.Sprintf("0x%x", st.PC)
		}
		frame := map[string]interface{}{
			"id":                          0,
			"name":                        name,
			"line":                        st.Line,
			"column":                      0,
			"instructionPointerReference": fmt.Sprintf("0x%x", st.PC),
		}
		if st.File != "" {
			frame["source"] = map[string]interface{}{"path": st.File}
		}
		frames = append(frames, frame)
	}
	s.reply(s.newResponse(req, map[string]interface{}{
		"stackFrames": frames,
		"totalFrames": len(frames),
	}))
}

func (s *Session) resume(mode xpoint.Mode) func(*request) {
	return func(req *request) {
		body := map[string]interface{}{}
		if mode == xpoint.ModeContinue {
			body["allThreadsContinued"] = true
		}
		s.reply(s.newResponse(req, body))
		s.run(mode)
	}
}

// run resumes the debuggee and reports how it stopped.
func (s *Session) run(mode xpoint.Mode) {
	st, err := s.d.Resume(mode, 0)
	if err != nil {
		s.output("stderr", err.Error()+"\n")
		return
	}
	s.state = st
	if st.Exited {
		s.send("exited", map[string]interface{}{"exitCode": st.Status})
		s.send("terminated", nil)
		return
	}

	body := map[string]interface{}{
		"threadId":          threadID,
		"allThreadsStopped": true,
		"description":       st.String(),
	}
	switch st.Reason {
	case xpoint.StopBreakpoint:
		body["reason"] = "breakpoint"
		body["hitBreakpointIds"] = []int{st.Slot}
	case xpoint.StopWatchpoint:
		body["reason"] = "data breakpoint"
		body["hitBreakpointIds"] = []int{st.Slot}
	case xpoint.StopStepped:
		body["reason"] = "step"
	default:
		body["reason"] = "exception"
	}
	s.send("stopped", body)
}

func (s *Session) onDisconnect(req *request) {
	var err error
	if req.Arguments.Get("terminateDebuggee").Bool() {
		err = s.d.Kill()
	} else {
		err = s.d.Detach()
	}
	if err != nil && !errors.Is(err, dbg.ErrNotRunning) {
		s.log.WithError(err).Warn("disconnect")
	}
	s.reply(s.newResponse(req, nil))
}

func (s *Session) nextSeq() int {
	s.seq++
	return s.seq
}

func (s *Session) newResponse(req *request, body map[string]interface{}) *response {
	return &response{
		baseMessage: baseMessage{Seq: s.nextSeq(), Type: "response"},
		RequestSeq:  req.Seq,
		Success:     true,
		Command:     req.Command,
		Body:        body,
	}
}

func (s *Session) send(name string, body map[string]interface{}) {
	s.reply(&event{
		baseMessage: baseMessage{Seq: s.nextSeq(), Type: "event"},
		Event:       name,
		Body:        body,
	})
}

func (s *Session) output(category, text string) {
	s.send("output", map[string]interface{}{"category": category, "output": text})
}

func (s *Session) reply(m message) {
	if err := writeMessage(s.rw, m); err != nil {
		s.log.WithError(err).Error("write message")
	}
}

func (s *Session) replyErr(incoming message, e errorCode, details string, show bool) {
	cmd := "unknown"
	if req, ok := incoming.(*request); ok {
		cmd = req.Command
	}
	s.reply(&response{
		baseMessage: baseMessage{Seq: s.nextSeq(), Type: "response"},
		RequestSeq:  incoming.seq(),
		Command:     cmd,
		Message:     e.String(),
		Body: map[string]interface{}{"error": errorMessage{
			Id:       int(e),
			Format:   details,
			ShowUser: show,
		}},
	})
}

// outputWriter turns debugger notices into output events.
type outputWriter struct {
	s *Session
}

func (w outputWriter) Write(p []byte) (int, error) {
	w.s.output("console", string(p))
	return len(p), nil
}
