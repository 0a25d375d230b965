package term

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gni.dev/xdbg/internal/dbg"
	"gni.dev/xdbg/internal/dbg/xpoint"
)

type command struct {
	aliases []string
	usage   string
	// repeat is set for commands an empty line runs again.
	repeat bool
	fn     func(args []string) error
}

type Commands struct {
	cmds []command
	d    dbg.Debugger
	out  io.Writer

	program string
	args    []string
}

// DebuggerCommands returns the command set of d. program and args are used
// by run when it is given no arguments.
func DebuggerCommands(d dbg.Debugger, out io.Writer, program string, args []string) *Commands {
	c := &Commands{d: d, out: out, program: program, args: args}
	c.cmds = []command{
		{aliases: []string{"exit", "quit", "q"}, usage: "quit the debugger", fn: c.exit},
		{aliases: []string{"help", "h"}, usage: "list commands", fn: c.help},
		{aliases: []string{"run", "r"}, usage: "run [program [args...]]", fn: c.run},
		{aliases: []string{"kill", "k"}, usage: "kill the program", fn: c.kill},
		{aliases: []string{"detach"}, usage: "detach from the program", fn: c.detach},
		{aliases: []string{"break", "b"}, usage: "break [*addr|func|file:line]", fn: c.breakpoint},
		{aliases: []string{"watch"}, usage: "watch addr [len]", fn: c.watch("watch", xpoint.WatchWrite)},
		{aliases: []string{"rwatch"}, usage: "rwatch addr [len]", fn: c.watch("rwatch", xpoint.WatchRead)},
		{aliases: []string{"delete", "d"}, usage: "delete id...", fn: c.each(func(id int) error { return c.d.Delete(id) })},
		{aliases: []string{"enable"}, usage: "enable id...", fn: c.each(func(id int) error { return c.d.Enable(id, true) })},
		{aliases: []string{"disable"}, usage: "disable id...", fn: c.each(func(id int) error { return c.d.Enable(id, false) })},
		{aliases: []string{"condition", "cond"}, usage: "condition id [expr]", fn: c.condition},
		{aliases: []string{"ignore"}, usage: "ignore id count", fn: c.ignore},
		{aliases: []string{"info", "i"}, usage: "info break", fn: c.info},
		{aliases: []string{"continue", "c"}, usage: "continue [N]", repeat: true, fn: c.resume(xpoint.ModeContinue)},
		{aliases: []string{"step", "s"}, usage: "step [N]", repeat: true, fn: c.resume(xpoint.ModeStepLine)},
		{aliases: []string{"stepi", "si"}, usage: "stepi [N]", repeat: true, fn: c.resume(xpoint.ModeStepInsn)},
		{aliases: []string{"next", "n"}, usage: "next [N]", repeat: true, fn: c.resume(xpoint.ModeNextLine)},
		{aliases: []string{"nexti", "ni"}, usage: "nexti [N]", repeat: true, fn: c.resume(xpoint.ModeNextInsn)},
		{aliases: []string{"finish", "fin"}, usage: "finish", repeat: true, fn: c.resume(xpoint.ModeFinish)},
	}
	return c
}

func (c *Commands) find(name string) *command {
	for i := range c.cmds {
		for _, alias := range c.cmds[i].aliases {
			if name == alias {
				return &c.cmds[i]
			}
		}
	}
	return nil
}

func (c *Commands) Process(line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return fmt.Errorf("empty command")
	}
	cmd := c.find(args[0])
	if cmd == nil {
		return fmt.Errorf("unknown command '%s'", args[0])
	}
	return cmd.fn(args[1:])
}

// Repeatable tells whether an empty line after line runs it again.
func (c *Commands) Repeatable(line string) bool {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false
	}
	cmd := c.find(args[0])
	return cmd != nil && cmd.repeat
}

func (c *Commands) Close() error {
	if c.d == nil {
		return nil
	}
	if err := c.d.Kill(); err != nil && !errors.Is(err, dbg.ErrNotRunning) {
		return err
	}
	return nil
}

func (c *Commands) exit(args []string) error {
	return io.EOF
}

func (c *Commands) help(args []string) error {
	for _, cmd := range c.cmds {
		fmt.Fprintf(c.out, "%-20s %s\n", strings.Join(cmd.aliases, ", "), cmd.usage)
	}
	return nil
}

func (c *Commands) run(args []string) error {
	if len(args) > 0 {
		c.program, c.args = args[0], args[1:]
	}
	if c.program == "" {
		return fmt.Errorf("no executable specified")
	}
	if err := c.d.Launch(c.program, c.args); err != nil {
		return err
	}
	return c.resume(xpoint.ModeContinue)(nil)
}

func (c *Commands) kill(args []string) error {
	return c.d.Kill()
}

func (c *Commands) detach(args []string) error {
	return c.d.Detach()
}

func (c *Commands) breakpoint(args []string) error {
	loc, err := dbg.ParseLocation(strings.Join(args, " "))
	if err != nil {
		return err
	}
	bp, err := c.d.AddBreakpoint(loc)
	if err != nil {
		return err
	}
	if !bp.Deferred && bp.File != "" {
		fmt.Fprintf(c.out, "Breakpoint %d: file %s, line %d.\n", bp.ID, bp.File, bp.Line)
	}
	return nil
}

func (c *Commands) watch(name string, kind xpoint.Kind) func(args []string) error {
	return func(args []string) error {
		if len(args) == 0 || len(args) > 2 {
			return fmt.Errorf("usage: %s addr [len]", name)
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(args[0], "*"), 0, 64)
		if err != nil {
			return fmt.Errorf("invalid address %q", args[0])
		}
		width := 4
		if len(args) == 2 {
			if width, err = strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("invalid length %q", args[1])
			}
		}
		_, err = c.d.AddWatchpoint(addr, width, kind)
		return err
	}
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid breakpoint number %q", s)
	}
	return id, nil
}

func (c *Commands) each(fn func(id int) error) func(args []string) error {
	return func(args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("argument required (breakpoint number)")
		}
		var errs []error
		for _, arg := range args {
			id, err := parseID(arg)
			if err == nil {
				err = fn(id)
			}
			if err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

func (c *Commands) condition(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("argument required (breakpoint number)")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	expr := strings.Join(args[1:], " ")
	if err := c.d.SetCondition(id, expr); err != nil {
		return err
	}
	if expr == "" {
		fmt.Fprintf(c.out, "Breakpoint %d now unconditional.\n", id)
	}
	return nil
}

func (c *Commands) ignore(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: ignore id count")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	n, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid count %q", args[1])
	}
	if err := c.d.SetIgnoreCount(id, uint(n)); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Will ignore next %d crossings of breakpoint %d.\n", n, id)
	return nil
}

func (c *Commands) info(args []string) error {
	if len(args) != 1 || !strings.HasPrefix("breakpoints", args[0]) && args[0] != "watchpoints" {
		return fmt.Errorf("usage: info break")
	}
	l := c.d.Breakpoints()
	if len(l.Entries) == 0 && len(l.Delayed) == 0 {
		fmt.Fprintln(c.out, "No breakpoints or watchpoints.")
		return nil
	}
	for _, e := range l.Entries {
		fmt.Fprintln(c.out, e)
	}
	for _, r := range l.Delayed {
		fmt.Fprintf(c.out, "pending: %s\n", r)
	}
	return nil
}

func (c *Commands) resume(mode xpoint.Mode) func(args []string) error {
	return func(args []string) error {
		count := 0
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid count %q", args[0])
			}
			count = n
		}
		if mode == xpoint.ModeContinue && count > 0 {
			// "continue N" ignores the current breakpoint N-1 more times.
			count--
		}
		st, err := c.d.Resume(mode, count)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, st)
		return nil
	}
}
