package dap

type errorCode int

const (
	processingErr errorCode = iota
	parseErr
	launchErr
	setBreakpointsErr
)

func (e errorCode) String() string {
	return []string{"Processing error", "Parse error", "Failed to launch", "Failed to set breakpoints"}[e]
}
