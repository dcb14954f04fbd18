package supervisor

import "github.com/appforge/runnerd/internal/failure"

// Stream tags a log line with its source descriptor.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// LogEvent carries one line of child output.
type LogEvent struct {
	ProjectID string
	Stream    Stream
	Line      string
}

// ExitEvent is emitted once per record when the process has been reaped.
type ExitEvent struct {
	ProjectID     string
	Code          int
	Signal        string
	State         State
	FailureReason failure.Reason
	Stderr        string
}

// ErrorEvent is emitted when the process could not be created at all.
type ErrorEvent struct {
	ProjectID string
	Err       error
}

// Hooks are optional observer callbacks for the three event kinds. Callbacks
// run on supervisor goroutines and must not block.
type Hooks struct {
	OnLog   func(LogEvent)
	OnExit  func(ExitEvent)
	OnError func(ErrorEvent)
}

func (h Hooks) emitLog(e LogEvent) {
	if h.OnLog != nil {
		h.OnLog(e)
	}
}

func (h Hooks) emitExit(e ExitEvent) {
	if h.OnExit != nil {
		h.OnExit(e)
	}
}

func (h Hooks) emitError(e ErrorEvent) {
	if h.OnError != nil {
		h.OnError(e)
	}
}
