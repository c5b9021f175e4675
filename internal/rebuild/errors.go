package rebuild

import (
	"fmt"
)

// StartupError reports a condition that prevents the watch loop from starting,
// such as a missing source directory or an invalid rule.
type StartupError struct {
	Rule string // Rule label, empty when the error is not tied to one rule
	Dir  string // Directory that could not be watched
	Err  error
}

func (e *StartupError) Error() string {
	switch {
	case e.Dir != "":
		return fmt.Sprintf("rule %s: cannot watch %s: %v", e.Rule, e.Dir, e.Err)
	case e.Rule != "":
		return fmt.Sprintf("rule %s: %v", e.Rule, e.Err)
	default:
		return fmt.Sprintf("startup: %v", e.Err)
	}
}

func (e *StartupError) Unwrap() error { return e.Err }

// SubprocessError reports a compiler that could not be started or exited
// with a non-zero status. Its output, if any, has already been relayed.
type SubprocessError struct {
	Command  string
	ExitCode int // -1 when the process never ran
	Err      error
}

func (e *SubprocessError) Error() string {
	if e.ExitCode > 0 {
		return fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *SubprocessError) Unwrap() error { return e.Err }

// MalformedPathError reports a path that cannot be mapped to an output file.
type MalformedPathError struct {
	Path   string
	Reason string
}

func (e *MalformedPathError) Error() string {
	return fmt.Sprintf("cannot map %s to an output path: %s", e.Path, e.Reason)
}
