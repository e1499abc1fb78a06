package engine

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by a run.
type Kind int

const (
	// KindConfiguration: the job could not start (bad index, source or target).
	KindConfiguration Kind = iota + 1
	// KindIO: reading or writing a file failed.
	KindIO
	// KindEncryption: the content cipher failed on a file.
	KindEncryption
	// KindNetwork: the remote log sink could not be reached.
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindIO:
		return "io"
	case KindEncryption:
		return "encryption"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// ErrUnknownJob is returned by control calls naming a job that is not tracked.
var ErrUnknownJob = errors.New("unknown job")

// Error carries the failure kind together with the job and file it hit.
type Error struct {
	Kind Kind
	Job  string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Path != "":
		return fmt.Sprintf("%s error in job %q on %s: %v", e.Kind, e.Job, e.Path, e.Err)
	case e.Job != "":
		return fmt.Sprintf("%s error in job %q: %v", e.Kind, e.Job, e.Err)
	default:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
