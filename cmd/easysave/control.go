package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BadgerOps/easysave/internal/engine"
)

// notRunningWait bounds how long a command typed before the run has set up
// its scheduler is retried.
var notRunningWait = 2 * time.Second

// controller is the part of the orchestrator the control loop drives.
type controller interface {
	Pause(name string) error
	Resume(name string) error
	Stop(name string) error
	PauseAll() error
	ResumeAll() error
	StopAll() error
}

// applyControl executes one control line such as "pause", "resume docs" or
// "stop photos" and returns a short confirmation.
func applyControl(c controller, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	verb := strings.ToLower(fields[0])
	name := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	var err error
	switch verb {
	case "pause", "p":
		if name == "" {
			err = c.PauseAll()
		} else {
			err = c.Pause(name)
		}
	case "resume", "r":
		if name == "" {
			err = c.ResumeAll()
		} else {
			err = c.Resume(name)
		}
	case "stop", "s":
		if name == "" {
			err = c.StopAll()
		} else {
			err = c.Stop(name)
		}
	default:
		return "", fmt.Errorf("unknown command %q (want pause, resume or stop, optionally followed by a job name)", verb)
	}
	if err != nil {
		return "", err
	}

	target := "all jobs"
	if name != "" {
		target = name
	}
	return fmt.Sprintf("%s: %s", verb, target), nil
}

// controlLoop reads commands from r until ctx ends or r is exhausted.
func controlLoop(ctx context.Context, c controller, r io.Reader, out io.Writer) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			msg, err := applyWhenRunning(ctx, c, line)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			if msg != "" {
				fmt.Fprintln(out, msg)
			}
		}
	}
}

// applyWhenRunning retries a command that failed with engine.ErrNotRunning
// until the run starts, ctx ends or notRunningWait passes.
func applyWhenRunning(ctx context.Context, c controller, line string) (string, error) {
	deadline := time.Now().Add(notRunningWait)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		msg, err := applyControl(c, line)
		if !errors.Is(err, engine.ErrNotRunning) || !time.Now().Before(deadline) {
			return msg, err
		}
		select {
		case <-ctx.Done():
			return "", err
		case <-ticker.C:
		}
	}
}
