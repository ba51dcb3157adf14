//  Copyright 2024 Google LLC
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package run is a package with utilities for running the name service lookup
// tools and handling their results.
package run

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/GoogleCloudPlatform/galog"
)

var (
	// Client is the Runner running commands.
	Client RunnerInterface
)

// RunnerInterface defines the runner running commands.
type RunnerInterface interface {
	WithContext(ctx context.Context, opts Options) (*Result, error)
}

// StreamOutput represents the output channels streaming command result.
// Executor takes care of closing all channels after all writes are completed.
// Caller must not try to close channel and should only read from these receive
// only channels.
type StreamOutput struct {
	// StdOut is the channel for stdout lines of a command. It must be read until
	// it's closed, see Drain.
	StdOut <-chan string
	// Result is the final output of a command. It is same as what cmd.Wait()
	// finally returns, merged with the command's stderr output. It's only
	// written after StdOut is closed.
	Result <-chan error
}

// Drain discards the remaining stdout lines and returns the command's result.
// It's meant to be used by callers stopping the consumption early, usually
// after canceling the command's context.
func (so *StreamOutput) Drain() error {
	for range so.StdOut {
	}
	return <-so.Result
}

// Result represents the result of running commands.
type Result struct {
	// OutputType is the output type requested/configured with [Options].
	OutputType OutputType
	// Output is the stdout output of the command. It's set only if the
	// [Options] OutputType is OutputStdout.
	Output string
	// OutputScanners is the scanner for the output of the command. This is set
	// only if the [Options] OutputType is OutputStream.
	OutputScanners *StreamOutput
}

// Options represents the command options.
type Options struct {
	// OutputType is the output type requested/configured.
	OutputType OutputType
	// Name is the command name.
	Name string
	// Args is the command arguments.
	Args []string
	// Timeout is the timeout of the command. If it's not set (or set to 0) no
	// timeout will be set/assumed.
	Timeout time.Duration
}

// OutputType represents the output type of the command.
type OutputType int

// Runner implements the RunnerInterface and represents the runner running
// commands.
type Runner struct{}

const (
	// OutputStdout is the output enum for stdout output. The process' stderr is
	// still piped and buffered and is used in case of error (reported in the
	// returned error).
	OutputStdout OutputType = iota
	// OutputStream is the output enum for streaming stdout line by line.
	OutputStream
)

// init initializes the RunClient.
func init() {
	Client = Runner{}
}

// WithContext runs the command with the given [Options].
func WithContext(ctx context.Context, opts Options) (*Result, error) {
	return Client.WithContext(ctx, opts)
}

// WithContext runs the command with the given [Options].
func (rr Runner) WithContext(ctx context.Context, opts Options) (*Result, error) {
	mainContext := ctx
	cancel := context.CancelFunc(func() {})
	if opts.Timeout != 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}

	timeoutErr := func(err error) error {
		if err != nil && mainContext.Err() == nil && ctx.Err() != nil {
			return &TimeoutError{err: err}
		}
		return err
	}

	if opts.OutputType == OutputStream {
		// The command outlives this call, the timeout context is released when
		// the command completes.
		return streamOutput(ctx, opts, cancel, timeoutErr)
	}

	defer cancel()
	res, err := splitOutput(ctx, opts)
	return res, timeoutErr(err)
}

// streamOutput starts the command and streams its stdout lines on the
// channel, the result is reported once the stdout is fully consumed and the
// process exited.
func streamOutput(ctx context.Context, opts Options, cancel context.CancelFunc, wrapErr func(error) error) (*Result, error) {
	galog.V(2).Debugf("Streaming command: %+v", opts)
	cmd := exec.CommandContext(ctx, opts.Name, opts.Args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("unable to obtain pipe to stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}

	outChan := make(chan string)
	doneChan := make(chan error, 1)

	// readErr is only accessed after wg.Wait.
	var readErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(outChan)
		// Lines are not length bounded, a single group entry may be megabytes
		// long.
		reader := bufio.NewReader(stdout)
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				outChan <- strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
			}
			if err == nil {
				continue
			}
			if !errors.Is(err, io.EOF) {
				readErr = err
				// Unblock the command, it must be able to exit.
				io.Copy(io.Discard, stdout)
			}
			return
		}
	}()

	go func() {
		defer close(doneChan)
		defer cancel()
		// Wait closes the stdout pipe, all reads must be completed before.
		wg.Wait()
		err := cmd.Wait()
		if err == nil && readErr != nil {
			err = fmt.Errorf("failed to read stdout: %w", readErr)
		}
		doneChan <- wrapErr(errorWithOutput(err, stderr.String()))
	}()

	output := &StreamOutput{StdOut: outChan, Result: doneChan}
	return &Result{OutputType: OutputStream, OutputScanners: output}, nil
}

// splitOutput runs the requested command and reads its stdout. In case of
// error the stderr output is merged with the error, in case of success the
// stdout output is set to [Result]'s Output field.
func splitOutput(ctx context.Context, opts Options) (*Result, error) {
	galog.V(2).Debugf("Running command: %+v", opts)

	cmd := exec.CommandContext(ctx, opts.Name, opts.Args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, errorWithOutput(err, stderr.String())
	}

	return &Result{OutputType: opts.OutputType, Output: stdout.String()}, nil
}

// TimeoutError is the error type returned when a command execution times out.
type TimeoutError struct {
	err error
}

// Error returns the error message.
func (e *TimeoutError) Error() string {
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *TimeoutError) Unwrap() error {
	return e.err
}

// AsTimeoutError returns a TimeoutError if the error is a TimeoutError.
func AsTimeoutError(err error) (*TimeoutError, bool) {
	var ee *TimeoutError

	if err == nil {
		return nil, false
	}

	if errors.As(err, &ee) {
		return ee, true
	}

	return nil, false
}

// errorWithOutput merges an error with a command's output.
func errorWithOutput(err error, output string) error {
	if err == nil || output == "" {
		return err
	}
	return fmt.Errorf("%w; %s", err, output)
}

// AsExitError returns an ExitError if the error is an ExitError.
func AsExitError(err error) (*exec.ExitError, bool) {
	var ee *exec.ExitError

	if err == nil {
		return nil, false
	}

	if errors.As(err, &ee) {
		return ee, true
	}

	return nil, false
}
