// SPDX-License-Identifier: GPL-2.0-or-later

package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Process interface only used for testing.
type Process interface {
	Start(ctx context.Context) error
}

// process manages subprocesses.
type process struct {
	timeout time.Duration
	cmd     *exec.Cmd

	prefix       string
	stderrLogger func(string)

	done chan struct{}
}

// NewProcessFunc is used for mocking.
type NewProcessFunc func(cmd *exec.Cmd, stderrLogger func(string)) Process

// NewProcess return process.
func NewProcess(cmd *exec.Cmd) process {
	return process{
		timeout: 1000 * time.Millisecond,
		cmd:     cmd,
	}
}

// Timeout sets how long to wait after the interrupt signal before killing.
func (p process) Timeout(timeout time.Duration) process {
	p.timeout = timeout
	return p
}

// Prefix is prepended to every logged line.
func (p process) Prefix(prefix string) process {
	p.prefix = prefix
	return p
}

// StderrLogger logs every line of stderr.
func (p process) StderrLogger(l func(string)) process {
	p.stderrLogger = l
	return p
}

func (p *process) attachLogger(
	wg *sync.WaitGroup,
	logFunc func(string),
	label string,
	stdPipe func() (io.ReadCloser, error),
) error {
	pipe, err := stdPipe()
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(pipe)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for scanner.Scan() {
			logFunc(fmt.Sprintf("%v%v: %v", p.prefix, label, scanner.Text()))
		}
	}()
	return nil
}

// Start starts process with context and blocks until it exits.
func (p process) Start(ctx context.Context) error {
	loggers := &sync.WaitGroup{}
	if p.stderrLogger != nil {
		if err := p.attachLogger(loggers, p.stderrLogger, "stderr", p.cmd.StderrPipe); err != nil {
			return err
		}
	}

	if err := p.cmd.Start(); err != nil {
		return err
	}

	p.done = make(chan struct{})

	go func() {
		select {
		case <-p.done:
		case <-ctx.Done():
			p.stop()
		}
	}()

	// Pipes must be drained before Wait closes them.
	loggers.Wait()
	err := p.cmd.Wait()
	close(p.done)

	// FFmpeg seems to return 255 on normal exit.
	if err != nil && err.Error() == "exit status 255" {
		return nil
	}

	return err
}

// Note, can't use CommandContext to stop process as it would
// kill the process before it has a chance to exit on its own.
func (p *process) stop() {
	p.cmd.Process.Signal(os.Interrupt) //nolint:errcheck

	select {
	case <-p.done:
	case <-time.After(p.timeout):
		p.cmd.Process.Signal(os.Kill) //nolint:errcheck
		<-p.done
	}
}

// Piper runs a single ffmpeg invocation with in-memory input and output.
type Piper interface {
	// Available returns an error if the binary cannot be executed.
	Available() error
	Pipe(ctx context.Context, stdin []byte, args ...string) ([]byte, error)
}

// FFMPEG stores ffmpeg binary location.
type FFMPEG struct {
	bin        string
	command    func(...string) *exec.Cmd
	newProcess NewProcessFunc
}

// New returns FFMPEG.
func New(bin string) *FFMPEG {
	command := func(args ...string) *exec.Cmd {
		return exec.Command(bin, args...)
	}
	return &FFMPEG{bin: bin, command: command, newProcess: newPipeProcess}
}

// NewWithCommand returns FFMPEG that creates its processes with command.
func NewWithCommand(command func(...string) *exec.Cmd) *FFMPEG {
	return &FFMPEG{command: command, newProcess: newPipeProcess}
}

// Grace period between the interrupt and kill signals of a piped process.
const pipeKillTimeout = 500 * time.Millisecond

func newPipeProcess(cmd *exec.Cmd, stderrLogger func(string)) Process {
	return NewProcess(cmd).
		Timeout(pipeKillTimeout).
		Prefix("ffmpeg ").
		StderrLogger(stderrLogger)
}

// ErrNotFound ffmpeg binary not found.
var ErrNotFound = errors.New("ffmpeg binary not found")

// Available implements Piper.
func (f *FFMPEG) Available() error {
	if f.bin == "" {
		return nil
	}
	if _, err := exec.LookPath(f.bin); err != nil {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return nil
}

// ErrProcess process exited with an error.
var ErrProcess = errors.New("ffmpeg process failed")

// Pipe writes stdin to the process and returns everything it wrote to stdout.
func (f *FFMPEG) Pipe(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	cmd := f.command(args...)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	var stderr []string
	p := f.newProcess(cmd, func(line string) {
		stderr = append(stderr, line)
	})

	err := p.Start(ctx)
	// FFmpeg exits with 255 when interrupted, stdout is incomplete.
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcess, ctx.Err())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrProcess, err, strings.Join(stderr, "; "))
	}
	return stdout.Bytes(), nil
}

// ParseArgs slices arguments.
func ParseArgs(args string) []string {
	return strings.Fields(args)
}
