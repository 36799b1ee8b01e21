package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

const (
	maxLine   = 64 << 20
	killGrace = 5 * time.Second
)

// Process runs each task in a child process: "<Path> <Args...> <task>". The
// task arguments are written to the child's stdin as one JSON line and the
// child answers with one JSON message per line on stdout. Closing stdin is the
// cancellation signal.
type Process struct {
	// Path defaults to the running executable.
	Path string
	// Args precede the task name; they default to "worker".
	Args   []string
	Env    []string
	Logger *slog.Logger
}

func (p *Process) Start(ctx context.Context, name string, args any) (Stream, error) {
	raw, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	path := p.Path
	if path == "" {
		if path, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("locate worker executable: %w", err)
		}
	}
	argv := p.Args
	if argv == nil {
		argv = []string{"worker"}
	}
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}

	cmd := exec.Command(path, append(append([]string{}, argv...), name)...)
	cmd.Env = p.Env
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	if _, err := stdin.Write(append(bytes.TrimSpace(raw), '\n')); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, fmt.Errorf("send task args: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	s := &processStream{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		scanner: scanner,
		log:     log.With("task", name, "pid", cmd.Process.Pid),
		stop:    make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			s.closeStdin()
		case <-s.stop:
		}
	}()
	return s, nil
}

type processStream struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	scanner *bufio.Scanner
	log     *slog.Logger

	stop      chan struct{}
	stdinOnce sync.Once
	closeOnce sync.Once
	waitOnce  sync.Once
	waitErr   error
	ended     bool
}

// Next skips stdout lines that are not messages. When the child's output ends
// before a terminal message, a single ErrWorkerCrashed error stands in for it.
func (s *processStream) Next() (Message, error) {
	if s.ended {
		return Message{}, io.EOF
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			if len(line) > 0 {
				s.log.Debug("stray worker output", "line", string(line))
			}
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			s.log.Debug("undecodable worker output", "error", err)
			continue
		}
		if m.Terminal() {
			s.ended = true
		}
		return m, nil
	}
	s.ended = true
	err := s.scanner.Err()
	if werr := s.wait(); err == nil {
		err = werr
	}
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrWorkerCrashed, err)
	}
	return Message{}, ErrWorkerCrashed
}

func (s *processStream) closeStdin() {
	s.stdinOnce.Do(func() { s.stdin.Close() })
}

func (s *processStream) wait() error {
	s.waitOnce.Do(func() { s.waitErr = s.cmd.Wait() })
	return s.waitErr
}

// Close signals cancellation through stdin, stops reading and reaps the child,
// killing it if it lingers.
func (s *processStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.closeStdin()
		s.stdout.Close()

		done := make(chan struct{})
		go func() {
			s.wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(killGrace):
			s.log.Warn("worker ignored cancellation, killing")
			s.cmd.Process.Kill()
			<-done
		}
	})
	var exit *exec.ExitError
	if s.waitErr != nil && !errors.As(s.waitErr, &exit) {
		return s.waitErr
	}
	return nil
}
