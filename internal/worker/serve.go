package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Serve is the child side of Process: it reads the task arguments from the
// first line of stdin, runs the task and writes messages to stdout. The task
// is cancelled when stdin reaches EOF or a write to stdout fails.
func Serve(ctx context.Context, tasks Tasks, name string, stdin io.Reader, stdout io.Writer) error {
	e := &writerEmitter{enc: json.NewEncoder(stdout)}

	task, ok := tasks[name]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownTask, name)
		e.write(Message{Kind: KindFailed, Error: &RemoteError{Message: err.Error()}})
		return err
	}

	br := bufio.NewReaderSize(stdin, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		err = fmt.Errorf("read task args: %w", err)
		e.write(Message{Kind: KindFailed, Error: &RemoteError{Message: err.Error()}})
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.ctx, e.cancel = ctx, cancel
	go func() {
		io.Copy(io.Discard, br)
		cancel()
	}()

	term := run(ctx, task, json.RawMessage(line), e)
	if err := e.write(term); err != nil {
		return err
	}
	return term.Err()
}

type writerEmitter struct {
	mu     sync.Mutex
	enc    *json.Encoder
	ctx    context.Context
	cancel context.CancelFunc
}

func (e *writerEmitter) Value(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	return e.send(Message{Kind: KindValue, Value: raw})
}

func (e *writerEmitter) Debugf(format string, args ...any) {
	e.send(Message{Kind: KindDebug, Line: fmt.Sprintf(format, args...)})
}

func (e *writerEmitter) send(m Message) error {
	if e.ctx.Err() != nil {
		return ErrConsumerGone
	}
	if err := e.write(m); err != nil {
		e.cancel()
		return fmt.Errorf("%w: %v", ErrConsumerGone, err)
	}
	return nil
}

func (e *writerEmitter) write(m Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(m)
}
