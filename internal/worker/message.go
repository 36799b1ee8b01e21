// Package worker runs long tasks away from the caller and streams their output
// back as messages. Every stream ends with exactly one terminal message:
// completed, failed or cancelled.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"runtime/debug"

	"github.com/dgallion1/bookcore/internal/document"
)

var (
	ErrWorkerCrashed = errors.New("worker exited without a terminal message")
	ErrCancelled     = errors.New("worker task cancelled")
	ErrConsumerGone  = errors.New("worker consumer went away")
	ErrUnknownTask   = errors.New("unknown worker task")
)

// Kind tags a message.
type Kind string

const (
	KindValue     Kind = "value"
	KindDebug     Kind = "debug"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
	KindCancelled Kind = "cancelled"
)

// Message is one line of the channel.
type Message struct {
	Kind  Kind            `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
	Line  string          `json:"line,omitempty"`
	Error *RemoteError    `json:"error,omitempty"`
}

// Terminal reports whether m ends the stream.
func (m Message) Terminal() bool {
	switch m.Kind {
	case KindCompleted, KindFailed, KindCancelled:
		return true
	}
	return false
}

// RemoteError is a task failure carried back to the caller. Kind preserves the
// document error category so errors.Is(err, document.ErrEncrypted) still holds
// on the caller's side.
type RemoteError struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("worker: %s: %s", e.Kind, e.Message)
	}
	return "worker: " + e.Message
}

func (e *RemoteError) Unwrap() error {
	if e.Kind == "" {
		return nil
	}
	return &document.Error{Kind: document.Kind(e.Kind), Err: errors.New(e.Message)}
}

// Emitter is how a task sends output. Value fails once the consumer is gone, and
// the task is expected to return promptly when it does.
type Emitter interface {
	Value(v any) error
	Debugf(format string, args ...any)
}

// Task is the unit of work a runner executes.
type Task func(ctx context.Context, args json.RawMessage, emit Emitter) error

// Tasks maps task names to implementations.
type Tasks map[string]Task

// Stream is the caller's end of a running task. Next returns messages in order,
// the terminal one last, then io.EOF. Close abandons the task.
type Stream interface {
	Next() (Message, error)
	Close() error
}

// Runner starts tasks by name.
type Runner interface {
	Start(ctx context.Context, name string, args any) (Stream, error)
}

// run executes task and converts its outcome, panics included, into the
// terminal message.
func run(ctx context.Context, task Task, args json.RawMessage, emit Emitter) (term Message) {
	defer func() {
		if r := recover(); r != nil {
			term = Message{Kind: KindFailed, Error: &RemoteError{
				Message: fmt.Sprintf("panic: %v", r),
				Stack:   string(debug.Stack()),
			}}
		}
	}()
	return terminal(ctx, task(ctx, args, emit))
}

func terminal(ctx context.Context, err error) Message {
	switch {
	case err == nil:
		return Message{Kind: KindCompleted}
	case errors.Is(err, context.Canceled), errors.Is(err, ErrConsumerGone), ctx.Err() != nil:
		return Message{Kind: KindCancelled}
	}
	return Message{Kind: KindFailed, Error: &RemoteError{
		Message: err.Error(),
		Kind:    string(document.KindOf(err)),
	}}
}

// Err converts a terminal message into the error the caller sees.
func (m Message) Err() error {
	switch m.Kind {
	case KindFailed:
		if m.Error == nil {
			return &RemoteError{Message: "task failed"}
		}
		return m.Error
	case KindCancelled:
		return ErrCancelled
	}
	return nil
}

// Values yields the value payloads of s in order. The final pair carries the
// task's error, if any. The stream is closed when iteration stops.
func Values(s Stream) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		defer s.Close()
		for {
			m, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			switch {
			case m.Kind == KindValue:
				if !yield(m.Value, nil) {
					return
				}
			case m.Terminal():
				if err := m.Err(); err != nil {
					yield(nil, err)
				}
				return
			}
		}
	}
}

// Drain feeds every value to fn until the stream ends. It returns the task's
// error, or fn's first error after closing the stream.
func Drain(s Stream, fn func(json.RawMessage) error) error {
	for v, err := range Values(s) {
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func encodeArgs(args any) (json.RawMessage, error) {
	if raw, ok := args.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode task args: %w", err)
	}
	return raw, nil
}
