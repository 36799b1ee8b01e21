package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Local runs tasks on a goroutine in this process. It suits backends that are
// safe to use concurrently and tests.
type Local struct {
	Tasks Tasks
	// Buffer is how many messages may be produced ahead of the reader.
	Buffer int
}

func (l *Local) Start(ctx context.Context, name string, args any) (Stream, error) {
	task, ok := l.Tasks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	raw, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	buf := l.Buffer
	if buf <= 0 {
		buf = 4
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &localStream{
		ch:     make(chan Message, buf),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer close(s.done)
		defer close(s.ch)
		term := run(ctx, task, raw, &chanEmitter{ctx: ctx, s: s})
		select {
		case s.ch <- term:
		case <-s.closed:
		}
	}()
	return s, nil
}

type localStream struct {
	ch     chan Message
	closed chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	ended  bool
}

func (s *localStream) Next() (Message, error) {
	if s.ended {
		return Message{}, io.EOF
	}
	m, ok := <-s.ch
	if !ok {
		s.ended = true
		return Message{}, io.EOF
	}
	if m.Terminal() {
		s.ended = true
	}
	return m, nil
}

// Close cancels the task and waits for its goroutine to finish.
func (s *localStream) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.cancel()
	})
	<-s.done
	return nil
}

type chanEmitter struct {
	ctx context.Context
	s   *localStream
}

func (e *chanEmitter) Value(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	return e.send(Message{Kind: KindValue, Value: raw})
}

func (e *chanEmitter) Debugf(format string, args ...any) {
	e.send(Message{Kind: KindDebug, Line: fmt.Sprintf(format, args...)})
}

func (e *chanEmitter) send(m Message) error {
	if e.ctx.Err() != nil {
		return ErrConsumerGone
	}
	select {
	case e.s.ch <- m:
		return nil
	case <-e.ctx.Done():
		return ErrConsumerGone
	}
}
