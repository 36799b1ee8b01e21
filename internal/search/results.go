package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/dgallion1/bookcore/internal/worker"
)

// Results pulls matches from a running search, in page then position order.
// It is not safe for concurrent use.
type Results struct {
	stream  worker.Stream
	pending []Result
	skipped []PageResult
	scanned int
	done    bool
}

// Search starts req on runner. Every call scans afresh.
func Search(ctx context.Context, runner worker.Runner, req Request) (*Results, error) {
	if _, err := Compile(req.Query); err != nil {
		return nil, err
	}
	if req.Pages != nil && req.Range != nil {
		return nil, ErrPagesAndRange
	}
	s, err := runner.Start(ctx, TaskName, req)
	if err != nil {
		return nil, fmt.Errorf("start search: %w", err)
	}
	return &Results{stream: s}, nil
}

// Next returns the next match, or io.EOF when the scan is finished. A failed
// or crashed worker ends the results with its error.
func (r *Results) Next() (Result, error) {
	for len(r.pending) == 0 {
		if r.done {
			return Result{}, io.EOF
		}
		m, err := r.stream.Next()
		if errors.Is(err, io.EOF) {
			r.done = true
			return Result{}, io.EOF
		}
		if err != nil {
			r.done = true
			return Result{}, err
		}
		switch {
		case m.Kind == worker.KindValue:
			var pr PageResult
			if err := json.Unmarshal(m.Value, &pr); err != nil {
				return Result{}, fmt.Errorf("decode page result: %w", err)
			}
			r.scanned++
			if pr.Skipped {
				r.skipped = append(r.skipped, pr)
				continue
			}
			r.pending = pr.Matches
		case m.Terminal():
			r.done = true
			if err := m.Err(); err != nil {
				return Result{}, err
			}
		}
	}
	res := r.pending[0]
	r.pending = r.pending[1:]
	return res, nil
}

// All iterates the remaining matches and closes the search when done.
func (r *Results) All() iter.Seq2[Result, error] {
	return func(yield func(Result, error) bool) {
		defer r.Close()
		for {
			res, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(res, err) || err != nil {
				return
			}
		}
	}
}

// Skipped lists the pages that could not be searched so far.
func (r *Results) Skipped() []PageResult { return r.skipped }

// Scanned counts the pages reported so far, skipped ones included.
func (r *Results) Scanned() int { return r.scanned }

// Close cancels the search. The worker stops producing promptly.
func (r *Results) Close() error {
	r.done = true
	return r.stream.Close()
}
