package pipeline

import (
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/bookcore/internal/document"
)

// Pool runs short background work, such as warming the page cache after
// navigation, with bounded concurrency. Work offered while every slot is busy
// is dropped rather than queued.
type Pool struct {
	g   errgroup.Group
	log *slog.Logger
}

func NewPool(size int, log *slog.Logger) *Pool {
	p := &Pool{log: log}
	p.g.SetLimit(max(size, 1))
	return p
}

// TryGo starts fn if a slot is free and reports whether it did. Errors are
// logged, never propagated.
func (p *Pool) TryGo(name string, fn func() error) bool {
	return p.g.TryGo(func() error {
		if err := fn(); err != nil {
			p.log.Warn("background task failed", "task", name, "error", err)
		}
		return nil
	})
}

// Wait blocks until running work finishes.
func (p *Pool) Wait() {
	p.g.Wait()
}

// Prefetch loads up to ahead pages after page into doc's cache.
func (p *Pool) Prefetch(doc *document.Document, page, ahead int) bool {
	return p.TryGo("prefetch", func() error {
		count, err := doc.PageCount()
		if err != nil {
			return err
		}
		for i := page + 1; i <= page+ahead && i < count; i++ {
			if doc.Cached(i) {
				continue
			}
			if _, err := doc.Page(i); err != nil {
				return err
			}
		}
		return nil
	})
}
