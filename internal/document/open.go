package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgallion1/bookcore/internal/docuri"
)

// Outcome is the result class of a single open attempt.
type Outcome int

const (
	Opened Outcome = iota
	Redirected
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Opened:
		return "opened"
	case Redirected:
		return "redirected"
	}
	return "failed"
}

// Attempt is what one try at opening a URI produced.
type Attempt struct {
	Outcome  Outcome
	Document *Document
	Redirect *Redirect
	Err      error
}

// Handle is a Ready document plus how it was reached.
type Handle struct {
	*Document
	// Requested is the URI the user opened.
	Requested docuri.URI
	// Fallback is set when the served URI differs from the requested one.
	Fallback *docuri.URI
	// Chain lists the redirects followed, in order.
	Chain []Redirect
}

// PositionKey is the key reading positions and annotations are stored under:
// always the originally requested URI, never an intermediate artifact.
func (h *Handle) PositionKey() string { return h.Requested.Key() }

// Try makes a single attempt at opening uri.
func Try(ctx context.Context, reg *Registry, uri docuri.URI, opts Options) Attempt {
	desc, ok := reg.Lookup(uri.Format)
	if !ok {
		return Attempt{Outcome: Failed, Err: wrap("open", uri, Errorf(KindUnsupportedFormat, "no backend for format %q", uri.Format))}
	}
	doc := New(desc, uri, reg, opts)
	redirect, err := doc.Read(ctx)
	switch {
	case err != nil:
		return Attempt{Outcome: Failed, Err: err}
	case redirect != nil:
		return Attempt{Outcome: Redirected, Redirect: redirect}
	}
	return Attempt{Outcome: Opened, Document: doc}
}

// Open resolves uri through the registry and reads it, following redirects up
// to opts.MaxRedirects times.
func Open(ctx context.Context, reg *Registry, uri docuri.URI, opts Options) (*Handle, error) {
	opts = opts.withDefaults()
	log := opts.Logger.With("requested", uri)

	cur := uri
	var chain []Redirect
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a := Try(ctx, reg, cur, opts)
		switch a.Outcome {
		case Opened:
			h := &Handle{Document: a.Document, Requested: uri, Chain: chain}
			if len(chain) > 0 {
				fb := uri
				h.Fallback = &fb
			}
			log.Debug("document opened", "served", cur, "redirects", len(chain))
			return h, nil
		case Failed:
			return nil, a.Err
		}

		if len(chain) >= opts.MaxRedirects {
			return nil, wrap("open", uri, &Error{
				Kind: KindRedirectLimit,
				Err:  fmt.Errorf("gave up after %d redirects, last to %s", len(chain), a.Redirect.URI.Redacted()),
			})
		}
		chain = append(chain, *a.Redirect)
		cur = a.Redirect.URI
	}
}

// OpenFile resolves the format of path from its suffixes and opens it.
func OpenFile(ctx context.Context, reg *Registry, path string, opts Options) (*Handle, error) {
	uri, err := docuri.FromFilename(path, reg)
	if err != nil {
		if errors.Is(err, docuri.ErrUnknownFormat) {
			return nil, &Error{Kind: KindUnsupportedFormat, Op: "open", URI: path, Err: err}
		}
		return nil, err
	}
	return Open(ctx, reg, uri, opts)
}

// Opener opens a document by URI. Worker tasks take one so each opens its own
// instance.
type Opener func(ctx context.Context, uri docuri.URI) (*Handle, error)

// NewOpener binds reg and opts into an Opener.
func NewOpener(reg *Registry, opts Options) Opener {
	return func(ctx context.Context, uri docuri.URI) (*Handle, error) {
		return Open(ctx, reg, uri, opts)
	}
}
