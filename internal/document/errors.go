package document

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgallion1/bookcore/internal/docuri"
	"github.com/dgallion1/bookcore/internal/doctree"
)

// Kind is a user-visible failure category. Each kind calls for a different remedy
// (enter a password, pick another file, report a bug).
type Kind string

const (
	KindIO                       Kind = "io"
	KindEncrypted                Kind = "encrypted"
	KindRestricted               Kind = "restricted"
	KindUnsupportedFormat        Kind = "unsupported_format"
	KindPagination               Kind = "pagination"
	KindArchiveMultipleDocuments Kind = "archive_multiple_documents"
	KindArchiveNoDocuments       Kind = "archive_no_documents"
	KindInvalidRange             Kind = "invalid_range"
	KindNotSupported             Kind = "not_supported"
	KindClosed                   Kind = "closed"
	KindRedirectLimit            Kind = "redirect_limit"
)

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrDocumentIO               = &Error{Kind: KindIO}
	ErrEncrypted                = &Error{Kind: KindEncrypted}
	ErrRestricted               = &Error{Kind: KindRestricted}
	ErrUnsupportedFormat        = &Error{Kind: KindUnsupportedFormat}
	ErrPagination               = &Error{Kind: KindPagination}
	ErrArchiveMultipleDocuments = &Error{Kind: KindArchiveMultipleDocuments}
	ErrArchiveNoDocuments       = &Error{Kind: KindArchiveNoDocuments}
	ErrInvalidRange             = &Error{Kind: KindInvalidRange}
	ErrNotSupported             = &Error{Kind: KindNotSupported}
	ErrClosed                   = &Error{Kind: KindClosed}
	ErrRedirectLimit            = &Error{Kind: KindRedirectLimit}
)

// Error is the only error type that crosses the Document boundary.
type Error struct {
	Kind Kind
	Op   string
	URI  string
	Err  error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(" ")
	}
	if e.URI != "" {
		sb.WriteString(e.URI)
		sb.WriteString(": ")
	} else if e.Op != "" {
		sb.WriteString(": ")
	}
	sb.WriteString(string(e.Kind))
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches bare sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.URI != "" || t.Err != nil {
		return false
	}
	return e.Kind == t.Kind
}

// Errorf builds an *Error of the given kind. Backends use it to pick the category
// themselves; anything else they return is reported as KindIO.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// MultipleDocumentsError lists the candidate members of an ambiguous archive.
type MultipleDocumentsError struct {
	Members []string
}

func (e *MultipleDocumentsError) Error() string {
	return fmt.Sprintf("archive contains %d documents: %s", len(e.Members), strings.Join(e.Members, ", "))
}

// KindOf returns the category of err, or "" when err carries none.
func KindOf(err error) Kind {
	var de *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &de):
		return de.Kind
	case errors.Is(err, doctree.ErrInvalidRange):
		return KindInvalidRange
	case errors.Is(err, docuri.ErrUnknownFormat):
		return KindUnsupportedFormat
	}
	return ""
}

// wrap converts a backend failure into the taxonomy. Context cancellation passes
// through untouched.
func wrap(op string, uri docuri.URI, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if de, ok := err.(*Error); ok {
		out := *de
		if out.Op == "" {
			out.Op = op
		}
		if out.URI == "" {
			out.URI = uri.Redacted()
		}
		return &out
	}
	kind := KindOf(err)
	if kind == "" {
		kind = KindIO
	}
	return &Error{Kind: kind, Op: op, URI: uri.Redacted(), Err: err}
}
