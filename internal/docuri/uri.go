// Package docuri names documents independently of the backend serving them.
// The string form is the stable key under which reading positions and
// annotations are persisted.
package docuri

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidURI    = errors.New("invalid document uri")
	ErrUnknownFormat = errors.New("unknown document format")
)

// URI identifies a document: the backend format, the file path, arguments the
// backend needs to open it (password, archive member) and session-only view hints.
type URI struct {
	Format     string
	Path       string
	OpenerArgs map[string]string
	ViewArgs   map[string]string
}

// Resolver maps a filename suffix such as ".fb2.zip" to a format name.
type Resolver interface {
	FormatForSuffix(suffix string) (string, bool)
}

// New returns a URI without arguments.
func New(format, path string) URI {
	return URI{Format: format, Path: path}
}

// FromFilename resolves the format of name by testing its compound suffixes from
// the widest to the narrowest, so "book.fb2.zip" tries ".fb2.zip" before ".zip".
func FromFilename(name string, r Resolver) (URI, error) {
	for _, suffix := range Suffixes(name) {
		if format, ok := r.FormatForSuffix(suffix); ok {
			return New(format, name), nil
		}
	}
	return URI{}, fmt.Errorf("%w: %s", ErrUnknownFormat, filepath.Base(name))
}

// Suffixes lists every dotted suffix of name's base, widest first. A leading
// dot (hidden files) does not start a suffix.
func Suffixes(name string) []string {
	base := strings.ToLower(filepath.Base(name))
	var out []string
	for i := 1; i < len(base); i++ {
		if base[i] == '.' && i < len(base)-1 {
			out = append(out, base[i:])
		}
	}
	return out
}

// String renders format://escaped-path?sorted-opener-args. View arguments are
// never part of the wire form.
func (u URI) String() string {
	var sb strings.Builder
	sb.WriteString(u.Format)
	sb.WriteString("://")
	sb.WriteString((&url.URL{Path: u.Path}).EscapedPath())
	if len(u.OpenerArgs) > 0 {
		q := url.Values{}
		for k, v := range u.OpenerArgs {
			q.Set(k, v)
		}
		sb.WriteByte('?')
		sb.WriteString(q.Encode())
	}
	return sb.String()
}

// Key is the persistence key for this document.
func (u URI) Key() string { return u.String() }

// secretArgs are opener arguments that never appear in logs or error messages.
var secretArgs = []string{"password"}

const redactedValue = "REDACTED"

// Redacted is String with secret opener arguments masked.
func (u URI) Redacted() string {
	for _, k := range secretArgs {
		if _, ok := u.OpenerArgs[k]; ok {
			u = u.WithOpenerArgs(map[string]string{k: redactedValue})
		}
	}
	return u.String()
}

// LogValue keeps secrets out of structured logs.
func (u URI) LogValue() slog.Value { return slog.StringValue(u.Redacted()) }

// Redact masks the secrets of a URI in string form. Input that does not parse
// loses its whole query.
func Redact(s string) string {
	u, err := Parse(s)
	if err != nil {
		base, _, _ := strings.Cut(s, "?")
		return base
	}
	return u.Redacted()
}

// Parse reverses String.
func Parse(s string) (URI, error) {
	// Errors quote only the part before the query, which may hold a password.
	head, rawQuery, _ := strings.Cut(s, "?")
	format, rawPath, ok := strings.Cut(head, "://")
	if !ok || format == "" {
		return URI{}, fmt.Errorf("%w: %q: missing format", ErrInvalidURI, head)
	}
	p, err := url.PathUnescape(rawPath)
	if err != nil {
		return URI{}, fmt.Errorf("%w: %q: %w", ErrInvalidURI, head, err)
	}
	if p == "" {
		return URI{}, fmt.Errorf("%w: %q: empty path", ErrInvalidURI, head)
	}
	u := URI{Format: format, Path: p}
	if rawQuery != "" {
		q, err := url.ParseQuery(rawQuery)
		if err != nil {
			return URI{}, fmt.Errorf("%w: %q: malformed opener arguments", ErrInvalidURI, head)
		}
		u.OpenerArgs = make(map[string]string, len(q))
		for k := range q {
			u.OpenerArgs[k] = q.Get(k)
		}
	}
	return u, nil
}

// Equal compares the persisted identity: format, path and opener arguments.
func (u URI) Equal(o URI) bool {
	return u.EqualWithoutOpenerArgs(o) && maps.Equal(u.OpenerArgs, o.OpenerArgs)
}

// EqualWithoutOpenerArgs reports whether both name the same underlying document,
// however it was opened.
func (u URI) EqualWithoutOpenerArgs(o URI) bool {
	return u.Format == o.Format && u.Path == o.Path
}

// Arg returns an opener argument.
func (u URI) Arg(key string) string { return u.OpenerArgs[key] }

// WithOpenerArgs returns a copy with args merged over the existing opener arguments.
func (u URI) WithOpenerArgs(args map[string]string) URI {
	u.OpenerArgs = merge(u.OpenerArgs, args)
	u.ViewArgs = maps.Clone(u.ViewArgs)
	return u
}

// WithViewArgs returns a copy with args merged over the existing view arguments.
func (u URI) WithViewArgs(args map[string]string) URI {
	u.OpenerArgs = maps.Clone(u.OpenerArgs)
	u.ViewArgs = merge(u.ViewArgs, args)
	return u
}

// CreateCopy derives a URI for a converted or extracted artifact. Empty format or
// path keep the current value; args are merged over the opener arguments.
func (u URI) CreateCopy(format, path string, args map[string]string) URI {
	c := u.WithOpenerArgs(args)
	if format != "" {
		c.Format = format
	}
	if path != "" {
		c.Path = path
	}
	return c
}

// Name is the file name without directories.
func (u URI) Name() string { return filepath.Base(u.Path) }

func merge(base, over map[string]string) map[string]string {
	if len(base) == 0 && len(over) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(over))
	maps.Copy(out, base)
	maps.Copy(out, over)
	return out
}
