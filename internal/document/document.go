package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dgallion1/bookcore/internal/docuri"
	"github.com/dgallion1/bookcore/internal/doctree"
	"github.com/dgallion1/bookcore/internal/structtext"
	lru "github.com/hashicorp/golang-lru/v2"
)

// State is the lifecycle position of a Document.
type State int

const (
	StateUnread State = iota
	StateReading
	StateReady
	StateRedirecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnread:
		return "unread"
	case StateReading:
		return "reading"
	case StateReady:
		return "ready"
	case StateRedirecting:
		return "redirecting"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options tune how documents are opened.
type Options struct {
	PageCacheSize int
	LanguageHint  string
	CacheDir      string
	Mode          ReadingMode
	MaxRedirects  int
	Logger        *slog.Logger
}

const (
	DefaultPageCacheSize = 300
	DefaultMaxRedirects  = 8
	DefaultLanguageHint  = "en"
)

func (o Options) withDefaults() Options {
	if o.PageCacheSize <= 0 {
		o.PageCacheSize = DefaultPageCacheSize
	}
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = DefaultMaxRedirects
	}
	if o.LanguageHint == "" {
		o.LanguageHint = DefaultLanguageHint
	}
	if o.Mode == "" {
		o.Mode = ModeDefault
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Document wraps a Backend with the lifecycle, caching and error policy every
// caller relies on. Concurrent readers are safe; the page cache and lazily
// computed values are guarded by one mutex.
type Document struct {
	uri      docuri.URI
	desc     *Descriptor
	resolver docuri.Resolver
	opts     Options
	log      *slog.Logger

	mu      sync.Mutex
	state   State
	mode    ReadingMode
	backend Backend
	pages   *lru.Cache[int, Page]

	toc     *doctree.Tree
	tocErr  error
	tocDone bool
	meta    *Metadata
	lang    string
}

// New wraps a fresh backend instance from desc for uri. The document is Unread.
func New(desc *Descriptor, uri docuri.URI, resolver docuri.Resolver, opts Options) *Document {
	opts = opts.withDefaults()
	pages, err := lru.New[int, Page](opts.PageCacheSize)
	if err != nil {
		// Only a non-positive size fails, and withDefaults rules that out.
		panic(err)
	}
	return &Document{
		uri:      uri,
		desc:     desc,
		resolver: resolver,
		opts:     opts,
		log:      opts.Logger.With("uri", uri, "format", desc.Format),
		mode:     opts.Mode,
		backend:  desc.New(),
		pages:    pages,
	}
}

func (d *Document) URI() docuri.URI { return d.uri }

func (d *Document) Format() string { return d.desc.Format }

func (d *Document) Capabilities() Capability { return d.desc.Capabilities }

func (d *Document) Backend() Backend {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backend
}

func (d *Document) ReadingMode() ReadingMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

func (d *Document) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Document) request(mode ReadingMode) ReadRequest {
	return ReadRequest{
		URI:      d.uri,
		Mode:     mode,
		CacheDir: d.opts.CacheDir,
		Resolver: d.resolver,
		Logger:   d.log,
	}
}

// Read parses the document. It may only be called once. A non-nil Redirect means
// the caller must open Redirect.URI instead; the backend is already released.
func (d *Document) Read(ctx context.Context) (*Redirect, error) {
	d.mu.Lock()
	if d.state != StateUnread {
		st := d.state
		d.mu.Unlock()
		if st == StateClosed {
			return nil, wrap("read", d.uri, ErrClosed)
		}
		return nil, wrap("read", d.uri, fmt.Errorf("document is %s", st))
	}
	d.state = StateReading
	mode := d.mode
	d.mu.Unlock()

	d.log.Debug("reading document", "mode", mode)
	redirect, err := d.backend.Read(ctx, d.request(mode))

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateClosed {
		d.release()
		return nil, wrap("read", d.uri, ErrClosed)
	}
	switch {
	case err != nil:
		d.release()
		d.state = StateClosed
		return nil, wrap("read", d.uri, err)
	case redirect != nil:
		d.log.Info("document redirected", "target", redirect.URI, "reason", redirect.Reason)
		d.release()
		d.state = StateRedirecting
		return redirect, nil
	}
	d.state = StateReady
	return nil, nil
}

func (d *Document) release() {
	if err := d.backend.Close(); err != nil {
		d.log.Warn("closing backend", "error", err)
	}
}

// ready must be called with mu held.
func (d *Document) ready(op string) error {
	switch d.state {
	case StateReady:
		return nil
	case StateClosed, StateRedirecting:
		return wrap(op, d.uri, ErrClosed)
	}
	return wrap(op, d.uri, fmt.Errorf("document is %s", d.state))
}

// PageCount is the number of pages; 1 for fluid documents.
func (d *Document) PageCount() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready("page count"); err != nil {
		return 0, err
	}
	return d.backend.PageCount(), nil
}

// Page returns page i, loading it through the bounded cache.
func (d *Document) Page(i int) (Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready("page"); err != nil {
		return nil, err
	}
	if n := d.backend.PageCount(); i < 0 || i >= n {
		return nil, wrap("page", d.uri, Errorf(KindPagination, "page %d out of range [0, %d)", i, n))
	}
	if p, ok := d.pages.Get(i); ok {
		return p, nil
	}
	p, err := d.backend.LoadPage(i)
	if err != nil {
		return nil, wrap("page", d.uri, err)
	}
	d.pages.Add(i, p)
	return p, nil
}

// PageText is Page(i).Text() with errors mapped into the taxonomy.
func (d *Document) PageText(i int) (string, error) {
	p, err := d.Page(i)
	if err != nil {
		return "", err
	}
	text, err := p.Text()
	if err != nil {
		return "", wrap("page text", d.uri, err)
	}
	return text, nil
}

// Cached reports whether page i is in the cache.
func (d *Document) Cached(i int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pages.Contains(i)
}

// TOC returns the table of contents, built on first use.
func (d *Document) TOC() (*doctree.Tree, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready("toc"); err != nil {
		return nil, err
	}
	if !d.tocDone {
		t, err := d.backend.TOC()
		if err == nil && t == nil {
			t = doctree.NewTree(d.metadataLocked().Title, d.fullPager())
		}
		d.toc, d.tocErr, d.tocDone = t, wrap("toc", d.uri, err), true
	}
	return d.toc, d.tocErr
}

func (d *Document) fullPager() doctree.Pager {
	return doctree.Pager{First: 0, Last: max(d.backend.PageCount()-1, 0)}
}

// Metadata returns the document metadata, computed once.
func (d *Document) Metadata() (Metadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready("metadata"); err != nil {
		return Metadata{}, err
	}
	return d.metadataLocked(), nil
}

func (d *Document) metadataLocked() Metadata {
	if d.meta == nil {
		m := d.backend.Metadata()
		if m.Title == "" {
			m.Title = d.uri.Name()
		}
		d.meta = &m
	}
	return *d.meta
}

// Language returns a two-letter language code: the backend's own when it has
// one, otherwise a guess from the text, otherwise the configured hint.
func (d *Document) Language() (string, error) {
	d.mu.Lock()
	if err := d.ready("language"); err != nil {
		d.mu.Unlock()
		return "", err
	}
	if d.lang != "" {
		defer d.mu.Unlock()
		return d.lang, nil
	}
	declared := d.metadataLocked().Language
	if lp, ok := d.backend.(LanguageProvider); ok && lp.Language() != "" {
		declared = lp.Language()
	}
	count := d.backend.PageCount()
	d.mu.Unlock()

	lang, ok := normalizeLanguage(declared)
	if !ok {
		lang = detectLanguage(d.sample(count), d.opts.LanguageHint)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lang = lang
	return lang, nil
}

// sample collects text from the first pages for language detection.
func (d *Document) sample(count int) string {
	var buf []byte
	for i := 0; i < min(count, languageSamplePages) && len(buf) < languageSampleBytes; i++ {
		text, err := d.PageText(i)
		if err != nil {
			d.log.Debug("skipping page in language sample", "page", i, "error", err)
			continue
		}
		buf = append(buf, text...)
		buf = append(buf, ' ')
	}
	return truncateUTF8(string(buf), languageSampleBytes)
}

// SectionForPage returns the most specific section containing page i.
func (d *Document) SectionForPage(i int) (*doctree.Section, error) {
	t, err := d.TOC()
	if err != nil {
		return nil, err
	}
	return t.SectionForPage(i), nil
}

// SectionForPosition returns the most specific section containing text offset pos.
func (d *Document) SectionForPosition(pos int) (*doctree.Section, error) {
	t, err := d.TOC()
	if err != nil {
		return nil, err
	}
	return t.SectionForPosition(pos), nil
}

// ResolveLink turns an href found on a page into a destination.
func (d *Document) ResolveLink(href string) (LinkTarget, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready("resolve link"); err != nil {
		return LinkTarget{}, err
	}
	if structtext.IsExternal(href) {
		return LinkTarget{URL: href, IsExternal: true}, nil
	}
	lr, ok := d.backend.(LinkResolver)
	if !ok {
		return LinkTarget{}, wrap("resolve link", d.uri, ErrNotSupported)
	}
	t, err := lr.ResolveLink(href)
	if err != nil {
		return LinkTarget{}, wrap("resolve link", d.uri, err)
	}
	return t, nil
}

// ReadingModes lists the modes the backend supports, or nil.
func (d *Document) ReadingModes() []ReadingMode {
	if s, ok := d.backend.(ReadingModeSupporter); ok {
		return s.ReadingModes()
	}
	return nil
}

// SetReadingMode re-reads the document in mode with a fresh backend and drops
// every cached page and derived value.
func (d *Document) SetReadingMode(ctx context.Context, mode ReadingMode) error {
	d.mu.Lock()
	if err := d.ready("set reading mode"); err != nil {
		d.mu.Unlock()
		return err
	}
	if !slices.Contains(d.ReadingModes(), mode) {
		d.mu.Unlock()
		return wrap("set reading mode", d.uri, Errorf(KindNotSupported, "reading mode %q", mode))
	}
	if mode == d.mode {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	fresh := d.desc.New()
	redirect, err := fresh.Read(ctx, d.request(mode))
	if err == nil && redirect != nil {
		err = errors.New("backend redirected while switching reading mode")
	}
	if err != nil {
		if cerr := fresh.Close(); cerr != nil {
			d.log.Warn("closing backend", "error", cerr)
		}
		return wrap("set reading mode", d.uri, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateReady {
		_ = fresh.Close()
		return wrap("set reading mode", d.uri, ErrClosed)
	}
	d.release()
	d.backend = fresh
	d.mode = mode
	d.pages.Purge()
	d.toc, d.tocErr, d.tocDone = nil, nil, false
	d.meta = nil
	d.lang = ""
	d.log.Info("reading mode changed", "mode", mode)
	return nil
}

// Close releases the backend. It is safe to call more than once and never fails;
// problems are logged.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateClosed || d.state == StateRedirecting {
		d.state = StateClosed
		return nil
	}
	if d.state == StateReady {
		d.release()
	}
	// A concurrent Read releases the backend itself once it sees the state.
	d.state = StateClosed
	d.pages.Purge()
	return nil
}
