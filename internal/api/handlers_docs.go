package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/bookcore/internal/docuri"
	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/doctree"
	"github.com/dgallion1/bookcore/internal/segment"
	"github.com/dgallion1/bookcore/internal/structtext"
)

type sessionKey struct{}

// sessionCtx resolves the session named in the path.
func (s *Server) sessionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.sessions.Get(chi.URLParam(r, "sessionID"))
		if !ok {
			jsonError(w, "document session not found", http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

func sessionFrom(r *http.Request) *Session {
	return r.Context().Value(sessionKey{}).(*Session)
}

type openRequest struct {
	Path     string               `json:"path"`
	URI      string               `json:"uri"`
	Password string               `json:"password"`
	Member   string               `json:"member"`
	Mode     document.ReadingMode `json:"mode"`
}

type documentInfo struct {
	SessionID    string                 `json:"session_id"`
	URI          string                 `json:"uri"`
	Requested    string                 `json:"requested"`
	PositionKey  string                 `json:"position_key"`
	Fallback     string                 `json:"fallback,omitempty"`
	Redirects    []document.Redirect    `json:"redirects,omitempty"`
	Format       string                 `json:"format"`
	PageCount    int                    `json:"page_count"`
	Capabilities []string               `json:"capabilities"`
	ReadingMode  document.ReadingMode   `json:"reading_mode"`
	ReadingModes []document.ReadingMode `json:"reading_modes"`
	OpenedAt     time.Time              `json:"opened_at"`
}

func (s *Server) info(sess *Session) (documentInfo, error) {
	h := sess.Handle
	count, err := h.PageCount()
	if err != nil {
		return documentInfo{}, err
	}
	info := documentInfo{
		SessionID:    sess.ID,
		URI:          h.URI().String(),
		Requested:    h.Requested.String(),
		PositionKey:  h.PositionKey(),
		Redirects:    h.Chain,
		Format:       h.Format(),
		PageCount:    count,
		Capabilities: h.Capabilities().Names(),
		ReadingMode:  h.ReadingMode(),
		ReadingModes: h.ReadingModes(),
		OpenedAt:     sess.OpenedAt,
	}
	if h.Fallback != nil {
		info.Fallback = h.Fallback.String()
	}
	return info, nil
}

// handleOpen opens a document by file path or by URI and starts a session.
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if (req.Path == "") == (req.URI == "") {
		jsonError(w, "exactly one of path or uri is required", http.StatusBadRequest)
		return
	}

	var uri docuri.URI
	var err error
	if req.URI != "" {
		uri, err = docuri.Parse(req.URI)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		uri, err = docuri.FromFilename(req.Path, s.registry)
		if err != nil {
			docError(w, err)
			return
		}
	}
	args := map[string]string{}
	if req.Password != "" {
		args["password"] = req.Password
	}
	if req.Member != "" {
		args["member"] = req.Member
	}
	if len(args) > 0 {
		uri = uri.WithOpenerArgs(args)
	}

	opts := s.docOpts
	if req.Mode != "" {
		opts.Mode = req.Mode
	}
	h, err := document.Open(r.Context(), s.registry, uri, opts)
	if err != nil {
		s.log.Info("open failed", "uri", uri, "kind", document.KindOf(err), "error", err)
		docError(w, err)
		return
	}
	sess := s.sessions.Add(h)
	info, err := s.info(sess)
	if err != nil {
		s.sessions.Close(sess.ID)
		docError(w, err)
		return
	}
	s.log.Info("document opened", "session", sess.ID, "uri", h.URI(), "format", info.Format, "redirects", len(h.Chain))
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs := []documentInfo{}
	for _, sess := range s.sessions.List() {
		info, err := s.info(sess)
		if err != nil {
			continue
		}
		docs = append(docs, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	info, err := s.info(sessionFrom(r))
	if err != nil {
		docError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCloseDocument(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	s.sessions.Close(sess.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTOC(w http.ResponseWriter, r *http.Request) {
	toc, err := sessionFrom(r).Handle.TOC()
	if err != nil {
		docError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": doctree.Dump(toc)})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	h := sessionFrom(r).Handle
	meta, err := h.Metadata()
	if err != nil {
		docError(w, err)
		return
	}
	lang, err := h.Language()
	if err != nil {
		docError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metadata": meta, "language": lang})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode document.ReadingMode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Mode == "" {
		jsonError(w, "mode is required", http.StatusBadRequest)
		return
	}
	sess := sessionFrom(r)
	if err := sess.Handle.SetReadingMode(r.Context(), req.Mode); err != nil {
		docError(w, err)
		return
	}
	info, err := s.info(sess)
	if err != nil {
		docError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type pageResponse struct {
	Index    int                 `json:"index"`
	Text     string              `json:"text"`
	Label    string              `json:"label,omitempty"`
	Section  string              `json:"section,omitempty"`
	Semantic structtext.RangeMap `json:"semantic,omitempty"`
	Style    structtext.RangeMap `json:"style,omitempty"`
	Links    []structtext.Link   `json:"links,omitempty"`
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	i, err := pageParam(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := sess.Handle.Page(i)
	if err != nil {
		docError(w, err)
		return
	}
	text, err := p.Text()
	if err != nil {
		docError(w, err)
		return
	}
	resp := pageResponse{Index: i, Text: text}
	resp.Label, _ = document.PageLabel(p)
	resp.Semantic, _ = document.PageSemantic(p)
	resp.Style, _ = document.PageStyle(p)
	resp.Links, _ = document.PageLinks(p)
	if !sess.Handle.Capabilities().Has(document.CapSinglePage) {
		if sec, err := sess.Handle.SectionForPage(i); err == nil && sec.ID != doctree.RootID {
			resp.Section = sec.Title
		}
	}
	if s.pool != nil {
		s.pool.Prefetch(sess.Handle.Document, i, prefetchAhead)
	}
	writeJSON(w, http.StatusOK, resp)
}

type segmentResponse struct {
	Range doctree.TextRange `json:"range"`
	Text  string            `json:"text"`
}

// handleSegments splits a page into paragraph, sentence or chunk ranges for
// read-aloud and highlighting clients.
func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	i, err := pageParam(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	text, err := sess.Handle.PageText(i)
	if err != nil {
		docError(w, err)
		return
	}
	within := doctree.TextRange{Start: 0, Stop: len(text)}
	q := r.URL.Query()
	if q.Has("start") || q.Has("stop") {
		start, err1 := strconv.Atoi(q.Get("start"))
		stop, err2 := strconv.Atoi(q.Get("stop"))
		if err1 != nil || err2 != nil {
			jsonError(w, "start and stop must be integers", http.StatusBadRequest)
			return
		}
		within, err = doctree.NewTextRange(start, stop)
		if err == nil && stop > len(text) {
			err = fmt.Errorf("%w: stop %d past end of page (%d)", doctree.ErrInvalidRange, stop, len(text))
		}
		if err != nil {
			docError(w, err)
			return
		}
	}

	var ranges []doctree.TextRange
	switch kind := q.Get("kind"); kind {
	case "", "sentence":
		ranges = segment.Sentences(text, within)
	case "paragraph":
		for _, p := range segment.Paragraphs(text) {
			if within.Overlaps(p) {
				ranges = append(ranges, p)
			}
		}
	case "chunk":
		ranges = segment.Chunks(text, within, segment.DefaultConfig())
	default:
		jsonError(w, fmt.Sprintf("unknown segment kind %q", kind), http.StatusBadRequest)
		return
	}

	out := make([]segmentResponse, len(ranges))
	for j, rng := range ranges {
		out[j] = segmentResponse{Range: rng, Text: rng.Slice(text)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"segments": out})
}

func (s *Server) handleResolveLink(w http.ResponseWriter, r *http.Request) {
	href := r.URL.Query().Get("href")
	if href == "" {
		jsonError(w, "href query parameter is required", http.StatusBadRequest)
		return
	}
	target, err := sessionFrom(r).Handle.ResolveLink(href)
	if err != nil {
		docError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

func pageParam(r *http.Request) (int, error) {
	i, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || i < 0 {
		return 0, fmt.Errorf("page must be a non-negative integer")
	}
	return i, nil
}
