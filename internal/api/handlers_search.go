package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dgallion1/bookcore/internal/doctree"
	"github.com/dgallion1/bookcore/internal/search"
)

// searchLine is one NDJSON line of a search response. Exactly one field is
// set: a match, a terminal error, or the closing summary.
type searchLine struct {
	Match   *search.Result `json:"match,omitempty"`
	Error   *errorBody     `json:"error,omitempty"`
	Summary *searchSummary `json:"summary,omitempty"`
}

type searchSummary struct {
	Matches int                 `json:"matches"`
	Scanned int                 `json:"scanned"`
	Skipped []search.PageResult `json:"skipped"`
}

// handleSearch streams matches as NDJSON while the worker scans. A client
// that disconnects cancels the scan.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	q := r.URL.Query()
	req := search.Request{
		URI:  sess.Handle.URI().String(),
		Mode: sess.Handle.ReadingMode(),
		Query: search.Query{
			Term:          q.Get("q"),
			Regex:         q.Get("regex") == "true",
			CaseSensitive: q.Get("case") == "true",
			WholeWord:     q.Get("word") == "true",
		},
		Radius: s.cfg.SearchExcerptRadius,
	}
	if q.Has("first") || q.Has("last") {
		first, err1 := strconv.Atoi(q.Get("first"))
		last, err2 := strconv.Atoi(q.Get("last"))
		if err1 != nil || err2 != nil {
			jsonError(w, "first and last must be integers", http.StatusBadRequest)
			return
		}
		pages, err := doctree.NewPager(first, last)
		if err != nil {
			docError(w, err)
			return
		}
		req.Pages = &pages
	}
	if q.Has("start") || q.Has("stop") {
		start, err1 := strconv.Atoi(q.Get("start"))
		stop, err2 := strconv.Atoi(q.Get("stop"))
		if err1 != nil || err2 != nil {
			jsonError(w, "start and stop must be integers", http.StatusBadRequest)
			return
		}
		rng, err := doctree.NewTextRange(start, stop)
		if err != nil {
			docError(w, err)
			return
		}
		req.Range = &rng
	}

	if _, err := search.Compile(req.Query); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Pages != nil && req.Range != nil {
		jsonError(w, search.ErrPagesAndRange.Error(), http.StatusBadRequest)
		return
	}
	results, err := search.Search(r.Context(), s.runner, req)
	if err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer results.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	rc := http.NewResponseController(w)
	flush := func() { rc.Flush() }

	matches := 0
	for res, err := range results.All() {
		if err != nil {
			body := errorBodyFor(err)
			s.log.Warn("search failed", "session", sess.ID, "error", err)
			enc.Encode(searchLine{Error: &body})
			flush()
			return
		}
		matches++
		if err := enc.Encode(searchLine{Match: &res}); err != nil {
			return
		}
		flush()
	}
	skipped := results.Skipped()
	if skipped == nil {
		skipped = []search.PageResult{}
	}
	enc.Encode(searchLine{Summary: &searchSummary{Matches: matches, Scanned: results.Scanned(), Skipped: skipped}})
	flush()
}
