package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dgallion1/bookcore/internal/document"
)

// kindStatus maps document failure categories to HTTP statuses. The category
// itself is always in the response body so clients can offer the right remedy.
var kindStatus = map[document.Kind]int{
	document.KindIO:                       http.StatusUnprocessableEntity,
	document.KindEncrypted:                http.StatusForbidden,
	document.KindRestricted:               http.StatusForbidden,
	document.KindUnsupportedFormat:        http.StatusUnsupportedMediaType,
	document.KindPagination:               http.StatusNotFound,
	document.KindArchiveMultipleDocuments: http.StatusMultipleChoices,
	document.KindArchiveNoDocuments:       http.StatusUnprocessableEntity,
	document.KindInvalidRange:             http.StatusBadRequest,
	document.KindNotSupported:             http.StatusNotImplemented,
	document.KindClosed:                   http.StatusGone,
	document.KindRedirectLimit:            http.StatusLoopDetected,
}

type errorBody struct {
	Error   string        `json:"error"`
	Kind    document.Kind `json:"kind,omitempty"`
	Members []string      `json:"members,omitempty"`
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// docError writes err with the status of its category.
func docError(w http.ResponseWriter, err error) {
	body := errorBodyFor(err)
	code, ok := kindStatus[body.Kind]
	switch {
	case ok:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	default:
		code = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func errorBodyFor(err error) errorBody {
	body := errorBody{Error: err.Error(), Kind: document.KindOf(err)}
	var multi *document.MultipleDocumentsError
	if errors.As(err, &multi) {
		body.Members = multi.Members
	}
	return body
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
