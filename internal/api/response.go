package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/doorbridge/doorbridge/internal/errs"
)

// writeJSON writes a JSON response with the given status code. Unlike an
// admin-style {data,error} envelope, this surface returns the literal
// shapes §4.7/§8 pin for its end-to-end scenarios (e.g. {ok:true}), so the
// body is encoded as-is with no wrapper type.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// errorBody is the literal shape of an error response.
type errorBody struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response with the given status code and
// message. No stack traces or internal error chains cross the API
// boundary (§7) — msg is always a short, opaque description.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeErr translates err into a status code per §7's propagation policy
// (NotFound→404, BadRequest→400, everything else→500 with an opaque
// message) and logs the full error for anything that isn't a client error.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var notFound *errs.NotFound
	var badRequest *errs.BadRequest
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &badRequest):
		writeError(w, http.StatusBadRequest, badRequest.Error())
	default:
		slog.Error("unhandled api error", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
