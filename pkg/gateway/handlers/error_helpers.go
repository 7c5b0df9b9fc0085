package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/havenline/havenline/pkg/gateway/apierror"
	"github.com/havenline/havenline/pkg/gateway/mw"
)

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apiErr, status := apierror.FromError(err, reqID)
	writeErrorJSON(w, status, apiErr)
}

func writeErrorJSON(w http.ResponseWriter, status int, apiErr *apierror.Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
