package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mrmushfiq/llm0-gateway/internal/shared/gateerr"
)

type errorBody struct {
	Error *gateerr.Error `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	ge := gateerr.From(err)
	writeJSON(w, ge.Status, errorBody{Error: ge})
}
