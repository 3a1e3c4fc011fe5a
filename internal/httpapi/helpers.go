package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rendis/flowos/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeFlowError maps an error to 400, 404 or 500 by its FlowError code.
func writeFlowError(w http.ResponseWriter, err error) {
	var fe *schema.FlowError
	if !errors.As(err, &fe) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Code: schema.ErrCodeInternal})
		return
	}
	writeJSON(w, statusForCode(fe.Code), errorBody{Error: fe.Message, Code: fe.Code})
}

// statusForCode maps an error code to an HTTP status.
func statusForCode(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeInputEmpty, schema.ErrCodeParseEmptyResult,
		schema.ErrCodeValidation, schema.ErrCodeCycleDetected:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON request body bounded by limit bytes.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: fmt.Sprintf("invalid JSON: %v", err),
			Code:  schema.ErrCodeValidation,
		})
		return false
	}
	return true
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
