package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ParseJSONOrError decodes the request body into v, writing a 400 response
// and returning false on failure.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteBadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// ParseQueryInt parses an integer query parameter, returning the default when
// absent, malformed, or negative.
func ParseQueryInt(r *http.Request, name string, defaultValue int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return defaultValue
	}
	return n
}

// ParseQueryBool parses a boolean query parameter, returning the default when
// absent or malformed.
func ParseQueryBool(r *http.Request, name string, defaultValue bool) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultValue
	}
	return b
}
