package netlogweb

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/peterbourgon/netlog"
)

func parseFilter(r *http.Request) netlog.RecordFilter {
	urlquery := r.URL.Query()
	var ids []netlog.ID
	for _, id := range urlquery["id"] {
		ids = append(ids, netlog.ID(id))
	}
	return netlog.RecordFilter{
		IDs:         ids,
		IsActive:    urlquery.Has("active"),
		IsFinished:  urlquery.Has("finished"),
		MinDuration: parseDefault(urlquery.Get("min"), parseDurationPointer, nil),
		IsSuccess:   urlquery.Has("success"),
		IsErrored:   urlquery.Has("errored"),
		Query:       urlquery.Get("q"),
	}
}

func encodeFilter(f netlog.RecordFilter, query url.Values) {
	for _, id := range f.IDs {
		query.Add("id", string(id))
	}
	if f.IsActive {
		query.Set("active", "true")
	}
	if f.IsFinished {
		query.Set("finished", "true")
	}
	if f.MinDuration != nil {
		query.Set("min", f.MinDuration.String())
	}
	if f.IsSuccess {
		query.Set("success", "true")
	}
	if f.IsErrored {
		query.Set("errored", "true")
	}
	if f.Query != "" {
		query.Set("q", f.Query)
	}
}

func parseDefault[T any](s string, parse func(string) (T, error), def T) T {
	if v, err := parse(s); err == nil {
		return v
	}
	return def
}

func parseRange[T int](s string, parse func(string) (T, error), min, def, max T) T {
	v, err := parse(s)
	switch {
	case err != nil:
		return def
	case err == nil && v < min:
		return min
	case err == nil && v > max:
		return max
	default:
		return v
	}
}

func parseDurationPointer(s string) (*time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

//
//
//

func respondError(w http.ResponseWriter, r *http.Request, err error, code int) {
	respondJSON(w, r, code, map[string]any{
		"error":       err.Error(),
		"status_code": code,
		"status_text": http.StatusText(code),
	})
}

func respondJSON(w http.ResponseWriter, r *http.Request, code int, data any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	enc.Encode(data)
}

// RequestExplicitlyAccepts returns true if the request's Accept header
// includes one of the acceptable media types.
func RequestExplicitlyAccepts(r *http.Request, acceptable ...string) bool {
	have := parseHeaderMediaTypes(r, "accept")
	for _, want := range acceptable {
		if _, ok := have[want]; ok {
			return true
		}
	}
	return false
}

func parseHeaderMediaTypes(r *http.Request, header string) map[string]map[string]string {
	mediaTypes := map[string]map[string]string{} // type: params
	for _, val := range strings.Split(r.Header.Get(header), ",") {
		mediaType, params, err := mime.ParseMediaType(val)
		if err != nil {
			continue
		}
		mediaTypes[mediaType] = params
	}
	return mediaTypes
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("bad request: "+format, args...)
}
