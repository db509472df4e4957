package netlog

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Filter decides whether an outbound call should be intercepted. Only calls
// with one of the allowed schemes, whose URL doesn't begin with one of the
// ignored prefixes, are intercepted. The zero value allows http and https.
type Filter struct {
	Schemes        []string `json:"schemes,omitempty"`
	IgnorePrefixes []string `json:"ignore_prefixes,omitempty"`
}

// DefaultSchemes are used when a filter doesn't specify any schemes.
var DefaultSchemes = []string{"http", "https"}

// Allow returns true if the request should be intercepted. It's pure, and
// safe to call on a nil filter, which allows the default schemes.
func (f *Filter) Allow(req Request) bool {
	u, err := url.Parse(req.URL)
	if err != nil || u.Scheme == "" {
		return false
	}

	schemes := DefaultSchemes
	if f != nil && len(f.Schemes) > 0 {
		schemes = f.Schemes
	}

	var found bool
	for _, s := range schemes {
		if strings.EqualFold(s, u.Scheme) {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	if f != nil {
		for _, prefix := range f.IgnorePrefixes {
			if prefix != "" && strings.HasPrefix(req.URL, prefix) {
				return false
			}
		}
	}

	return true
}

// String returns an operator-readable representation of the filter.
func (f *Filter) String() string {
	schemes := DefaultSchemes
	if f != nil && len(f.Schemes) > 0 {
		schemes = f.Schemes
	}
	s := fmt.Sprintf("Schemes=%v", schemes)
	if f != nil && len(f.IgnorePrefixes) > 0 {
		s += fmt.Sprintf(" IgnorePrefixes=%v", f.IgnorePrefixes)
	}
	return s
}

//
//
//

// RecordFilter is a set of rules that can be applied to an individual record,
// which will either be allowed (pass) or rejected (fail).
type RecordFilter struct {
	IDs         []ID           `json:"ids,omitempty"`
	IsActive    bool           `json:"is_active,omitempty"`
	IsFinished  bool           `json:"is_finished,omitempty"`
	IsSuccess   bool           `json:"is_success,omitempty"`
	IsErrored   bool           `json:"is_errored,omitempty"`
	MinDuration *time.Duration `json:"min_duration,omitempty"`
	Query       string         `json:"query,omitempty"`
	regexp      *regexp.Regexp
}

// Normalize must be called before the filter can be used.
func (f *RecordFilter) Normalize() []error {
	var errs []error

	if err := f.initializeQueryRegexp(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	return errs
}

// String returns an operator-readable representation of the filter.
func (f RecordFilter) String() string {
	var elems []string

	if len(f.IDs) > 0 {
		elems = append(elems, fmt.Sprintf("IDs=%v", f.IDs))
	}

	if f.IsActive {
		elems = append(elems, "IsActive")
	}

	if f.IsFinished {
		elems = append(elems, "IsFinished")
	}

	if f.IsSuccess {
		elems = append(elems, "IsSuccess")
	}

	if f.IsErrored {
		elems = append(elems, "IsErrored")
	}

	if f.MinDuration != nil {
		elems = append(elems, fmt.Sprintf("MinDuration=%s", f.MinDuration.String()))
	}

	if f.Query != "" {
		elems = append(elems, fmt.Sprintf("Query='%s'", f.Query))
	}

	if len(elems) <= 0 {
		return "(allow all)"
	}

	return strings.Join(elems, " ")
}

// Allow returns true if the record satisfies all of the conditions in the
// filter. The query is matched against the method, URL, and status.
func (f *RecordFilter) Allow(r Record) bool {
	if len(f.IDs) > 0 {
		var found bool
		for _, id := range f.IDs {
			if id == r.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.IsActive && r.Terminal() {
		return false
	}

	if f.IsFinished && !r.Terminal() {
		return false
	}

	if f.IsSuccess && r.Class() != ClassSuccess {
		return false
	}

	if f.IsErrored && (!r.Terminal() || r.Error == nil) {
		return false
	}

	if f.MinDuration != nil {
		if !r.Terminal() {
			return false // MinDuration requires the record to be finished
		}
		if r.Duration() < *f.MinDuration {
			return false
		}
	}

	f.initializeQueryRegexp()
	if f.regexp != nil {
		return f.regexp.MatchString(r.Request.Method) ||
			f.regexp.MatchString(r.Request.URL) ||
			f.regexp.MatchString(r.Status())
	}

	return true
}

func (f *RecordFilter) initializeQueryRegexp() error {
	if f.regexp != nil {
		return nil
	}

	if f.Query == "" {
		return nil
	}

	re, err := regexp.Compile(f.Query)
	if err != nil {
		f.Query = ""
		return fmt.Errorf("invalid, ignoring (%w)", err)
	}

	f.regexp = re
	return nil
}
