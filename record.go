package netlog

import (
	"bytes"
	"encoding/json"
	"time"
)

// Record is the reconstructed lifecycle of a single call. A record becomes
// terminal when CompletedAt is set, and is never modified after that. While a
// record is active, Body only grows, by appending newly received chunks.
type Record struct {
	ID          ID         `json:"id"                     yaml:"id"`
	Request     Request    `json:"request"                yaml:"request"`
	Response    *Response  `json:"response,omitempty"     yaml:"response,omitempty"`
	Body        Bytes      `json:"body"                   yaml:"body"`
	StartedAt   time.Time  `json:"started_at"             yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Error       *Outcome   `json:"error,omitempty"        yaml:"error,omitempty"`
}

// Terminal returns true if the record is complete.
func (r Record) Terminal() bool {
	return r.CompletedAt != nil
}

// Duration of the call. For an active record, that's the time since start.
func (r Record) Duration() time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// Class returns the classification of the record's outcome.
func (r Record) Class() Class {
	switch {
	case !r.Terminal():
		return ClassPending
	case r.Error != nil:
		return r.Error.Class
	default:
		return ClassSuccess
	}
}

// Status returns a human-readable description of the response status, or the
// empty string if no response has been received.
func (r Record) Status() string {
	if r.Response == nil {
		return ""
	}
	return DescribeStatus(r.Response.StatusCode)
}

// Progress returns the fraction of the expected body which has been received,
// from 0 to 1. It returns false if progress can't be known, i.e. before any
// response, or when the response doesn't declare a content length.
func (r Record) Progress() (float64, bool) {
	switch {
	case r.Terminal():
		return 1, true
	case r.Response == nil:
		return 0, false
	case r.Response.ContentLength <= 0:
		return 0, false
	}
	p := float64(len(r.Body)) / float64(r.Response.ContentLength)
	if p > 1 {
		p = 1
	}
	return p, true
}

// PrettyBody returns the body of a terminal record as indented JSON. It
// returns false if the record isn't terminal, or the body isn't JSON.
func (r Record) PrettyBody() (string, bool) {
	if !r.Terminal() || len(r.Body) <= 0 {
		return "", false
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, r.Body, "", "  "); err != nil {
		return "", false
	}
	return buf.String(), true
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	c := r
	c.Request = r.Request.clone()
	c.Response = r.Response.clone()
	c.Body = cloneBytes(r.Body)
	c.Error = r.Error.clone()
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// RecordFileName is the on-disk name of a persisted record.
func RecordFileName(r Record) string {
	return string(r.ID) + ".json"
}
