package netlog

import (
	"net/http"
	"net/textproto"
	"sort"
	"strings"
	"time"
)

// Header is a single header field.
type Header struct {
	Key   string `json:"key"   yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Headers is an ordered set of header fields. Keys are canonicalized, so that
// lookups are case-insensitive, and each key appears at most once.
type Headers []Header

// MakeHeaders builds headers from alternating key and value arguments. Keys
// are canonicalized, and when a key is repeated, the last value wins. Fields
// are sorted by key. A trailing key without a value is ignored.
func MakeHeaders(keyvals ...string) Headers {
	values := map[string]string{}
	for i := 0; i+1 < len(keyvals); i += 2 {
		values[textproto.CanonicalMIMEHeaderKey(keyvals[i])] = keyvals[i+1]
	}
	return fromMap(values)
}

// NewHeaders converts an HTTP header to headers. Multi-valued fields collapse
// to their last value.
func NewHeaders(h http.Header) Headers {
	if h == nil {
		return nil
	}
	values := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) <= 0 {
			continue
		}
		values[textproto.CanonicalMIMEHeaderKey(k)] = vs[len(vs)-1]
	}
	return fromMap(values)
}

func fromMap(values map[string]string) Headers {
	hs := make(Headers, 0, len(values))
	for k, v := range values {
		hs = append(hs, Header{Key: k, Value: v})
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i].Key < hs[j].Key })
	return hs
}

// Get returns the value for the key, matched case-insensitively, or the empty
// string if the key isn't present.
func (hs Headers) Get(key string) string {
	for _, h := range hs {
		if strings.EqualFold(h.Key, key) {
			return h.Value
		}
	}
	return ""
}

// MarshalYAML encodes nil headers as null, so that they decode as nil rather
// than as an empty list.
func (hs Headers) MarshalYAML() (any, error) {
	if hs == nil {
		return nil, nil
	}
	return []Header(hs), nil
}

func (hs Headers) clone() Headers {
	if hs == nil {
		return nil
	}
	return append(make(Headers, 0, len(hs)), hs...)
}

// Policy captures the transport and cache flags of a request.
type Policy struct {
	Close   bool `json:"close,omitempty"    yaml:"close,omitempty"`
	NoCache bool `json:"no_cache,omitempty" yaml:"no_cache,omitempty"`
}

// Request describes an outbound call. It's immutable once the call starts.
type Request struct {
	Method  string        `json:"method"  yaml:"method"`
	URL     string        `json:"url"     yaml:"url"`
	Headers Headers       `json:"headers" yaml:"headers"`
	Body    Bytes         `json:"body"    yaml:"body"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	Policy  Policy        `json:"policy"  yaml:"policy"`
}

func (r Request) clone() Request {
	r.Headers = r.Headers.clone()
	r.Body = cloneBytes(r.Body)
	return r
}

// Response describes the metadata of a response. The URL may differ from the
// request URL if the call was redirected.
type Response struct {
	URL           string  `json:"url"                  yaml:"url"`
	StatusCode    int     `json:"status_code"          yaml:"status_code"`
	Proto         string  `json:"proto,omitempty"      yaml:"proto,omitempty"`
	Headers       Headers `json:"headers"              yaml:"headers"`
	ContentLength int64   `json:"content_length"       yaml:"content_length"`
	MediaType     string  `json:"media_type,omitempty" yaml:"media_type,omitempty"`
}

func (r *Response) clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = r.Headers.clone()
	return &c
}

// Bytes is a request or response body. In YAML, a nil body is null and an
// empty body is an empty list, the same distinction JSON makes.
type Bytes []byte

// MarshalYAML implements yaml.Marshaler.
func (b Bytes) MarshalYAML() (any, error) {
	if b == nil {
		return nil, nil
	}
	return []byte(b), nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}
