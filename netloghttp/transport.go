// Package netloghttp intercepts outbound HTTP calls and reports their
// lifecycle to a [netlog.Observer].
package netloghttp

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/peterbourgon/netlog"
)

// DefaultMaxRequestBody is the default limit on captured request bodies.
const DefaultMaxRequestBody = 1 << 20

// Transport is an [http.RoundTripper] which records every qualifying call
// made through it. Calls are always forwarded to the next round tripper, and
// the caller sees the unmodified response, body, and errors: recording is an
// observer of the call, not a proxy.
type Transport struct {
	// Next is the round tripper that actually makes calls. Optional, by
	// default http.DefaultTransport.
	Next http.RoundTripper

	// Observer receives the lifecycle of each intercepted call. If nil,
	// calls pass straight through.
	Observer netlog.Observer

	// Filter decides which calls are intercepted. Optional, by default
	// http and https calls.
	Filter *netlog.Filter

	// MaxRequestBody is the max size of a captured request body. Bodies
	// are only captured when they can be read without consuming the
	// original, via GetBody, or when their declared length is within the
	// limit. Default DefaultMaxRequestBody. Negative disables capture.
	MaxRequestBody int64
}

var _ http.RoundTripper = (*Transport)(nil)

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}

	if t.Observer == nil || req.URL == nil {
		return next.RoundTrip(req)
	}

	if !t.Filter.Allow(netlog.Request{URL: req.URL.String()}) {
		return next.RoundTrip(req)
	}

	req, desc := t.describe(req)

	c := &call{
		id:  netlog.NewID(),
		req: desc,
		obs: t.Observer,
	}

	c.obs.OnStarted(c.id, c.req, now())

	resp, err := next.RoundTrip(req)
	if err != nil {
		c.finish(netlog.TransportError(err))
		return resp, err
	}

	c.response(resp)

	if resp.Body == nil || resp.Body == http.NoBody {
		c.finish(nil)
		return resp, nil
	}

	resp.Body = &body{ReadCloser: resp.Body, call: c}
	return resp, nil
}

// CloseIdleConnections forwards to the next round tripper, if supported.
func (t *Transport) CloseIdleConnections() {
	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}
	if c, ok := next.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

// describe captures the request descriptor. If the request body had to be read
// to capture it, describe returns a clone of the request with an equivalent
// body; otherwise it returns the original request.
func (t *Transport) describe(req *http.Request) (*http.Request, netlog.Request) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	desc := netlog.Request{
		Method:  method,
		URL:     req.URL.String(),
		Headers: netlog.NewHeaders(req.Header),
		Policy: netlog.Policy{
			Close:   req.Close,
			NoCache: hasNoCache(req.Header),
		},
	}

	if deadline, ok := req.Context().Deadline(); ok {
		desc.Timeout = time.Until(deadline)
	}

	limit := t.MaxRequestBody
	if limit == 0 {
		limit = DefaultMaxRequestBody
	}

	req, desc.Body = captureBody(req, limit)

	return req, desc
}

func captureBody(req *http.Request, limit int64) (*http.Request, []byte) {
	switch {
	case limit < 0:
		return req, nil

	case req.Body == nil || req.Body == http.NoBody:
		return req, nil

	case req.GetBody != nil:
		rc, err := req.GetBody()
		if err != nil {
			return req, nil
		}
		defer rc.Close()
		data, _ := io.ReadAll(io.LimitReader(rc, limit))
		return req, data

	case req.ContentLength > 0 && req.ContentLength <= limit:
		data, err := io.ReadAll(req.Body)
		req.Body.Close()

		clone := req.Clone(req.Context())
		var r io.Reader = bytes.NewReader(data)
		if err != nil {
			r = io.MultiReader(r, errorReader{err})
		}
		clone.Body = io.NopCloser(r)
		return clone, data

	default:
		return req, nil
	}
}

func hasNoCache(h http.Header) bool {
	return strings.Contains(strings.ToLower(h.Get("Cache-Control")), "no-cache") ||
		strings.EqualFold(h.Get("Pragma"), "no-cache")
}

type errorReader struct{ err error }

func (r errorReader) Read([]byte) (int, error) { return 0, r.err }

func now() time.Time { return time.Now().UTC() }

//
//
//

// errClosedEarly is reported when the caller closes a response body before
// reading all of it.
var errClosedEarly = errors.New("response body closed before completion")

// call is the lifecycle of one intercepted call. Its accumulator is private to
// the call, so no locking is shared across calls.
type call struct {
	id  netlog.ID
	req netlog.Request
	obs netlog.Observer

	mtx      sync.Mutex
	resp     *netlog.Response
	buf      []byte
	finished bool
}

func (c *call) response(resp *http.Response) {
	url := c.req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		url = resp.Request.URL.String()
	}

	r := netlog.Response{
		URL:           url,
		StatusCode:    resp.StatusCode,
		Proto:         resp.Proto,
		Headers:       netlog.NewHeaders(resp.Header),
		ContentLength: resp.ContentLength,
		MediaType:     mediaType(resp.Header.Get("Content-Type")),
	}

	c.mtx.Lock()
	c.resp = &r
	c.buf = []byte{}
	c.mtx.Unlock()

	c.obs.OnResponse(c.id, c.req, r, now())
}

func (c *call) data(p []byte) {
	chunk := append([]byte(nil), p...)

	c.mtx.Lock()
	if c.finished {
		c.mtx.Unlock()
		return
	}
	c.buf = append(c.buf, chunk...)
	resp := *c.resp
	c.mtx.Unlock()

	c.obs.OnData(c.id, c.req, resp, chunk, now())
}

// finish reports the end of the call. Only the first call has any effect.
func (c *call) finish(fail *netlog.Outcome) {
	c.mtx.Lock()
	if c.finished {
		c.mtx.Unlock()
		return
	}
	c.finished = true
	resp, buf := c.resp, c.buf
	c.resp, c.buf = nil, nil // discard per-call state
	c.mtx.Unlock()

	c.obs.OnFinished(c.id, c.req, resp, buf, fail, now())
}

// closed is called when the caller closes the body. A body closed before all
// of the declared content was read finishes the call as canceled.
func (c *call) closed() {
	c.mtx.Lock()
	var complete bool
	if c.resp != nil {
		complete = c.resp.ContentLength >= 0 && int64(len(c.buf)) >= c.resp.ContentLength
	}
	c.mtx.Unlock()

	if complete {
		c.finish(nil)
	} else {
		c.finish(netlog.TransportOutcome(netlog.TransportCanceled, errClosedEarly))
	}
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
		return strings.TrimSpace(strings.ToLower(mt))
	}
	return mt
}

//
//
//

// body wraps a response body, and reports reads and the end of the body to
// the call. Data is passed through to the caller unmodified.
type body struct {
	io.ReadCloser
	call *call
}

func (b *body) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.call.data(p[:n])
	}
	switch {
	case err == io.EOF:
		b.call.finish(nil)
	case err != nil:
		b.call.finish(netlog.TransportError(err))
	}
	return n, err
}

func (b *body) Close() error {
	err := b.ReadCloser.Close()
	b.call.closed()
	return err
}

// Wrap returns a shallow copy of the client, with its transport instrumented.
// A nil client is treated as http.DefaultClient.
func Wrap(client *http.Client, obs netlog.Observer, filter *netlog.Filter) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}
	c := *client
	c.Transport = &Transport{
		Next:     client.Transport,
		Observer: obs,
		Filter:   filter,
	}
	return &c
}
