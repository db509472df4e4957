package netlog

import "time"

// Observer receives the lifecycle of intercepted calls. Interceptors call
// OnStarted once when a call is created, OnResponse when response metadata
// arrives, OnData for each received body chunk, and OnFinished exactly once
// when the call completes, successfully or not.
//
// Implementations must not block, as they're called from the request path of
// the application. Byte slices passed to an observer must not be modified.
type Observer interface {
	OnStarted(id ID, req Request, at time.Time)
	OnResponse(id ID, req Request, resp Response, at time.Time)
	OnData(id ID, req Request, resp Response, chunk []byte, at time.Time)
	OnFinished(id ID, req Request, resp *Response, body []byte, fail *Outcome, at time.Time)
}

// MultiObserver fans out every lifecycle callback to each observer, in order.
type MultiObserver []Observer

var _ Observer = (MultiObserver)(nil)

// OnStarted implements Observer.
func (mo MultiObserver) OnStarted(id ID, req Request, at time.Time) {
	for _, o := range mo {
		o.OnStarted(id, req, at)
	}
}

// OnResponse implements Observer.
func (mo MultiObserver) OnResponse(id ID, req Request, resp Response, at time.Time) {
	for _, o := range mo {
		o.OnResponse(id, req, resp, at)
	}
}

// OnData implements Observer.
func (mo MultiObserver) OnData(id ID, req Request, resp Response, chunk []byte, at time.Time) {
	for _, o := range mo {
		o.OnData(id, req, resp, chunk, at)
	}
}

// OnFinished implements Observer.
func (mo MultiObserver) OnFinished(id ID, req Request, resp *Response, body []byte, fail *Outcome, at time.Time) {
	for _, o := range mo {
		o.OnFinished(id, req, resp, body, fail, at)
	}
}
