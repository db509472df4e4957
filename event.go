package netlog

import (
	"fmt"
	"time"
)

// EventKind identifies a raw lifecycle event.
type EventKind uint8

const (
	EventStarted EventKind = iota + 1
	EventResponseReceived
	EventDataReceived
	EventFinished
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventResponseReceived:
		return "response-received"
	case EventDataReceived:
		return "data-received"
	case EventFinished:
		return "finished"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is a raw lifecycle event reported by an interceptor. Events for an ID
// may arrive in any order after Started, except that Finished is always last.
//
// Response is set for ResponseReceived and DataReceived, and optionally for
// Finished. Chunk is set only for DataReceived, and contains just the newly
// received bytes. Body and Error are set only for Finished.
type Event struct {
	Kind     EventKind
	ID       ID
	Request  Request
	Response *Response
	Chunk    []byte
	Body     []byte
	Error    *Outcome
	At       time.Time
}

//
//
//

// TaskKind identifies a derived diagnostic event in the trail.
type TaskKind string

const (
	TaskStarted          TaskKind = "started"
	TaskResponseReceived TaskKind = "response-received"
	TaskDataLoaded       TaskKind = "data-loaded"
	TaskFinishedOK       TaskKind = "finished-ok"
	TaskFinishedError    TaskKind = "finished-error"
)

// Title returns an operator-readable title for the kind.
func (k TaskKind) Title() string {
	switch k {
	case TaskStarted:
		return "Task Started"
	case TaskResponseReceived:
		return "Received Response"
	case TaskDataLoaded:
		return "Loaded Data"
	case TaskFinishedOK:
		return "Task Finished"
	case TaskFinishedError:
		return "Task Failed"
	default:
		return string(k)
	}
}

// TaskEvent is an entry in the diagnostic trail. The trail is kept separately
// from records, so that the two can have independent retention.
type TaskEvent struct {
	Kind       TaskKind  `json:"kind"`
	ID         ID        `json:"id"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code,omitempty"`
	Bytes      int       `json:"bytes,omitempty"`
	Error      *Outcome  `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

func (ev TaskEvent) String() string {
	s := fmt.Sprintf("%s %s %s %s", ev.At.Format(time.RFC3339Nano), ev.Kind.Title(), ev.Method, ev.URL)
	if ev.StatusCode > 0 {
		s += fmt.Sprintf(" (%d)", ev.StatusCode)
	}
	if ev.Error != nil {
		s += ": " + ev.Error.Short()
	}
	return s
}
