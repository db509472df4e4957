package netloghttp_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/peterbourgon/netlog"
	"github.com/peterbourgon/netlog/netloghttp"
)

func TestTransportLifecycle(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Custom", "yes")
		fmt.Fprint(w, "hello world")
	}))
	defer server.Close()

	rec := &recorder{}
	client := netloghttp.Wrap(server.Client(), rec, nil)

	req, err := http.NewRequest("GET", server.URL+"/greet", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if want, have := "hello world", string(body); want != have {
		t.Fatalf("caller body: want %q, have %q", want, have)
	}

	events := rec.all()
	if want, have := "started", events[0].kind; want != have {
		t.Fatalf("first event: want %s, have %s", want, have)
	}
	if want, have := "response", events[1].kind; want != have {
		t.Fatalf("second event: want %s, have %s", want, have)
	}

	start := events[0]
	if want, have := "GET", start.req.Method; want != have {
		t.Errorf("method: want %s, have %s", want, have)
	}
	if want, have := server.URL+"/greet", start.req.URL; want != have {
		t.Errorf("url: want %s, have %s", want, have)
	}
	if !start.req.Policy.NoCache {
		t.Errorf("policy: want no-cache")
	}

	response := events[1].resp
	if want, have := 200, response.StatusCode; want != have {
		t.Errorf("status: want %d, have %d", want, have)
	}
	if want, have := "text/plain", response.MediaType; want != have {
		t.Errorf("media type: want %s, have %s", want, have)
	}
	if want, have := int64(11), response.ContentLength; want != have {
		t.Errorf("content length: want %d, have %d", want, have)
	}
	if want, have := "yes", response.Headers.Get("x-custom"); want != have {
		t.Errorf("header: want %s, have %s", want, have)
	}

	var chunks []byte
	for _, ev := range events[2 : len(events)-1] {
		if want, have := "data", ev.kind; want != have {
			t.Fatalf("middle event: want %s, have %s", want, have)
		}
		if ev.id != start.id {
			t.Fatalf("id: want %s, have %s", start.id, ev.id)
		}
		chunks = append(chunks, ev.data...)
	}
	if want, have := "hello world", string(chunks); want != have {
		t.Errorf("chunks: want %q, have %q", want, have)
	}

	finish := events[len(events)-1]
	if want, have := "finished", finish.kind; want != have {
		t.Fatalf("last event: want %s, have %s", want, have)
	}
	if want, have := "hello world", string(finish.data); want != have {
		t.Errorf("final body: want %q, have %q", want, have)
	}
	if finish.fail != nil {
		t.Errorf("outcome: want none, have %v", finish.fail)
	}
	if want, have := 1, rec.count("finished"); want != have {
		t.Errorf("finished events: want %d, have %d", want, have)
	}
}

func TestTransportRequestBody(t *testing.T) {
	t.Parallel()

	var (
		mtx      sync.Mutex
		received []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mtx.Lock()
		received = append(received, string(body))
		mtx.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	rec := &recorder{}
	client := netloghttp.Wrap(server.Client(), rec, nil)

	// With GetBody, set by NewRequest for a bytes.Reader.
	{
		req, _ := http.NewRequest("POST", server.URL, bytes.NewReader([]byte(`{"a":1}`)))
		resp, err := client.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}

	// Without GetBody, but with a known length.
	{
		req, _ := http.NewRequest("PUT", server.URL, io.NopCloser(strings.NewReader(`{"b":2}`)))
		req.ContentLength = 7
		resp, err := client.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}

	mtx.Lock()
	defer mtx.Unlock()
	if want, have := `[{"a":1} {"b":2}]`, fmt.Sprint(received); want != have {
		t.Errorf("server received: want %s, have %s", want, have)
	}

	var captured []string
	for _, ev := range rec.all() {
		if ev.kind == "started" {
			captured = append(captured, string(ev.req.Body))
		}
		if ev.kind == "finished" && ev.fail != nil {
			t.Errorf("unexpected failure: %v", ev.fail)
		}
	}
	if want, have := `[{"a":1} {"b":2}]`, fmt.Sprint(captured); want != have {
		t.Errorf("captured: want %s, have %s", want, have)
	}
}

func TestTransportConnectError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	rec := &recorder{}
	client := netloghttp.Wrap(&http.Client{}, rec, nil)

	if _, err := client.Get(url); err == nil {
		t.Fatal("want error, have none")
	}

	events := rec.all()
	if want, have := 2, len(events); want != have {
		t.Fatalf("events: want %d, have %d", want, have)
	}
	finish := events[1]
	if finish.resp != nil {
		t.Errorf("response: want none, have %+v", finish.resp)
	}
	if finish.fail == nil {
		t.Fatal("outcome: want failure, have none")
	}
	if want, have := netlog.ClassTransport, finish.fail.Class; want != have {
		t.Errorf("class: want %s, have %s", want, have)
	}
	if want, have := int(netlog.TransportCannotConnect), finish.fail.Code; want != have {
		t.Errorf("code: want %d, have %d", want, have)
	}
}

func TestTransportFilter(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	rec := &recorder{}
	client := netloghttp.Wrap(server.Client(), rec, &netlog.Filter{IgnorePrefixes: []string{server.URL + "/health"}})

	for _, path := range []string{"/health", "/healthz", "/api"} {
		resp, err := client.Get(server.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	if want, have := 1, rec.count("started"); want != have {
		t.Fatalf("started: want %d, have %d", want, have)
	}
	if want, have := server.URL+"/api", rec.all()[0].req.URL; want != have {
		t.Fatalf("url: want %s, have %s", want, have)
	}
}

func TestTransportEarlyClose(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		w.Write(bytes.Repeat([]byte("x"), 100000))
	}))
	defer server.Close()

	rec := &recorder{}
	client := netloghttp.Wrap(server.Client(), rec, nil)

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 10)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	resp.Body.Close()

	if want, have := 1, rec.count("finished"); want != have {
		t.Fatalf("finished: want %d, have %d", want, have)
	}
	events := rec.all()
	finish := events[len(events)-1]
	if finish.fail == nil {
		t.Fatal("outcome: want failure, have none")
	}
	if want, have := int(netlog.TransportCanceled), finish.fail.Code; want != have {
		t.Errorf("code: want %d, have %d", want, have)
	}
}

func TestTransportEngine(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := netlog.NewEngine(netlog.EngineConfig{})
	go engine.Run(ctx)

	client := netloghttp.Wrap(server.Client(), engine, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		for _, path := range []string{"/ok", "/missing", "/empty"} {
			wg.Add(1)
			go func(path string) {
				defer wg.Done()
				resp, err := client.Get(server.URL + path)
				if err != nil {
					t.Error(err)
					return
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}(path)
		}
	}
	wg.Wait()

	syncCtx, syncCancel := context.WithTimeout(ctx, 5*time.Second)
	defer syncCancel()
	if err := engine.Sync(syncCtx); err != nil {
		t.Fatal(err)
	}

	records := engine.Records()
	if want, have := 30, len(records); want != have {
		t.Fatalf("records: want %d, have %d", want, have)
	}

	classes := map[string]map[netlog.Class]int{}
	for _, r := range records {
		if !r.Terminal() {
			t.Fatalf("record %s not terminal", r.ID)
		}
		path := strings.TrimPrefix(r.Request.URL, server.URL)
		if classes[path] == nil {
			classes[path] = map[netlog.Class]int{}
		}
		classes[path][r.Class()]++
		if path == "/ok" {
			if want, have := `{"ok":true}`, string(r.Body); want != have {
				t.Errorf("body: want %q, have %q", want, have)
			}
			if pretty, ok := r.PrettyBody(); !ok || !strings.Contains(pretty, `"ok": true`) {
				t.Errorf("pretty body: have %q", pretty)
			}
		}
	}

	for path, want := range map[string]netlog.Class{
		"/ok":      netlog.ClassSuccess,
		"/missing": netlog.ClassClientError,
		"/empty":   netlog.ClassSuccess,
	} {
		if have := classes[path][want]; have != 10 {
			t.Errorf("%s: want 10 × %s, have %v", path, want, classes[path])
		}
	}
}

//
//
//

type event struct {
	kind string
	id   netlog.ID
	req  netlog.Request
	resp *netlog.Response
	data []byte
	fail *netlog.Outcome
}

type recorder struct {
	mtx    sync.Mutex
	events []event
}

func (r *recorder) OnStarted(id netlog.ID, req netlog.Request, at time.Time) {
	r.add(event{kind: "started", id: id, req: req})
}

func (r *recorder) OnResponse(id netlog.ID, req netlog.Request, resp netlog.Response, at time.Time) {
	r.add(event{kind: "response", id: id, req: req, resp: &resp})
}

func (r *recorder) OnData(id netlog.ID, req netlog.Request, resp netlog.Response, chunk []byte, at time.Time) {
	r.add(event{kind: "data", id: id, req: req, resp: &resp, data: chunk})
}

func (r *recorder) OnFinished(id netlog.ID, req netlog.Request, resp *netlog.Response, body []byte, fail *netlog.Outcome, at time.Time) {
	r.add(event{kind: "finished", id: id, req: req, resp: resp, data: body, fail: fail})
}

func (r *recorder) add(ev event) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []event {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return append([]event(nil), r.events...)
}

func (r *recorder) count(kind string) int {
	var n int
	for _, ev := range r.all() {
		if ev.kind == kind {
			n++
		}
	}
	return n
}
