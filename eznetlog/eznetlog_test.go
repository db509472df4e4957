package eznetlog_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/peterbourgon/netlog"
	"github.com/peterbourgon/netlog/eznetlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestKit(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ok":true}`)
	}))
	defer upstream.Close()

	dir := t.TempDir()
	reg := prometheus.NewRegistry()
	kit, err := eznetlog.New(eznetlog.Config{Dir: dir, NoWatch: true, Registerer: reg})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- kit.Run(ctx) }()
	defer func() { cancel(); <-done }()

	resp, err := kit.Client.Get(upstream.URL + "/thing")
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	syncEngine(t, kit.Engine)

	records := kit.Engine.Records()
	if want, have := 1, len(records); want != have {
		t.Fatalf("records: want %d, have %d", want, have)
	}
	rec := records[0]
	if want, have := netlog.ClassSuccess, rec.Class(); want != have {
		t.Errorf("class: want %s, have %s", want, have)
	}
	if err := testutil.GatherAndCompare(reg, strings.NewReader(`
		# HELP netlog_calls_started_total Intercepted calls that have started.
		# TYPE netlog_calls_started_total counter
		netlog_calls_started_total 1
	`), "netlog_calls_started_total"); err != nil {
		t.Error(err)
	}

	web := httptest.NewServer(kit.Handler)
	defer web.Close()

	presp, err := http.Post(web.URL+"/records/"+string(rec.ID)+"/persist", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	presp.Body.Close()
	if want, have := http.StatusOK, presp.StatusCode; want != have {
		t.Fatalf("persist: want %d, have %d", want, have)
	}

	if _, err := os.Stat(filepath.Join(dir, netlog.RecordFileName(rec))); err != nil {
		t.Errorf("persisted file: %v", err)
	}
	if want, have := 1, len(kit.Engine.Persisted()); want != have {
		t.Errorf("persisted: want %d, have %d", want, have)
	}
}

func TestKitInstrument(t *testing.T) {
	// Modifies http.DefaultClient, so not parallel.

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer upstream.Close()

	kit, err := eznetlog.New(eznetlog.Config{Dir: t.TempDir(), NoWatch: true})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- kit.Run(ctx) }()
	defer func() { cancel(); <-done }()

	orig := http.DefaultClient.Transport

	// Instrumenting twice is the same as instrumenting once.
	restore1 := kit.Instrument()
	restore2 := kit.Instrument()
	resp, err := http.Get(upstream.URL)
	restore2()
	restore1()
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if http.DefaultClient.Transport != orig {
		t.Errorf("default transport wasn't restored")
	}
	if kit.Transport.Next != nil {
		t.Errorf("kit transport was modified: Next=%T", kit.Transport.Next)
	}

	// Calls after restore aren't recorded.
	resp, err = http.Get(upstream.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	syncEngine(t, kit.Engine)

	records := kit.Engine.Records()
	if want, have := 1, len(records); want != have {
		t.Fatalf("records: want %d, have %d", want, have)
	}
	if want, have := netlog.ClassClientError, records[0].Class(); want != have {
		t.Errorf("class: want %s, have %s", want, have)
	}
}

func syncEngine(t *testing.T, e *netlog.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Sync(ctx); err != nil {
		t.Fatal(err)
	}
}
