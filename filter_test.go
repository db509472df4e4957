package netlog_test

import (
	"testing"
	"time"

	"github.com/peterbourgon/netlog"
)

func TestFilterAllow(t *testing.T) {
	t.Parallel()

	var (
		zero   *netlog.Filter
		custom = &netlog.Filter{
			Schemes:        []string{"https", "wss"},
			IgnorePrefixes: []string{"https://telemetry.example.com/"},
		}
	)

	for _, tc := range []struct {
		filter *netlog.Filter
		url    string
		want   bool
	}{
		{zero, "http://example.com/", true},
		{zero, "HTTPS://example.com/", true},
		{zero, "ftp://example.com/file", false},
		{zero, "file:///etc/hosts", false},
		{zero, "/relative/path", false},
		{zero, "::not a url", false},
		{custom, "http://example.com/", false},
		{custom, "https://example.com/", true},
		{custom, "wss://example.com/socket", true},
		{custom, "https://telemetry.example.com/v1/events", false},
		{custom, "https://telemetry.example.com.evil/", true},
	} {
		have := tc.filter.Allow(netlog.Request{Method: "GET", URL: tc.url})
		ExpectEqual(t, tc.want, have)
		if have != tc.want {
			t.Logf("filter %s, url %q", tc.filter, tc.url)
		}
	}
}

func TestRecordFilterAllow(t *testing.T) {
	t.Parallel()

	done := t0.Add(3 * time.Second)
	var (
		active = netlog.Record{ID: "a", Request: getA, StartedAt: t0}
		ok     = netlog.Record{ID: "b", Request: getA, Response: &netlog.Response{StatusCode: 200}, StartedAt: t0, CompletedAt: &done}
		failed = netlog.Record{ID: "c", Request: netlog.Request{Method: "POST", URL: "https://example.com/submit"}, Response: &netlog.Response{StatusCode: 404}, StartedAt: t0, CompletedAt: &done, Error: netlog.ClassifyStatus(404)}
	)

	second := time.Second
	minute := time.Minute

	for _, tc := range []struct {
		name   string
		filter netlog.RecordFilter
		want   []netlog.ID
	}{
		{"all", netlog.RecordFilter{}, []netlog.ID{"a", "b", "c"}},
		{"ids", netlog.RecordFilter{IDs: []netlog.ID{"a", "c"}}, []netlog.ID{"a", "c"}},
		{"active", netlog.RecordFilter{IsActive: true}, []netlog.ID{"a"}},
		{"finished", netlog.RecordFilter{IsFinished: true}, []netlog.ID{"b", "c"}},
		{"success", netlog.RecordFilter{IsSuccess: true}, []netlog.ID{"b"}},
		{"errored", netlog.RecordFilter{IsErrored: true}, []netlog.ID{"c"}},
		{"min duration", netlog.RecordFilter{MinDuration: &second}, []netlog.ID{"b", "c"}},
		{"min duration too long", netlog.RecordFilter{MinDuration: &minute}, nil},
		{"query method", netlog.RecordFilter{Query: "POST"}, []netlog.ID{"c"}},
		{"query status", netlog.RecordFilter{Query: "Not Found"}, []netlog.ID{"c"}},
		{"query url", netlog.RecordFilter{Query: `example\.com/a$`}, []netlog.ID{"a", "b"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := tc.filter
			if errs := f.Normalize(); len(errs) > 0 {
				t.Fatalf("normalize: %v", errs)
			}
			var have []netlog.ID
			for _, r := range []netlog.Record{active, ok, failed} {
				if f.Allow(r) {
					have = append(have, r.ID)
				}
			}
			AssertDiff(t, tc.want, have)
		})
	}
}

func TestRecordFilterBadQuery(t *testing.T) {
	t.Parallel()

	f := netlog.RecordFilter{Query: "(unclosed"}
	errs := f.Normalize()
	AssertEqual(t, 1, len(errs))
	AssertEqual(t, "", f.Query)
	AssertEqual(t, "(allow all)", f.String())
}
