package netlog_test

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/peterbourgon/netlog"
)

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		code  int
		class netlog.Class // empty means success
		desc  string
	}{
		{200, "", ""},
		{204, "", ""},
		{301, "", ""},
		{399, "", ""},
		{100, "", ""},
		{400, netlog.ClassClientError, "400 Bad Request"},
		{404, netlog.ClassClientError, "404 Not Found"},
		{418, netlog.ClassClientError, "418 I'm A Teapot"},
		{440, netlog.ClassClientError, "440 Login Timeout (IIS)"},
		{499, netlog.ClassClientError, "499 Client Closed Request (nginx)"},
		{500, netlog.ClassServerError, "500 Internal Server Error"},
		{503, netlog.ClassServerError, "503 Service Unavailable"},
		{522, netlog.ClassServerError, "522 Connection Timed Out (Cloudflare)"},
		{430, netlog.ClassUnknown, "Unknown status: 430"},
		{599, netlog.ClassUnknown, "Unknown status: 599"},
		{99, netlog.ClassUnknown, "Unknown status: 99"},
		{0, netlog.ClassUnknown, "Unknown status: 0"},
	} {
		t.Run(fmt.Sprint(tc.code), func(t *testing.T) {
			o := netlog.ClassifyStatus(tc.code)
			if tc.class == "" {
				if o != nil {
					t.Fatalf("want success, have %v", o)
				}
				return
			}
			if o == nil {
				t.Fatalf("want %s, have success", tc.class)
			}
			ExpectEqual(t, tc.class, o.Class)
			ExpectEqual(t, tc.code, o.Code)
			ExpectEqual(t, tc.desc, o.Description)
		})
	}
}

func TestDescribeStatus(t *testing.T) {
	t.Parallel()

	ExpectEqual(t, "200 OK", netlog.DescribeStatus(200))
	ExpectEqual(t, "524 Timeout Occurred (Cloudflare)", netlog.DescribeStatus(524))
	ExpectEqual(t, "Unknown status: 799", netlog.DescribeStatus(799))
}

func TestClassifyTransportError(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		err  error
		want netlog.TransportCode
	}{
		{"nil", nil, netlog.TransportUnknown},
		{"canceled", fmt.Errorf("get: %w", context.Canceled), netlog.TransportCanceled},
		{"deadline", context.DeadlineExceeded, netlog.TransportTimedOut},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}, netlog.TransportCannotFindHost},
		{"x509", x509.UnknownAuthorityError{}, netlog.TransportTLS},
		{"dial", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, netlog.TransportCannotConnect},
		{"reset", &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}, netlog.TransportConnectionLost},
		{"eof", io.ErrUnexpectedEOF, netlog.TransportConnectionLost},
		{"scheme", errors.New(`unsupported protocol scheme "ftp"`), netlog.TransportUnsupportedScheme},
		{"host", errors.New("http: no Host in request URL"), netlog.TransportBadURL},
		{"other", errors.New("something else"), netlog.TransportUnknown},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ExpectEqual(t, tc.want, netlog.ClassifyTransportError(tc.err))
		})
	}
}

func TestTransportOutcome(t *testing.T) {
	t.Parallel()

	o := netlog.TransportError(errors.New(`unsupported protocol scheme "ftp"`))
	AssertEqual(t, netlog.ClassTransport, o.Class)
	AssertEqual(t, int(netlog.TransportUnsupportedScheme), o.Code)
	AssertEqual(t, `unsupported URL scheme: unsupported protocol scheme "ftp"`, o.Description)
	AssertEqual(t, "transport -1002", o.Short())

	AssertEqual(t, true, netlog.TransportError(nil) == nil)
	AssertEqual(t, "abandoned without completion", netlog.TransportOutcome(netlog.TransportAbandoned, nil).Error())
}
