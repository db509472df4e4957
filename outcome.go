package netlog

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Class is the classification of a call's outcome.
type Class string

const (
	// ClassPending is the class of a record that isn't yet terminal.
	ClassPending Class = "pending"

	// ClassSuccess means a usable response with a non-error status.
	ClassSuccess Class = "success"

	// ClassTransport means the call failed before or without producing a
	// usable response, e.g. DNS, connect, TLS, timeout, or cancellation.
	ClassTransport Class = "transport"

	// ClassClientError means a response with a known client error status.
	ClassClientError Class = "client-error"

	// ClassServerError means a response with a known server error status.
	ClassServerError Class = "server-error"

	// ClassUnknown means a response with a status outside of all known
	// ranges and tables.
	ClassUnknown Class = "unknown"
)

// Outcome is the classified error of a terminal record. A terminal record
// without an outcome succeeded.
type Outcome struct {
	Class       Class  `json:"class"       yaml:"class"`
	Code        int    `json:"code"        yaml:"code"`
	Description string `json:"description" yaml:"description"`
}

// Error implements the error interface.
func (o *Outcome) Error() string {
	return o.Description
}

// Short returns a compact form of the outcome, suitable for list views.
func (o *Outcome) Short() string {
	if o.Class == ClassTransport {
		return fmt.Sprintf("transport %d", o.Code)
	}
	return o.Description
}

func (o *Outcome) clone() *Outcome {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

// ClassifyStatus maps an HTTP status code to an outcome. It returns nil for
// codes that represent success, i.e. known 1xx-3xx codes and any other code
// in the 100-399 range.
func ClassifyStatus(code int) *Outcome {
	if text, ok := clientErrors[code]; ok {
		return &Outcome{Class: ClassClientError, Code: code, Description: fmt.Sprintf("%d %s", code, text)}
	}
	if text, ok := serverErrors[code]; ok {
		return &Outcome{Class: ClassServerError, Code: code, Description: fmt.Sprintf("%d %s", code, text)}
	}
	if code < 100 || code >= 400 {
		return &Outcome{Class: ClassUnknown, Code: code, Description: fmt.Sprintf("Unknown status: %d", code)}
	}
	return nil
}

// DescribeStatus returns a human-readable description of any status code,
// including the vendor-specific codes known to ClassifyStatus.
func DescribeStatus(code int) string {
	if text, ok := clientErrors[code]; ok {
		return fmt.Sprintf("%d %s", code, text)
	}
	if text, ok := serverErrors[code]; ok {
		return fmt.Sprintf("%d %s", code, text)
	}
	if text := http.StatusText(code); text != "" {
		return fmt.Sprintf("%d %s", code, text)
	}
	return fmt.Sprintf("Unknown status: %d", code)
}

var clientErrors = map[int]string{
	400: "Bad Request",
	401: "Unauthorized",
	402: "Payment Required",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	407: "Proxy Authentication Required",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	412: "Precondition Failed",
	413: "Payload Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	416: "Range Not Satisfiable",
	417: "Expectation Failed",
	418: "I'm A Teapot",
	421: "Misdirected Request",
	422: "Unprocessable Content",
	423: "Locked",
	424: "Failed Dependency",
	425: "Too Early",
	426: "Upgrade Required",
	428: "Precondition Required",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",
	451: "Unavailable For Legal Reasons",

	// IIS
	440: "Login Timeout (IIS)",
	449: "Retry With (IIS)",
	450: "Blocked By Windows Parental Controls (IIS)",

	// nginx
	444: "No Response (nginx)",
	494: "Request Header Too Large (nginx)",
	495: "SSL Certificate Error (nginx)",
	496: "SSL Certificate Required (nginx)",
	497: "HTTP Request Sent to HTTPS Port (nginx)",
	499: "Client Closed Request (nginx)",
}

var serverErrors = map[int]string{
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
	506: "Variant Also Negotiates",
	507: "Insufficient Storage",
	508: "Loop Detected",
	510: "Not Extended",
	511: "Network Authentication Required",

	// Cloudflare
	520: "Web Server Returned an Unknown Error (Cloudflare)",
	521: "Web Server Is Down (Cloudflare)",
	522: "Connection Timed Out (Cloudflare)",
	523: "Origin Is Unreachable (Cloudflare)",
	524: "Timeout Occurred (Cloudflare)",
	525: "SSL Handshake Failed (Cloudflare)",
	526: "Invalid SSL Certificate (Cloudflare)",
	527: "Railgun Error (Cloudflare)",
	530: "Origin Unavailable (Cloudflare)",
}

//
//
//

// TransportCode identifies a kind of transport-level failure.
type TransportCode int

const (
	TransportUnknown           TransportCode = -1
	TransportCanceled          TransportCode = -999
	TransportBadURL            TransportCode = -1000
	TransportTimedOut          TransportCode = -1001
	TransportUnsupportedScheme TransportCode = -1002
	TransportCannotFindHost    TransportCode = -1003
	TransportCannotConnect     TransportCode = -1004
	TransportConnectionLost    TransportCode = -1005
	TransportAbandoned         TransportCode = -1100
	TransportTLS               TransportCode = -1200
)

func (c TransportCode) String() string {
	if s, ok := transportDescriptions[c]; ok {
		return s
	}
	return transportDescriptions[TransportUnknown]
}

var transportDescriptions = map[TransportCode]string{
	TransportUnknown:           "unknown transport error",
	TransportCanceled:          "canceled",
	TransportBadURL:            "bad URL",
	TransportTimedOut:          "timed out",
	TransportUnsupportedScheme: "unsupported URL scheme",
	TransportCannotFindHost:    "cannot find host",
	TransportCannotConnect:     "cannot connect to host",
	TransportConnectionLost:    "network connection lost",
	TransportAbandoned:         "abandoned without completion",
	TransportTLS:               "secure connection failed",
}

// ClassifyTransportError maps an error returned by a transport, or by a
// response body read, to a transport code. A nil error maps to
// TransportUnknown.
func ClassifyTransportError(err error) TransportCode {
	if err == nil {
		return TransportUnknown
	}

	var (
		dnsErr     *net.DNSError
		opErr      *net.OpError
		netErr     net.Error
		recErr     tls.RecordHeaderError
		certErr    *tls.CertificateVerificationError
		authErr    x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
	)

	switch {
	case errors.Is(err, context.Canceled):
		return TransportCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return TransportTimedOut
	case errors.As(err, &dnsErr):
		return TransportCannotFindHost
	case errors.As(err, &recErr), errors.As(err, &certErr), errors.As(err, &authErr), errors.As(err, &hostErr), errors.As(err, &invalidErr):
		return TransportTLS
	case errors.As(err, &netErr) && netErr.Timeout():
		return TransportTimedOut
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return TransportCannotConnect
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return TransportConnectionLost
	case errors.As(err, &opErr):
		return TransportConnectionLost
	case strings.Contains(err.Error(), "unsupported protocol scheme"):
		return TransportUnsupportedScheme
	case strings.Contains(err.Error(), "no Host in request URL"), strings.Contains(err.Error(), "invalid URL"):
		return TransportBadURL
	default:
		return TransportUnknown
	}
}

// TransportOutcome returns a transport-class outcome for the code. If err is
// non-nil, its message is included in the description.
func TransportOutcome(code TransportCode, err error) *Outcome {
	desc := code.String()
	if err != nil {
		desc = fmt.Sprintf("%s: %v", desc, err)
	}
	return &Outcome{Class: ClassTransport, Code: int(code), Description: desc}
}

// TransportError classifies err and returns the corresponding outcome, or nil
// if err is nil.
func TransportError(err error) *Outcome {
	if err == nil {
		return nil
	}
	return TransportOutcome(ClassifyTransportError(err), err)
}
