package netlogweb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bernerdschaefer/eventsource"
	"github.com/peterbourgon/netlog"
	"github.com/peterbourgon/netlog/internal/netlogutil"
	"github.com/rs/zerolog"
)

// Stream event types.
const (
	EventTypeInit   = "init"
	EventTypeRecord = "record"
	EventTypeStats  = "stats"
)

type streamServer struct {
	engine *netlog.Engine
	logger zerolog.Logger
}

// ServeHTTP implements [http.Handler]. Requests must Accept: text/event-stream.
func (s *streamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !RequestExplicitlyAccepts(r, "text/event-stream") {
		err := badRequest("invalid request Accept header (%s)", r.Header.Get("accept"))
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	f := parseFilter(r)
	if errs := f.Normalize(); len(errs) > 0 {
		respondError(w, r, badRequest("%s", netlogutil.JoinErrors(errs...)), http.StatusBadRequest)
		return
	}

	var (
		stats   = parseDefault(r.URL.Query().Get("stats"), time.ParseDuration, 10*time.Second)
		sendbuf = parseRange(r.URL.Query().Get("sendbuf"), strconv.Atoi, 0, 100, 100000)
		recordc = make(chan netlog.Record, sendbuf)
		donec   = make(chan struct{})
		logger  = s.logger.With().Stringer("filter", f).Logger()
	)

	if stats < time.Second {
		stats = time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		stats, err := s.engine.Subscribe(ctx, f, recordc)
		logger.Debug().Stringer("stats", stats).Err(err).Msg("stream done")
		close(donec)
	}()
	defer func() {
		cancel()
		<-donec
	}()

	// Don't send init until the subscription is registered, so that clients
	// can rely on receiving every update after init.
	for {
		if _, err := s.engine.SubscribeStats(recordc); err == nil {
			break
		}
		select {
		case <-donec:
			respondError(w, r, fmt.Errorf("subscription failed"), http.StatusInternalServerError)
			return
		case <-time.After(time.Millisecond):
		}
	}

	eventsource.Handler(func(lastId string, encoder *eventsource.Encoder, stop <-chan bool) {
		logger.Debug().Int("sendbuf", sendbuf).Stringer("stats", stats).Msg("stream started")

		ticker := time.NewTicker(stats)
		defer ticker.Stop()

		initc := make(chan struct{}, 1)
		initc <- struct{}{}

		encode := func(eventType string, v any) {
			data, err := json.Marshal(v)
			if err != nil {
				logger.Debug().Err(err).Str("type", eventType).Msg("JSON marshal")
				return
			}
			if err := encoder.Encode(eventsource.Event{Type: eventType, Data: data}); err != nil {
				logger.Debug().Err(err).Str("type", eventType).Msg("encode event")
			}
		}

		for {
			select {
			case <-initc:
				encode(EventTypeInit, map[string]any{
					"filter":  f,
					"sendbuf": cap(recordc),
				})

			case <-ticker.C:
				stats, err := s.engine.SubscribeStats(recordc)
				if err != nil {
					logger.Debug().Err(err).Msg("get stats")
					continue
				}
				encode(EventTypeStats, stats)

			case rec := <-recordc:
				encode(EventTypeRecord, rec)

			case <-donec:
				return

			case <-stop:
				cancel()
				return

			case <-ctx.Done():
				return
			}
		}
	}).ServeHTTP(w, r)
}

//
//
//

// StreamClient streams record updates from a server.
type StreamClient struct {
	// URI of the remote stream endpoint, e.g. localhost:8080/stream.
	// Required.
	URI string

	// SendBuffer used by the remote stream server. Min 0, max 100k.
	SendBuffer int

	// OnRead is called for every stream event received by the client.
	// Implementations must not block and must not modify event data.
	OnRead func(ctx context.Context, eventType string, eventData []byte)

	// RetryInterval between reconnect attempts. Default 3s, min 1s, max 60s.
	RetryInterval time.Duration

	// StatsInterval for stream stats updates. Default 10s, min 1s, max 60s.
	StatsInterval time.Duration

	// Logger for diagnostics. Optional.
	Logger *zerolog.Logger
}

func (c *StreamClient) initialize() {
	if c.URI != "" && !strings.HasPrefix(c.URI, "http") {
		c.URI = "http://" + c.URI
	}

	if min, max := 0, 100000; c.SendBuffer < min {
		c.SendBuffer = min
	} else if c.SendBuffer > max {
		c.SendBuffer = max
	}

	if c.OnRead == nil {
		c.OnRead = func(ctx context.Context, eventType string, eventData []byte) {}
	}

	if def, min, max := 3*time.Second, 1*time.Second, 60*time.Second; c.RetryInterval == 0 {
		c.RetryInterval = def
	} else if c.RetryInterval < min {
		c.RetryInterval = min
	} else if c.RetryInterval > max {
		c.RetryInterval = max
	}

	if def, min, max := 10*time.Second, 1*time.Second, 60*time.Second; c.StatsInterval == 0 {
		c.StatsInterval = def
	} else if c.StatsInterval < min {
		c.StatsInterval = min
	} else if c.StatsInterval > max {
		c.StatsInterval = max
	}

	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
}

var errRecoverable = errors.New("recoverable")

// connect issues a stream request bound to ctx. Server errors and transport
// failures wrap errRecoverable; 204 No Content maps to eventsource.ErrClosed.
func (c *StreamClient) connect(ctx context.Context, uri, lastEventID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", uri, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastEventID != "" {
		req.Header.Set("Last-Event-Id", lastEventID)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errRecoverable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", errRecoverable, resp.Status)
	case resp.StatusCode == http.StatusNoContent:
		resp.Body.Close()
		return nil, eventsource.ErrClosed
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("endpoint returned unrecoverable status %q", resp.Status)
	}

	if mediatype, _, _ := mime.ParseMediaType(resp.Header.Get("content-type")); mediatype != "text/event-stream" {
		resp.Body.Close()
		return nil, fmt.Errorf("invalid content type %q", resp.Header.Get("content-type"))
	}

	return resp.Body, nil
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// NewStreamClient constructs a stream client connecting to the provided URI.
func NewStreamClient(uri string) *StreamClient {
	c := &StreamClient{
		URI: uri,
	}
	c.initialize()
	return c
}

// Stream record updates from the remote server, filtered by the provided
// filter, to the provided channel. The stream stops when the context is
// canceled, or a non-recoverable error occurs.
func (c *StreamClient) Stream(ctx context.Context, f netlog.RecordFilter, ch chan<- netlog.Record) error {
	c.initialize()

	logger := c.Logger.With().Str("uri", c.URI).Logger()

	var uri string
	{
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("parse URI: %w", err)
		}

		query := u.Query()
		if c.SendBuffer > 0 {
			query.Set("sendbuf", strconv.Itoa(c.SendBuffer))
		}
		if c.StatsInterval > 0 {
			query.Set("stats", c.StatsInterval.String())
		}
		encodeFilter(f, query)
		u.RawQuery = query.Encode()

		uri = u.String()
	}

	// The connection is managed here rather than by eventsource.EventSource,
	// whose Close can't be called concurrently with Read. Request contexts
	// tie every blocking read to ctx, and the decoder is only ever touched
	// by this goroutine.
	var (
		body        io.ReadCloser
		dec         *eventsource.Decoder
		lastEventID string
	)
	defer func() {
		if body != nil {
			body.Close()
		}
	}()

	for {
		if body == nil {
			rc, err := c.connect(ctx, uri, lastEventID)
			switch {
			case ctx.Err() != nil:
				logger.Debug().Msg("connection closed")
				return nil
			case errors.Is(err, eventsource.ErrClosed):
				logger.Debug().Err(err).Msg("connection closed by server")
				return nil
			case errors.Is(err, errRecoverable):
				logger.Debug().Err(err).Dur("retry", c.RetryInterval).Msg("reconnecting")
				if !sleepContext(ctx, c.RetryInterval) {
					return nil
				}
				continue
			case err != nil:
				return err
			}
			body, dec = rc, eventsource.NewDecoder(rc)
		}

		var ev eventsource.Event
		err := dec.Decode(&ev)
		switch {
		case ctx.Err() != nil:
			logger.Debug().Msg("connection closed")
			return nil
		case errors.Is(err, eventsource.ErrInvalidEncoding):
			continue
		case err != nil:
			logger.Debug().Err(err).Dur("retry", c.RetryInterval).Msg("stream interrupted, reconnecting")
			body.Close()
			body, dec = nil, nil
			if !sleepContext(ctx, c.RetryInterval) {
				return nil
			}
			continue
		case len(ev.Data) == 0:
			continue
		}

		if ev.ID != "" || ev.ResetID {
			lastEventID = ev.ID
		}

		c.OnRead(ctx, ev.Type, ev.Data)

		switch ev.Type {
		case EventTypeInit:
			logger.Debug().RawJSON("init", ev.Data).Msg("stream initialized")

		case EventTypeRecord:
			var rec netlog.Record
			if err := json.Unmarshal(ev.Data, &rec); err != nil {
				return fmt.Errorf("decode record event: %w", err)
			}
			select {
			case <-ctx.Done():
				logger.Debug().Msg("emit record: context done")
			case ch <- rec:
				// OK
			}

		case EventTypeStats:
			logger.Debug().RawJSON("stats", ev.Data).Msg("stream stats")

		default:
			logger.Debug().Str("type", ev.Type).Msg("unknown event type")
		}
	}
}
