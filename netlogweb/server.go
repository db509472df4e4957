// Package netlogweb provides an HTTP interface to the live and persisted
// records of an engine.
package netlogweb

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/peterbourgon/netlog"
	"github.com/peterbourgon/netlog/internal/netlogutil"
	"github.com/rs/zerolog"
)

// Server exposes an engine over HTTP. All responses are JSON, except the
// record stream, which is server-sent events.
//
//	GET    /records               live records, filtered by query params
//	GET    /records/{id}          one live record
//	POST   /records/{id}/persist  persist a live record
//	DELETE /records/{id}/persist  remove a persisted record
//	GET    /events                the diagnostic trail
//	POST   /clear                 clear live records and the trail
//	GET    /persisted             persisted records
//	GET    /stream                stream record updates (text/event-stream)
//
// Record filters are given as query params: id (repeatable), active,
// finished, success, errored, min (duration), and q (regexp).
type Server struct {
	engine *netlog.Engine
	logger zerolog.Logger
	mux    *http.ServeMux
}

// NewServer returns a server for the engine. The logger is optional.
func NewServer(engine *netlog.Engine, logger *zerolog.Logger) *Server {
	s := &Server{
		engine: engine,
		logger: zerolog.Nop(),
		mux:    http.NewServeMux(),
	}

	if logger != nil {
		s.logger = logger.With().Str("component", "web").Logger()
	}

	s.mux.HandleFunc("GET /records", s.handleRecords)
	s.mux.HandleFunc("GET /records/{id}", s.handleRecord)
	s.mux.HandleFunc("POST /records/{id}/persist", s.handlePersist)
	s.mux.HandleFunc("DELETE /records/{id}/persist", s.handleUnpersist)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("POST /clear", s.handleClear)
	s.mux.HandleFunc("GET /persisted", s.handlePersisted)
	s.mux.Handle("GET /stream", &streamServer{engine: engine, logger: s.logger})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
	s.mux.ServeHTTP(w, r)
}

// RecordsData is the response to GET /records.
type RecordsData struct {
	Filter  netlog.RecordFilter `json:"filter"`
	Total   int                 `json:"total"`
	Matched int                 `json:"matched"`
	Records []netlog.Record     `json:"records"`
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	f := parseFilter(r)
	if errs := f.Normalize(); len(errs) > 0 {
		respondError(w, r, badRequest("%s", netlogutil.JoinErrors(errs...)), http.StatusBadRequest)
		return
	}

	all := s.engine.Records()
	data := RecordsData{
		Filter:  f,
		Total:   len(all),
		Records: []netlog.Record{},
	}
	for _, rec := range all {
		if f.Allow(rec) {
			data.Records = append(data.Records, rec)
		}
	}
	data.Matched = len(data.Records)

	respondJSON(w, r, http.StatusOK, data)
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	id := netlog.ID(r.PathValue("id"))
	rec, ok := s.engine.Record(id)
	if !ok {
		respondError(w, r, fmt.Errorf("record %s not found", id), http.StatusNotFound)
		return
	}
	respondJSON(w, r, http.StatusOK, rec)
}

func (s *Server) handlePersist(w http.ResponseWriter, r *http.Request) {
	id := netlog.ID(r.PathValue("id"))
	rec, ok := s.engine.Record(id)
	if !ok {
		respondError(w, r, fmt.Errorf("record %s not found", id), http.StatusNotFound)
		return
	}

	if err := s.engine.Persist(rec); err != nil {
		respondError(w, r, err, persistErrorCode(err))
		return
	}

	respondJSON(w, r, http.StatusOK, rec)
}

func (s *Server) handleUnpersist(w http.ResponseWriter, r *http.Request) {
	id := netlog.ID(r.PathValue("id"))

	rec, ok := findRecord(s.engine.Persisted(), id)
	if !ok {
		rec, ok = s.engine.Record(id)
	}
	if !ok {
		rec = netlog.Record{ID: id} // removal is keyed by ID only
	}

	if err := s.engine.Unpersist(rec); err != nil {
		respondError(w, r, err, persistErrorCode(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, map[string]any{
		"events": s.engine.Events(),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.engine.Clear()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePersisted(w http.ResponseWriter, r *http.Request) {
	records := s.engine.Persisted()
	if records == nil {
		records = []netlog.Record{}
	}
	respondJSON(w, r, http.StatusOK, map[string]any{
		"records": records,
	})
}

func findRecord(records []netlog.Record, id netlog.ID) (netlog.Record, bool) {
	for _, r := range records {
		if r.ID == id {
			return r, true
		}
	}
	return netlog.Record{}, false
}

func persistErrorCode(err error) int {
	if errors.Is(err, netlog.ErrNoPersister) {
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}
