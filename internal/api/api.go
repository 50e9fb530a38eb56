// Package api exposes the section engines to kiosk clients over local HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/op/go-logging"

	"github.com/Tiliavir/shiftq/internal/engine"
	"github.com/Tiliavir/shiftq/internal/model"
	"github.com/Tiliavir/shiftq/internal/submit"
	"github.com/Tiliavir/shiftq/internal/timecalc"
)

var log = logging.MustGetLogger("log")

// Status values reported for a submitted action.
const (
	StatusDelivered = "delivered"
	StatusQueued    = "queued"
	StatusDuplicate = "duplicate"
	StatusFailed    = "failed"
)

// ActionResponse is the body returned for a submitted action.
type ActionResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type server struct {
	engines *engine.Registry
	now     func() time.Time
}

// NewHandler returns the router serving every section of engines.
func NewHandler(engines *engine.Registry) http.Handler {
	s := &server{engines: engines, now: time.Now}

	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			log.Infof("%s %s -> %d (%s)", request.Method, request.URL, m.Code, m.Duration)
		})
	})

	r.Methods(http.MethodPost).Path("/sections/{section}/actions").HandlerFunc(s.postAction)
	r.Methods(http.MethodGet).Path("/sections/{section}/sessions").HandlerFunc(s.getSessions)
	r.Methods(http.MethodGet).Path("/sections/{section}/queue").HandlerFunc(s.getQueue)
	r.Methods(http.MethodPost).Path("/sections/{section}/events/{event:reconnect|foreground|restore}").HandlerFunc(s.postEvent)
	return r
}

func (s *server) section(writer http.ResponseWriter, request *http.Request) (*engine.Engine, bool) {
	e, err := s.engines.Get(mux.Vars(request)["section"])
	if err != nil {
		writeJSON(writer, http.StatusNotFound, ActionResponse{Status: StatusFailed, Error: err.Error()})
		return nil, false
	}
	return e, true
}

func (s *server) postAction(writer http.ResponseWriter, request *http.Request) {
	e, ok := s.section(writer, request)
	if !ok {
		return
	}
	var a model.Action
	if err := json.NewDecoder(request.Body).Decode(&a); err != nil {
		writeJSON(writer, http.StatusBadRequest, ActionResponse{Status: StatusFailed, Error: "invalid json: " + err.Error()})
		return
	}
	if a.ClockTime == "" {
		a.ClockTime = timecalc.ClockTime(s.now())
	}

	p, accepted, err := e.Submit(request.Context(), a, engine.Callbacks{})
	if err != nil {
		writeJSON(writer, http.StatusBadRequest, ActionResponse{Status: StatusFailed, Error: err.Error()})
		return
	}
	if !accepted {
		writeJSON(writer, http.StatusConflict, ActionResponse{Status: StatusDuplicate})
		return
	}
	res, err := p.Wait(request.Context())
	if err != nil {
		// The client went away; the submission still completes.
		return
	}
	status, body := actionResponse(res)
	writeJSON(writer, status, body)
}

func actionResponse(res submit.Result) (int, ActionResponse) {
	switch {
	case res.Delivered:
		return http.StatusOK, ActionResponse{Status: StatusDelivered}
	case res.Queued:
		return http.StatusAccepted, ActionResponse{Status: StatusQueued}
	case errors.Is(res.Err, submit.ErrDuplicateInFlight):
		return http.StatusConflict, ActionResponse{Status: StatusDuplicate}
	default:
		return http.StatusBadGateway, ActionResponse{Status: StatusFailed, Error: res.Err.Error()}
	}
}

func (s *server) getSessions(writer http.ResponseWriter, request *http.Request) {
	e, ok := s.section(writer, request)
	if !ok {
		return
	}
	writeJSON(writer, http.StatusOK, model.SessionList{OK: true, Sessions: e.Sessions().Sessions()})
}

func (s *server) getQueue(writer http.ResponseWriter, request *http.Request) {
	e, ok := s.section(writer, request)
	if !ok {
		return
	}
	writeJSON(writer, http.StatusOK, e.Pending())
}

func (s *server) postEvent(writer http.ResponseWriter, request *http.Request) {
	e, ok := s.section(writer, request)
	if !ok {
		return
	}
	switch mux.Vars(request)["event"] {
	case "reconnect":
		e.Reconnected()
	case "foreground":
		e.Foregrounded()
	case "restore":
		e.Restored()
	}
	writer.WriteHeader(http.StatusNoContent)
}

func writeJSON(writer http.ResponseWriter, status int, v any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		log.Errorf("failed to write response: %v", err)
	}
}
