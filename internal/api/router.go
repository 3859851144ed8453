package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/atlasterm/ezod/ezo"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// Stamp is the device side used by the HTTP API
type Stamp interface {
	Properties() ezo.Properties
	Stats() ezo.Stats
	Do(op ezo.Op, arg string) error
	Calibrate(ctx context.Context, stage ezo.CalStage) (ezo.CalState, error)
	CalibrateOrp(ctx context.Context, ref float64) (ezo.CalState, error)
	SetLED(ctx context.Context, on bool) (bool, error)
}

// Version is reported by GET /version
type Version struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
}

type server struct {
	stamp   Stamp
	version Version
	timeout time.Duration
}

// NewRouter returns the HTTP API for stamp. Requests waiting for the stamp
// give up after timeout.
func NewRouter(stamp Stamp, version Version, timeout time.Duration) *mux.Router {
	s := &server{stamp: stamp, version: version, timeout: timeout}

	router := mux.NewRouter()
	router.HandleFunc("/version", s.versionInfo).Methods("GET")
	router.HandleFunc("/properties", s.getProperties).Methods("GET")
	router.HandleFunc("/stats", s.getStats).Methods("GET")
	router.HandleFunc("/command/{op}", s.postCommand).Methods("POST")
	router.HandleFunc("/calibrate/orp", s.postCalibrateOrp).Methods("POST")
	router.HandleFunc("/calibrate/{stage}", s.postCalibrate).Methods("POST")
	router.HandleFunc("/led", s.postLED).Methods("POST")
	return router
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	e := json.NewEncoder(w)
	e.SetIndent("", "    ")
	if err := e.Encode(v); err != nil {
		log.Errorf("Encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ezo.ErrUnknownOperation):
		status = http.StatusNotFound
	case errors.Is(err, ezo.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, ezo.ErrNotConnected):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ezo.ErrRejected):
		status = http.StatusBadGateway
	case errors.Is(err, ezo.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.WriteHeader(status)
	w.Write([]byte(err.Error()))
}

func (s *server) versionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.version)
}

func (s *server) getProperties(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stamp.Properties())
}

func (s *server) getStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stamp.Stats())
}

// argument decodes an optional JSON string, number or bool from the body
func argument(r *http.Request) (string, error) {
	var val interface{}
	err := json.NewDecoder(r.Body).Decode(&val)
	if err == io.EOF {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("request body: %v: %w", err, ezo.ErrInvalidArgument)
	}
	switch v := val.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	}
	return "", fmt.Errorf("request body must be a string, number or bool: %w", ezo.ErrInvalidArgument)
}

func (s *server) postCommand(w http.ResponseWriter, r *http.Request) {
	op := ezo.Op(mux.Vars(r)["op"])
	arg, err := argument(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.stamp.Do(op, arg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "OK")
}

func (s *server) postCalibrate(w http.ResponseWriter, r *http.Request) {
	stage, err := ezo.ParseCalStage(mux.Vars(r)["stage"])
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	state, err := s.stamp.Calibrate(ctx, stage)
	writeCalState(w, state, err)
}

// postCalibrateOrp takes the reference solution in mV as a JSON number
func (s *server) postCalibrateOrp(w http.ResponseWriter, r *http.Request) {
	arg, err := argument(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ref, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		writeError(w, fmt.Errorf("ORP reference %q: %w", arg, ezo.ErrInvalidArgument))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	state, err := s.stamp.CalibrateOrp(ctx, ref)
	writeCalState(w, state, err)
}

func writeCalState(w http.ResponseWriter, state ezo.CalState, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		State ezo.CalState `json:"calibration_state"`
		Name  string       `json:"name"`
	}{state, state.String()})
}

// postLED takes the wanted LED state as a JSON bool and returns the state read back
func (s *server) postLED(w http.ResponseWriter, r *http.Request) {
	arg, err := argument(r)
	if err != nil {
		writeError(w, err)
		return
	}
	on, err := strconv.ParseBool(arg)
	if err != nil {
		writeError(w, fmt.Errorf("LED state %q: %w", arg, ezo.ErrInvalidArgument))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	on, err = s.stamp.SetLED(ctx, on)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		LedOn bool `json:"led_on"`
	}{on})
}
