// Package api serves point state and write requests over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/tetragramaton/smh-modbus/internal/dispatch"
	"github.com/tetragramaton/smh-modbus/internal/point"
)

// PointService is what the API needs from the write dispatcher.
type PointService interface {
	Points() []*point.RegisterPoint
	Point(name string) (*point.RegisterPoint, bool)
	RequestWrite(ctx context.Context, name, desired string) error
}

type PointView struct {
	Name      string      `json:"name"`
	State     point.Value `json:"state"`
	Unit      string      `json:"unit,omitempty"`
	Icon      string      `json:"icon,omitempty"`
	Writable  bool        `json:"writable"`
	Options   []string    `json:"options,omitempty"`
	Kind      string      `json:"input_type"`
	Address   uint16      `json:"address"`
	DataType  string      `json:"data_type"`
	Phase     string      `json:"phase"`
	LastError string      `json:"last_error,omitempty"`
	Updated   *time.Time  `json:"updated,omitempty"`
}

func NewPointView(p *point.RegisterPoint) PointView {
	st := p.Status()
	v := PointView{
		Name:      p.Name,
		State:     st.State,
		Unit:      p.Unit,
		Icon:      p.Icon,
		Writable:  p.Writable,
		Kind:      p.Kind.String(),
		Address:   p.Address,
		DataType:  p.DataType.String(),
		Phase:     st.Phase.String(),
		LastError: st.LastError,
	}
	if p.ValueMap.Len() > 0 {
		v.Options = p.ValueMap.Labels()
	}
	if !st.Updated.IsZero() {
		u := st.Updated
		v.Updated = &u
	}
	return v
}

type writeRequest struct {
	Value json.RawMessage `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	router *mux.Router
	svc    PointService
	logger zerolog.Logger
}

// New registers the routes. metrics may be nil.
func New(svc PointService, metrics http.Handler, logger zerolog.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		svc:    svc,
		logger: logger.With().Str("component", "api").Logger(),
	}
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/points", s.listPoints).Methods(http.MethodGet)
	api.HandleFunc("/points/{name}", s.getPoint).Methods(http.MethodGet)
	api.HandleFunc("/points/{name}", s.writePoint).Methods(http.MethodPut)
	if metrics != nil {
		s.router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks until ctx is done or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) listPoints(w http.ResponseWriter, _ *http.Request) {
	points := s.svc.Points()
	out := make([]PointView, 0, len(points))
	for _, p := range points {
		out = append(out, NewPointView(p))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) getPoint(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	p, ok := s.svc.Point(name)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown point " + strconv.Quote(name)})
		return
	}
	s.writeJSON(w, http.StatusOK, NewPointView(p))
}

func (s *Server) writePoint(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req writeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON: " + err.Error()})
		return
	}
	desired, err := desiredValue(req.Value)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := s.svc.RequestWrite(r.Context(), name, desired); err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Warn().Err(err).Str("point", name).Msg("write request failed")
		}
		s.writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// desiredValue accepts a JSON string (label or number) or a JSON number.
func desiredValue(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New(`missing "value"`)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", errors.New(`"value" must be a string or a number`)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrUnknownPoint):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrNotWritable):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrDeviceFailure):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("write response")
	}
}
