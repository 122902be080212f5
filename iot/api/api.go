// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package api is the HTTP surface of the gateway.

Client routes

	GET  /status                            current device state
	POST /fan, /pump, /buzzer, /relay, /led  {"state": bool}
	POST /servo                             {"angle": number}

Device routes

	POST /esp/status    partial device state
	GET  /esp/commands  pending commands, the queue is emptied

Any path with an "Upgrade: websocket" header is served by the hub. OPTIONS is
answered on every path, all responses carry open CORS headers, and everything
else is a JSON 404.
*/
package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/espgate/core/logger"
	"github.com/relabs-tech/espgate/core/metrics"
	"github.com/relabs-tech/espgate/iot/control"
	"github.com/relabs-tech/espgate/iot/state"
)

// Version is the version of the current build
var Version = "unset"

// Builder is a builder helper for the Service
type Builder struct {
	// Router is mandatory
	Router *mux.Router
	// Controller is mandatory
	Controller *control.Controller
	// WebSocket serves upgrade requests. Without it upgrade requests are routed like any other.
	WebSocket http.Handler
}

// Service is the REST interface of the gateway
type Service struct {
	router     *mux.Router
	controller *control.Controller
}

// MustNewAPI creates the service and adds its routes to the router
func MustNewAPI(b *Builder) *Service {
	if b.Router == nil {
		panic("Router is missing")
	}
	if b.Controller == nil {
		panic("Controller is missing")
	}
	s := &Service{
		router:     b.Router,
		controller: b.Controller,
	}

	s.router.Use(cors)
	s.router.NotFoundHandler = cors(http.HandlerFunc(notFound))
	s.router.MethodNotAllowedHandler = cors(http.HandlerFunc(notFound))

	if b.WebSocket != nil {
		logger.Default().Debugln("  handle websocket upgrades on any path")
		s.router.MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
			return websocket.IsWebSocketUpgrade(r)
		}).Handler(b.WebSocket)
	}

	s.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Debugln("called route for", r.URL, r.Method)
		w.WriteHeader(http.StatusOK)
	})

	s.handleRoutes()
	return s
}

func (s *Service) handleRoutes() {
	logger.Default().Debugln("  handle route: /status GET")
	s.router.Handle("/status", handlers.CompressHandler(http.HandlerFunc(s.status))).Methods(http.MethodGet)

	logger.Default().Debugln("  handle route: /esp/status POST")
	s.router.HandleFunc("/esp/status", s.deviceStatus).Methods(http.MethodPost)

	logger.Default().Debugln("  handle route: /esp/commands GET")
	s.router.HandleFunc("/esp/commands", s.deviceCommands).Methods(http.MethodGet)

	for _, field := range state.Switches {
		field := field
		logger.Default().Debugf("  handle route: /%s POST", field)
		s.router.HandleFunc("/"+field, func(w http.ResponseWriter, r *http.Request) {
			s.setSwitch(w, r, field)
		}).Methods(http.MethodPost)
	}

	logger.Default().Debugln("  handle route: /servo POST")
	s.router.HandleFunc("/servo", s.setServo).Methods(http.MethodPost)

	logger.Default().Debugln("  handle route: /version GET")
	s.router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"version": Version})
	}).Methods(http.MethodGet)

	logger.Default().Debugln("  handle route: /metrics GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

func (s *Service) status(w http.ResponseWriter, r *http.Request) {
	logger.FromContext(r.Context()).Debugln("called route for", r.URL, r.Method)
	body, err := s.controller.Store().Get().JSON()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondRaw(w, http.StatusOK, body)
}

func (s *Service) deviceStatus(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	rlog.Debugln("called route for", r.URL, r.Method)
	report, ok := decodeBody(w, r)
	if !ok {
		metrics.InvalidReports.Inc()
		return
	}
	s.controller.Report(r.Context(), metrics.OriginDevice, report)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Service) deviceCommands(w http.ResponseWriter, r *http.Request) {
	logger.FromContext(r.Context()).Debugln("called route for", r.URL, r.Method)
	respondJSON(w, http.StatusOK, s.controller.DrainCommands(r.Context()))
}

func (s *Service) setSwitch(w http.ResponseWriter, r *http.Request, field string) {
	logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	on, err := s.controller.SetSwitch(r.Context(), metrics.OriginClient, field, body["state"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondRaw(w, http.StatusOK, []byte(`{"success":true,"`+field+`":`+strconv.FormatBool(on)+`}`))
}

func (s *Service) setServo(w http.ResponseWriter, r *http.Request) {
	logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	angle, _ := s.controller.SetServo(r.Context(), metrics.OriginClient, body["angle"])
	respondJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		Servo   int  `json:"servo"`
	}{true, angle})
}

// decodeBody reads the request body as JSON object. On failure it answers
// 400 and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]interface{}, bool) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, control.ErrInvalidJSON.Error())
		return nil, false
	}
	body, err := control.DecodeObject(data)
	if err != nil {
		logger.FromContext(r.Context()).Warnf("invalid body for %s: %s", r.URL.Path, data)
		respondError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return body, true
}

func notFound(w http.ResponseWriter, r *http.Request) {
	logger.Default().Debugln("no route for", r.URL, r.Method)
	respondError(w, http.StatusNotFound, "Not Found")
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondRaw(w, status, body)
}

func respondRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	body, _ := json.Marshal(map[string]string{"error": message})
	respondRaw(w, status, body)
}
