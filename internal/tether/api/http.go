// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api exposes the tether orchestrator over two transports: a
// gorilla/mux JSON HTTP API for CLI and UI callers, and a gRPC service
// (over a JSON codec rather than protobuf, see codec.go) for callers that
// want a typed, streaming-capable client. Both wrap the same Orchestrator.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"grimm.is/tetherd/internal/logging"
	"grimm.is/tetherd/internal/tether"
)

// HTTPHandlers implements the JSON HTTP surface over an Orchestrator.
type HTTPHandlers struct {
	orch *tether.Orchestrator
	log  *logging.Logger
}

// NewHTTPHandlers returns handlers wired to orch.
func NewHTTPHandlers(orch *tether.Orchestrator, log *logging.Logger) *HTTPHandlers {
	return &HTTPHandlers{orch: orch, log: log.WithComponent("api-http")}
}

// Router builds the gorilla/mux router, including /metrics.
func (h *HTTPHandlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/tether/start", h.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/v1/tether/stop", h.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/v1/tether/{iface}/on", h.handleTether).Methods(http.MethodPost)
	r.HandleFunc("/v1/tether/{iface}/off", h.handleUntether).Methods(http.MethodPost)
	r.HandleFunc("/v1/status", h.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/errors/clear", h.handleClearErrors).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (h *HTTPHandlers) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartTetheringRequest
	if !h.decode(w, r, &req) {
		return
	}
	sink := newChanSink()
	h.orch.StartTethering(r.Context(), parseInterfaceType(req.Type), sink, req.ShowUI)

	select {
	case code := <-sink.ch:
		h.writeJSON(w, StartTetheringResponse{Code: code.String()})
	case <-time.After(resultTimeout):
		h.writeJSON(w, StartTetheringResponse{Code: tether.ServiceUnavail.String()})
	}
}

func (h *HTTPHandlers) handleStop(w http.ResponseWriter, r *http.Request) {
	var req StopTetheringRequest
	if !h.decode(w, r, &req) {
		return
	}
	code := h.orch.StopTethering(r.Context(), parseInterfaceType(req.Type))
	h.writeJSON(w, StopTetheringResponse{Code: code.String()})
}

func (h *HTTPHandlers) handleTether(w http.ResponseWriter, r *http.Request) {
	iface := mux.Vars(r)["iface"]
	h.writeJSON(w, TetherResponse{Code: h.orch.Tether(iface).String()})
}

func (h *HTTPHandlers) handleUntether(w http.ResponseWriter, r *http.Request) {
	iface := mux.Vars(r)["iface"]
	h.writeJSON(w, UntetherResponse{Code: h.orch.Untether(iface).String()})
}

func (h *HTTPHandlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Tethered:   h.orch.GetTetheredIfaces(),
		Tetherable: h.orch.GetTetherableIfaces(),
		Errored:    h.orch.GetErroredIfaces(),
	}
	if len(resp.Errored) > 0 {
		resp.Errors = make(map[string]string, len(resp.Errored))
		for _, iface := range resp.Errored {
			resp.Errors[iface] = h.orch.GetLastTetherError(iface).String()
		}
	}
	h.writeJSON(w, resp)
}

func (h *HTTPHandlers) handleClearErrors(w http.ResponseWriter, r *http.Request) {
	h.orch.ClearErrors()
	h.writeJSON(w, ClearErrorsResponse{})
}

func (h *HTTPHandlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err.Error() != "EOF" {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *HTTPHandlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("encode response failed", "error", err)
	}
}

// Server bundles the HTTP and gRPC listeners behind a single lifecycle.
type Server struct {
	httpSrv *http.Server
	grpcSrv *grpc.Server
	grpcLis net.Listener
	log     *logging.Logger
}

// ServerConfig names the two listen addresses. Either may be empty to
// disable that transport.
type ServerConfig struct {
	HTTPAddr string
	GRPCAddr string
}

// NewServer builds a Server exposing orch over both transports per cfg.
func NewServer(cfg ServerConfig, orch *tether.Orchestrator, log *logging.Logger) (*Server, error) {
	s := &Server{log: log.WithComponent("api")}

	if cfg.HTTPAddr != "" {
		h := NewHTTPHandlers(orch, log)
		s.httpSrv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           h.Router(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return nil, err
		}
		s.grpcLis = lis
		s.grpcSrv = grpc.NewServer()
		RegisterTetherServer(s.grpcSrv, NewGRPCServer(orch))
	}

	return s, nil
}

// Start begins serving both transports in background goroutines.
func (s *Server) Start() {
	if s.httpSrv != nil {
		go func() {
			if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Error("http server exited", "error", err)
			}
		}()
	}
	if s.grpcSrv != nil {
		go func() {
			if err := s.grpcSrv.Serve(s.grpcLis); err != nil {
				s.log.Error("grpc server exited", "error", err)
			}
		}()
	}
}

// Stop gracefully shuts down both transports.
func (s *Server) Stop(ctx context.Context) {
	if s.httpSrv != nil {
		_ = s.httpSrv.Shutdown(ctx)
	}
	if s.grpcSrv != nil {
		s.grpcSrv.GracefulStop()
	}
}
