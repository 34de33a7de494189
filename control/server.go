// Package control exposes the operator HTTP surface: circuit breaker
// switches, blocked symbol management, parameter reload and the
// portfolio/health read endpoints.
package control

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/gatekeeper/ledger"
	"github.com/rustyeddy/gatekeeper/metrics"
	"github.com/rustyeddy/gatekeeper/risk"
	"github.com/rustyeddy/gatekeeper/supervisor"
)

type Server struct {
	ledger *ledger.Ledger
	params *risk.ParamStore
	super  *supervisor.Supervisor
	router *mux.Router
}

func New(l *ledger.Ledger, params *risk.ParamStore, super *supervisor.Supervisor) *Server {
	s := &Server{
		ledger: l,
		params: params,
		super:  super,
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(logRequests)

	s.router.HandleFunc("/emergency/stop", s.handleEmergencyStop).Methods("POST")
	s.router.HandleFunc("/emergency/resume", s.handleEmergencyResume).Methods("POST")
	s.router.HandleFunc("/symbols/blocked", s.handleBlockedSymbols).Methods("PUT")
	s.router.HandleFunc("/params/reload", s.handleReloadParams).Methods("POST")
	s.router.HandleFunc("/params", s.handleGetParams).Methods("GET")
	s.router.HandleFunc("/portfolio", s.handlePortfolio).Methods("GET")
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("control request")
	})
}

type stopRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = "operator request"
	}

	s.super.EmergencyStop(req.Reason)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "reason": req.Reason})
}

func (s *Server) handleEmergencyResume(w http.ResponseWriter, r *http.Request) {
	s.super.EmergencyResume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

type blockedRequest struct {
	Symbols []string `json:"symbols"`
}

func (s *Server) handleBlockedSymbols(w http.ResponseWriter, r *http.Request) {
	var req blockedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.super.SetBlockedSymbols(req.Symbols)
	writeJSON(w, http.StatusOK, map[string]any{"blocked": req.Symbols})
}

func (s *Server) handleReloadParams(w http.ResponseWriter, r *http.Request) {
	var p risk.Params
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.super.ReloadParams(p); err != nil {
		// The prior parameter set stays active on rejection.
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": p.Version})
}

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.params.Current())
}

type portfolioResponse struct {
	TotalValue         float64 `json:"total_value"`
	AvailableCash      float64 `json:"available_cash"`
	UnrealizedPnL      float64 `json:"unrealized_pnl"`
	RealizedPnLToday   float64 `json:"realized_pnl_today"`
	TotalRiskExposure  float64 `json:"total_risk_exposure"`
	PositionCount      int     `json:"position_count"`
	LargestPositionPct float64 `json:"largest_position_pct"`
	EmergencyStop      bool    `json:"emergency_stop"`
	DailyLossTriggered bool    `json:"daily_loss_triggered"`
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	snap := s.ledger.Snapshot()
	writeJSON(w, http.StatusOK, portfolioResponse{
		TotalValue:         snap.TotalValue,
		AvailableCash:      snap.AvailableCash,
		UnrealizedPnL:      snap.UnrealizedPnL,
		RealizedPnLToday:   snap.RealizedPnLToday,
		TotalRiskExposure:  snap.TotalRiskExposure,
		PositionCount:      snap.PositionCount,
		LargestPositionPct: snap.LargestPositionPct,
		EmergencyStop:      snap.Breakers.EmergencyStop,
		DailyLossTriggered: snap.Breakers.DailyLossTriggered,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ledger.Halted() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "halted"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode control response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
