// Package transport exposes the HTTP order API and the websocket
// observer endpoint.
package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"main/internal/model"
	"main/internal/service"
	"main/internal/store"
)

// Server bundles the HTTP handlers around the service and the hub.
type Server struct {
	svc      *service.Service
	upgrader *WSUpgrader
}

// NewServer builds the transport layer.
func NewServer(svc *service.Service, up *WSUpgrader) *Server {
	return &Server{svc: svc, upgrader: up}
}

// Mux returns the route table. Extra handlers (metrics, health) are
// attached by the caller.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", s.handleSubmit)
	mux.HandleFunc("GET /orders/{id}", s.handleGet)
	mux.HandleFunc("GET /orders", s.handleList)
	if s.upgrader != nil {
		mux.HandleFunc("GET /ws", s.upgrader.serve)
	}
	return mux
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	orderID, err := s.svc.Submit(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"orderId": orderID})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	order, err := s.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var filter store.Filter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := model.Status(raw)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status: "+raw)
			return
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: "+raw)
			return
		}
		filter.Limit = limit
	}

	orders, err := s.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
