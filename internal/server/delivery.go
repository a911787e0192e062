package server

import (
	"encoding/json"
	"net/http"

	"dailybugs-backend/internal/delivery"
	"dailybugs-backend/internal/types"
)

// GET /api/delivery
func (s *Server) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	method, err := s.store.GetDelivery(r.Context(), userID(r))
	if err != nil {
		s.log.Error("failed to load delivery method", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load delivery method")
		return
	}
	s.writeJSON(w, http.StatusOK, types.DeliveryResponse{Method: method})
}

// PUT /api/delivery { method }
func (s *Server) handleSetDelivery(w http.ResponseWriter, r *http.Request) {
	var req types.DeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	method, err := delivery.ValidateSetting(req.Method)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SetDelivery(r.Context(), userID(r), method.String()); err != nil {
		s.log.Error("failed to save delivery method", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save delivery method")
		return
	}
	s.writeJSON(w, http.StatusOK, types.DeliveryResponse{Method: method.String()})
}
