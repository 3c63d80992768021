package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// Storefront hooks. The commerce platform posts these as orders, reviews and
// referrals progress; the engine turns them into ledger credits.

// OrderDelivered awards purchase points when an order reaches delivered.
func (s *Server) OrderDelivered(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID   uuid.UUID `json:"account_id"`
		OrderTotal  float64   `json:"order_total"`
		OrderNumber string    `json:"order_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderNumber == "" {
		http.Error(w, "account_id, order_total and order_number are required", http.StatusBadRequest)
		return
	}
	result, err := s.Accrual.OrderDelivered(r.Context(), req.AccountID, req.OrderTotal, req.OrderNumber)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// ReviewPosted awards review points when the rating clears the threshold.
func (s *Server) ReviewPosted(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID   uuid.UUID `json:"account_id"`
		Rating      int       `json:"rating"`
		ProductName string    `json:"product_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	result, err := s.Accrual.ReviewPosted(r.Context(), req.AccountID, req.Rating, req.ProductName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// ReferralCompleted credits referral points to the referring account.
func (s *Server) ReferralCompleted(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID    uuid.UUID `json:"account_id"`
		Points       int64     `json:"points"`
		ReferredUser string    `json:"referred_user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	result, err := s.Accrual.ReferralCompleted(r.Context(), req.AccountID, req.Points, req.ReferredUser)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
