package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"loyaltyd/cart"
	"loyaltyd/ledger"
	"loyaltyd/models"
	"loyaltyd/rewards"
	"loyaltyd/tier"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError maps engine error kinds onto HTTP statuses. The engine returns
// structured kinds only; human-readable copy belongs to the storefront.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := "internal"
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrInvalidPoints):
		kind, status = "validation", http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientBalance):
		kind, status = "insufficient_balance", http.StatusUnprocessableEntity
	case errors.Is(err, rewards.ErrRewardUnavailable):
		kind, status = "reward_unavailable", http.StatusConflict
	case errors.Is(err, rewards.ErrDuplicateRedemption):
		kind, status = "duplicate_redemption", http.StatusConflict
	case errors.Is(err, ledger.ErrConflict):
		kind, status = "conflict", http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, rewards.ErrRewardNotFound),
		errors.Is(err, rewards.ErrRedemptionNotFound),
		errors.Is(err, cart.ErrCartNotFound),
		errors.Is(err, cart.ErrDiscountNotFound):
		kind, status = "not_found", http.StatusNotFound
	case errors.Is(err, ledger.ErrAccountInactive):
		kind, status = "account_inactive", http.StatusUnprocessableEntity
	case errors.Is(err, cart.ErrInvalidDiscountType):
		kind, status = "validation", http.StatusBadRequest
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

// Healthz reports service liveness and database reachability.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	db, err := s.DB.DB()
	if err == nil {
		err = db.PingContext(r.Context())
	}
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateAccount returns the caller's loyalty account, creating it on first
// contact.
func (s *Server) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	snapshot, err := s.Ledger.GetOrCreateAccount(r.Context(), req.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

// GetAccount returns a point-in-time account snapshot.
func (s *Server) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}
	snapshot, err := s.Ledger.GetAccount(r.Context(), accountID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

// earnSources are the activity sources callers may credit through the API.
// Redemption and admin entries are written by the engine itself.
var earnSources = map[models.TransactionSource]struct{}{
	models.SourcePurchase:  {},
	models.SourceReview:    {},
	models.SourceReferral:  {},
	models.SourceBirthday:  {},
	models.SourcePromotion: {},
}

// Earn credits points for store activity: order delivery, qualifying reviews,
// referrals and promotions.
func (s *Server) Earn(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}
	var req struct {
		Points      int64   `json:"points"`
		Source      string  `json:"source"`
		Description string  `json:"description"`
		OrderID     *string `json:"order_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	source := models.TransactionSource(req.Source)
	if _, ok := earnSources[source]; !ok {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown source: " + req.Source, Kind: "validation"})
		return
	}
	result, err := s.Ledger.Earn(r.Context(), accountID, req.Points, source, req.Description, req.OrderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// RedeemPoints performs a low-level point spend.
func (s *Server) RedeemPoints(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}
	var req struct {
		Points      int64  `json:"points"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	newBalance, err := s.Ledger.Redeem(r.Context(), accountID, req.Points, req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"new_balance": newBalance})
}

// Adjust applies an administrative balance correction.
func (s *Server) Adjust(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}
	var req struct {
		Delta       int64  `json:"delta"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	newBalance, err := s.Ledger.Adjust(r.Context(), accountID, req.Delta, req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"new_balance": newBalance})
}

// ListTransactions returns ledger history with optional type and date filters.
func (s *Server) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}
	filter := ledger.TransactionFilter{Limit: 100}
	if t := r.URL.Query().Get("type"); t != "" {
		filter.Type = models.TransactionType(t)
	}
	if since := r.URL.Query().Get("since"); since != "" {
		parsed, err := time.Parse(time.RFC3339, since)
		if err != nil {
			http.Error(w, "invalid since timestamp", http.StatusBadRequest)
			return
		}
		filter.Since = &parsed
	}
	if until := r.URL.Query().Get("until"); until != "" {
		parsed, err := time.Parse(time.RFC3339, until)
		if err != nil {
			http.Error(w, "invalid until timestamp", http.StatusBadRequest)
			return
		}
		filter.Until = &parsed
	}
	entries, err := s.Ledger.Transactions(r.Context(), accountID, filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// ListTiers returns the ordered active tier configuration.
func (s *Server) ListTiers(w http.ResponseWriter, r *http.Request) {
	table, err := tier.Load(s.DB.WithContext(r.Context()))
	if err != nil {
		if errors.Is(err, tier.ErrNoTiers) {
			s.writeJSON(w, http.StatusOK, []models.Tier{})
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, table.All())
}

// ListAvailableRewards returns the rewards the account can claim right now.
func (s *Server) ListAvailableRewards(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}
	available, err := s.Catalog.ListAvailable(r.Context(), accountID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, available)
}

// RedeemReward claims a catalog reward for the account.
func (s *Server) RedeemReward(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}
	rewardID, err := pathUUID(r, "rewardID")
	if err != nil {
		http.Error(w, "invalid reward id", http.StatusBadRequest)
		return
	}
	redemption, err := s.Workflow.Redeem(r.Context(), accountID, rewardID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, redemption)
}

// ListRedemptions returns the account's redemption history.
func (s *Server) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}
	redemptions, err := s.Workflow.ListRedemptions(r.Context(), accountID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, redemptions)
}

// MarkRedemptionUsed transitions a redemption to used when its order
// completes.
func (s *Server) MarkRedemptionUsed(w http.ResponseWriter, r *http.Request) {
	redemptionID, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid redemption id", http.StatusBadRequest)
		return
	}
	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.Workflow.MarkUsed(r.Context(), redemptionID, req.OrderID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(models.RedemptionUsed)})
}

// CancelRedemption is the administrator-initiated terminal transition.
func (s *Server) CancelRedemption(w http.ResponseWriter, r *http.Request) {
	redemptionID, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid redemption id", http.StatusBadRequest)
		return
	}
	if err := s.Workflow.Cancel(r.Context(), redemptionID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(models.RedemptionCancelled)})
}

// Sweep expires stale redemptions on demand.
func (s *Server) Sweep(w http.ResponseWriter, r *http.Request) {
	expired, err := s.Workflow.ExpireStale(r.Context(), s.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"expired": expired})
}

// ListNotifications returns the account's notifications and, unless
// unread_only is set, marks them read.
func (s *Server) ListNotifications(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}
	unreadOnly := r.URL.Query().Get("unread_only") == "true"
	notifications, err := s.Notifications.List(r.Context(), accountID, unreadOnly)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !unreadOnly {
		if err := s.Notifications.MarkAllRead(r.Context(), accountID); err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, notifications)
}

// ApplyPointsDiscount attaches a points-funded discount to the cart.
func (s *Server) ApplyPointsDiscount(w http.ResponseWriter, r *http.Request) {
	cartID, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid cart id", http.StatusBadRequest)
		return
	}
	var req struct {
		AccountID uuid.UUID `json:"account_id"`
		Points    int64     `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	discount, err := s.Calculator.ApplyPointsDiscount(r.Context(), cartID, req.AccountID, req.Points)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, discount)
}

// ApplyRewardDiscount attaches a reward-funded discount to the cart.
func (s *Server) ApplyRewardDiscount(w http.ResponseWriter, r *http.Request) {
	cartID, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid cart id", http.StatusBadRequest)
		return
	}
	var req struct {
		AccountID uuid.UUID `json:"account_id"`
		RewardID  uuid.UUID `json:"reward_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	discount, err := s.Calculator.ApplyRewardDiscount(r.Context(), cartID, req.AccountID, req.RewardID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, discount)
}

// RemoveDiscount detaches discounts from the cart, optionally one type only.
func (s *Server) RemoveDiscount(w http.ResponseWriter, r *http.Request) {
	cartID, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid cart id", http.StatusBadRequest)
		return
	}
	var discountType *models.DiscountType
	if t := r.URL.Query().Get("type"); t != "" {
		dt := models.DiscountType(t)
		discountType = &dt
	}
	if err := s.Calculator.RemoveDiscount(r.Context(), cartID, discountType); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// ComputeTotal returns the cart's price breakdown.
func (s *Server) ComputeTotal(w http.ResponseWriter, r *http.Request) {
	cartID, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid cart id", http.StatusBadRequest)
		return
	}
	totals, err := s.Calculator.ComputeTotal(r.Context(), cartID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, totals)
}

// Checkout commits the cart's discounts to the ledger as the order is placed.
func (s *Server) Checkout(w http.ResponseWriter, r *http.Request) {
	cartID, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid cart id", http.StatusBadRequest)
		return
	}
	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		http.Error(w, "order_id is required", http.StatusBadRequest)
		return
	}
	totals, err := s.Calculator.Checkout(r.Context(), cartID, req.OrderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, totals)
}

// GetStats returns the most recent daily aggregate snapshot, computing one on
// demand when none exists.
func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	latest, err := s.Stats.Latest(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if latest == nil {
		latest, err = s.Stats.Snapshot(r.Context(), s.Now())
		if err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, latest)
}
