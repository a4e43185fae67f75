package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/relaychat/server/internal/apperror"
	"github.com/relaychat/server/internal/middleware"
	"github.com/relaychat/server/internal/subscription"
)

// SubscriptionHandler reports a user's plan
type SubscriptionHandler struct {
	subs *subscription.Service
	log  *zap.Logger
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(subs *subscription.Service, log *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs, log: log}
}

type subscriptionResponse struct {
	Tier          string     `json:"tier"`
	Status        string     `json:"status"`
	EffectiveTier string     `json:"effective_tier"`
	StartDate     *time.Time `json:"start_date,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
}

// HandleStatus handles GET /subscription/status
func (h *SubscriptionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		respondErr(w, h.log, apperror.ErrUnauthorized)
		return
	}
	sub, err := h.subs.Status(r.Context(), user.ID)
	if err != nil {
		respondErr(w, h.log, err)
		return
	}
	resp := subscriptionResponse{
		Tier:          string(sub.Tier),
		Status:        string(sub.Status),
		EffectiveTier: string(sub.EffectiveTier(time.Now())),
		EndDate:       sub.EndDate,
	}
	if !sub.StartDate.IsZero() {
		start := sub.StartDate
		resp.StartDate = &start
	}
	respondJSON(w, http.StatusOK, resp)
}
