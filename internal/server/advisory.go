package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gold-bot/internal/advisory"
	"gold-bot/internal/metrics"
	"gold-bot/pkg/logger"
)

type MessageHandler interface {
	Handle(ctx context.Context, conversationID string, userID *int64, text string) (*advisory.Reply, error)
}

type AdvisoryDeps struct {
	Advisor   MessageHandler
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
	Health    HealthFunc
	RateLimit RateLimit
	// TrustProxy honors X-Forwarded-For and X-Real-IP from a fronting proxy.
	TrustProxy bool
}

// NewAdvisoryRouter wires the chat API of the advisory service.
func NewAdvisoryRouter(deps AdvisoryDeps) http.Handler {
	r := baseRouter(deps.Logger, deps.Metrics, deps.Health, deps.TrustProxy)

	r.Route("/api/v1/advisory", func(r chi.Router) {
		r.Use(rateLimit(deps.RateLimit.Counter, deps.RateLimit.Limit, deps.RateLimit.Window, "ratelimit:advisory", deps.Logger))
		r.Post("/messages", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				ConversationID string `json:"conversation_id"`
				Message        string `json:"message"`
			}
			if err := decodeJSON(w, r, &req); err != nil {
				Error(w, r, deps.Logger, err)
				return
			}

			// Sessions minted over HTTP are never pre-bound: the buyer is
			// resolved by the settlement service at initiation.
			reply, err := deps.Advisor.Handle(r.Context(), req.ConversationID, nil, req.Message)
			if err != nil {
				Error(w, r, deps.Logger, err)
				return
			}
			JSON(w, http.StatusOK, reply)
		})
	})

	return r
}
