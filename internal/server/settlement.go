package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"gold-bot/internal/metrics"
	"gold-bot/internal/models"
	"gold-bot/internal/purchase"
	"gold-bot/internal/session"
	"gold-bot/internal/xerrors"
	"gold-bot/pkg/logger"
)

type SessionVerifier interface {
	Verify(ctx context.Context, token string) (session.Result, error)
	Bind(ctx context.Context, res session.Result, userID int64) (*models.Session, error)
}

type UserRegistry interface {
	GetOrCreate(ctx context.Context, email, name, phone string) (*models.User, error)
}

type PurchaseProcessor interface {
	Purchase(ctx context.Context, req purchase.Request) (*models.Receipt, error)
	Receipt(ctx context.Context, reference string) (*models.Receipt, error)
	Quote(ctx context.Context, quantity decimal.Decimal) (unitPrice, total decimal.Decimal, err error)
	Currency() string
}

type PriceRecorder interface {
	Record(ctx context.Context, currency string, price decimal.Decimal, source string) (*models.PriceSnapshot, error)
}

type SettlementDeps struct {
	Verifier  SessionVerifier
	Users     UserRegistry
	Processor PurchaseProcessor
	Prices    PriceRecorder
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
	Health    HealthFunc
	AdminKey  string
	RateLimit RateLimit
	// TrustProxy honors X-Forwarded-For and X-Real-IP from a fronting proxy.
	TrustProxy bool
}

type settlementHandler struct {
	SettlementDeps
}

// NewSettlementRouter wires the purchase API.
func NewSettlementRouter(deps SettlementDeps) http.Handler {
	h := &settlementHandler{deps}
	r := baseRouter(deps.Logger, deps.Metrics, deps.Health, deps.TrustProxy)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/price", h.getPrice)
		r.Get("/purchases/{reference}", h.getReceipt)

		r.Group(func(r chi.Router) {
			r.Use(rateLimit(deps.RateLimit.Counter, deps.RateLimit.Limit, deps.RateLimit.Window, "ratelimit:settlement", deps.Logger))
			r.Post("/sessions/verify", h.verifySession)
			r.Post("/purchases/initiate", h.initiatePurchase)
			r.Post("/purchases/confirm", h.confirmPurchase)
		})

		r.Group(func(r chi.Router) {
			r.Use(adminOnly(deps.AdminKey, deps.Logger))
			r.Post("/prices", h.recordPrice)
		})
	})

	return r
}

type tokenRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Outcome string          `json:"outcome"`
	Session *models.Session `json:"session,omitempty"`
	User    *models.User    `json:"user,omitempty"`
}

func (h *settlementHandler) verifySession(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, r, h.Logger, err)
		return
	}

	res, err := h.verify(r.Context(), req.Token)
	if err != nil {
		Error(w, r, h.Logger, err)
		return
	}

	JSON(w, http.StatusOK, verifyResponse{
		Outcome: res.Outcome.String(),
		Session: res.Session,
		User:    res.User,
	})
}

type initiateRequest struct {
	Token string `json:"token"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type quoteResponse struct {
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Currency    string          `json:"currency"`
	MinQuantity decimal.Decimal `json:"min_quantity"`
	MaxQuantity decimal.Decimal `json:"max_quantity"`
}

type initiateResponse struct {
	Session *models.Session `json:"session"`
	User    *models.User    `json:"user"`
	Quote   quoteResponse   `json:"quote"`
}

// initiatePurchase resolves the buyer by email and binds them to the session.
func (h *settlementHandler) initiatePurchase(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, r, h.Logger, err)
		return
	}

	res, err := h.verify(r.Context(), req.Token)
	if err != nil {
		Error(w, r, h.Logger, err)
		return
	}

	u, err := h.Users.GetOrCreate(r.Context(), req.Email, req.Name, req.Phone)
	if err != nil {
		Error(w, r, h.Logger, err)
		return
	}

	sess, err := h.Verifier.Bind(r.Context(), res, u.ID)
	if err != nil {
		Error(w, r, h.Logger, err)
		return
	}

	unitPrice, _, err := h.Processor.Quote(r.Context(), decimal.NewFromInt(1))
	if err != nil {
		Error(w, r, h.Logger, err)
		return
	}

	JSON(w, http.StatusOK, initiateResponse{
		Session: sess,
		User:    u,
		Quote: quoteResponse{
			UnitPrice:   unitPrice,
			Currency:    h.Processor.Currency(),
			MinQuantity: purchase.MinQuantity,
			MaxQuantity: purchase.MaxQuantity,
		},
	})
}

type confirmRequest struct {
	Token         string           `json:"token"`
	Quantity      *decimal.Decimal `json:"quantity"`
	PaymentMethod string           `json:"payment_method"`
	UserID        *int64           `json:"user_id"`
}

func (h *settlementHandler) confirmPurchase(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, r, h.Logger, err)
		return
	}
	if req.Quantity == nil {
		h.Metrics.Purchase(string(xerrors.KindValidation), 0)
		Error(w, r, h.Logger, xerrors.ErrInvalidQuantity)
		return
	}

	receipt, err := h.Processor.Purchase(r.Context(), purchase.Request{
		UserID:        req.UserID,
		Quantity:      *req.Quantity,
		Token:         req.Token,
		PaymentMethod: req.PaymentMethod,
		RequireBound:  true,
	})
	if err != nil {
		h.Metrics.Purchase(string(xerrors.KindOf(err)), 0)
		Error(w, r, h.Logger, err)
		return
	}

	grams, _ := receipt.Quantity.Float64()
	h.Metrics.Purchase(string(models.StatusCompleted), grams)
	JSON(w, http.StatusCreated, receipt)
}

func (h *settlementHandler) getReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.Processor.Receipt(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		Error(w, r, h.Logger, err)
		return
	}
	JSON(w, http.StatusOK, receipt)
}

type priceResponse struct {
	Currency string          `json:"currency"`
	Price    decimal.Decimal `json:"price"`
}

func (h *settlementHandler) getPrice(w http.ResponseWriter, r *http.Request) {
	if err := h.checkCurrency(r.URL.Query().Get("currency")); err != nil {
		Error(w, r, h.Logger, err)
		return
	}
	unitPrice, _, err := h.Processor.Quote(r.Context(), decimal.NewFromInt(1))
	if err != nil {
		Error(w, r, h.Logger, err)
		return
	}
	JSON(w, http.StatusOK, priceResponse{Currency: h.Processor.Currency(), Price: unitPrice})
}

type recordPriceRequest struct {
	Currency string           `json:"currency"`
	Price    *decimal.Decimal `json:"price"`
	Source   string           `json:"source"`
}

func (h *settlementHandler) recordPrice(w http.ResponseWriter, r *http.Request) {
	var req recordPriceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, r, h.Logger, err)
		return
	}
	if req.Price == nil {
		Error(w, r, h.Logger, xerrors.ErrInvalidPrice)
		return
	}
	if err := h.checkCurrency(req.Currency); err != nil {
		Error(w, r, h.Logger, err)
		return
	}
	source := req.Source
	if source == "" {
		source = "admin"
	}

	snap, err := h.Prices.Record(r.Context(), h.Processor.Currency(), *req.Price, source)
	if err != nil {
		Error(w, r, h.Logger, err)
		return
	}
	h.Logger.Infow("Price recorded", "currency", snap.Currency, "price", snap.Price.String(), "source", snap.Source)
	JSON(w, http.StatusCreated, snap)
}

// verify runs the verifier and converts a failed result into its error.
func (h *settlementHandler) verify(ctx context.Context, token string) (session.Result, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return session.Result{}, xerrors.ErrInvalidRequest.WithMessage("token is required")
	}
	res, err := h.Verifier.Verify(ctx, token)
	if err != nil {
		return session.Result{}, err
	}
	h.Metrics.Verification(res.Outcome.String(), res.Reason)
	if !res.Valid() {
		return res, res.Err()
	}
	return res, nil
}

// Only the configured currency is settled.
func (h *settlementHandler) checkCurrency(currency string) error {
	if currency == "" || strings.EqualFold(currency, h.Processor.Currency()) {
		return nil
	}
	return xerrors.ErrInvalidRequest.WithMessage("only %s is supported", h.Processor.Currency())
}
