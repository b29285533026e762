package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/p2pmarket/internal/auth"
	"github.com/xtrntr/p2pmarket/internal/engine"
	"github.com/xtrntr/p2pmarket/internal/models"
)

type ctxKey int

const userIDKey ctxKey = 0

// Handler contains dependencies for HTTP handlers.
type Handler struct {
	Engine *engine.Engine
	Auth   *auth.AuthService
	Log    *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(eng *engine.Engine, authService *auth.AuthService, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Engine: eng, Auth: authService, Log: log}
}

// Routes builds the full router: public auth endpoints plus the
// token-protected API.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", h.Health)
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)

		r.Post("/orders", h.CreateOrder)
		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Put("/orders/{id}", h.EditOrder)
		r.Delete("/orders/{id}", h.CancelOrder)

		r.Post("/responses", h.SubmitResponse)
		r.Get("/responses/my", h.MyResponses)
		r.Get("/responses/to-my", h.ResponsesToMyOrders)
		r.Post("/responses/{id}/accept", h.AcceptResponse)
		r.Post("/responses/{id}/reject", h.RejectResponse)

		r.Get("/deals", h.ListDeals)
		r.Get("/deals/{id}", h.GetDeal)
		r.Post("/deals/{id}/confirm", h.ConfirmDeal)
		r.Post("/deals/{id}/cancel", h.CancelDeal)

		r.Post("/reviews", h.SubmitReview)
		r.Get("/reviews", h.ListReviews)

		r.Get("/users/{id}/profile", h.GetProfile)
	})

	return r
}

// --- plumbing ---

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.Log.Error("failed to encode response", "err", err)
	}
}

func (h *Handler) writeSuccess(w http.ResponseWriter, status int, fields map[string]any) {
	payload := map[string]any{"success": true}
	for k, v := range fields {
		payload[k] = v
	}
	h.writeJSON(w, status, payload)
}

func statusForKind(kind engine.Kind) int {
	switch kind {
	case engine.KindValidation:
		return http.StatusBadRequest
	case engine.KindPermission:
		return http.StatusForbidden
	case engine.KindState, engine.KindConflict:
		return http.StatusConflict
	case engine.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := engine.KindOf(err)
	status := statusForKind(kind)
	if status >= 500 {
		h.Log.Error("request failed", "kind", kind, "err", err)
	}
	h.writeJSON(w, status, map[string]any{
		"success": false,
		"error": map[string]any{
			"kind":    kind,
			"message": err.Error(),
		},
	})
}

func (h *Handler) writeBadRequest(w http.ResponseWriter, msg string) {
	h.writeJSON(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"error":   map[string]any{"kind": "validation", "message": msg},
	})
}

func (h *Handler) userID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(userIDKey).(int64)
	return id, ok
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// --- auth ---

// JWTAuthMiddleware verifies the bearer token and stores the actor
// identity in the request context. No identity, no access: there is no
// anonymous default.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			h.writeJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false,
				"error":   map[string]any{"kind": "permission", "message": "authorization header required"},
			})
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		userID, err := h.Auth.GetUserFromToken(tokenString)
		if err != nil {
			h.writeJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false,
				"error":   map[string]any{"kind": "permission", "message": "invalid or expired token"},
			})
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Register handles user registration.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "invalid request body")
		return
	}

	user, err := h.Auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeBadRequest(w, err.Error())
		return
	}

	h.writeSuccess(w, http.StatusCreated, map[string]any{"user": user})
}

// Login handles user login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "invalid request body")
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeJSON(w, http.StatusUnauthorized, map[string]any{
			"success": false,
			"error":   map[string]any{"kind": "permission", "message": "invalid credentials"},
		})
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]any{"token": token})
}

// --- orders ---

type orderPayload struct {
	Side           string           `json:"side"`
	Crypto         string           `json:"crypto"`
	Fiat           string           `json:"fiat"`
	Amount         *decimal.Decimal `json:"amount"`
	Price          *decimal.Decimal `json:"price"`
	PaymentMethods []string         `json:"payment_methods"`
	Description    *string          `json:"description"`
}

func toMethods(raw []string) []models.PaymentMethod {
	if raw == nil {
		return nil
	}
	methods := make([]models.PaymentMethod, len(raw))
	for i, m := range raw {
		methods[i] = models.PaymentMethod(m)
	}
	return methods
}

// CreateOrder handles POST /orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.userID(r)

	var req orderPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "invalid request body")
		return
	}

	in := engine.CreateOrderInput{
		Side:           models.OrderSide(req.Side),
		Crypto:         req.Crypto,
		Fiat:           req.Fiat,
		PaymentMethods: toMethods(req.PaymentMethods),
	}
	if req.Amount != nil {
		in.Amount = *req.Amount
	}
	if req.Price != nil {
		in.Price = *req.Price
	}
	if req.Description != nil {
		in.Description = *req.Description
	}

	order, err := h.Engine.CreateOrder(r.Context(), userID, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, http.StatusCreated, map[string]any{"order": order})
}

// ListOrders handles GET /orders. include_inactive=true widens the
// default open-orders view to all statuses.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := engine.ListFilter{
		Crypto:          q.Get("crypto"),
		Fiat:            q.Get("fiat"),
		IncludeInactive: q.Get("include_inactive") == "true",
	}
	if side := q.Get("side"); side != "" {
		s := models.OrderSide(side)
		f.Side = &s
	}
	if limit := q.Get("limit"); limit != "" {
		f.Limit, _ = strconv.Atoi(limit)
	}
	if offset := q.Get("offset"); offset != "" {
		f.Offset, _ = strconv.Atoi(offset)
	}

	orders, err := h.Engine.ListOrders(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	h.writeSuccess(w, http.StatusOK, map[string]any{"orders": orders})
}

// GetOrder handles GET /orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r)
	if err != nil {
		h.writeBadRequest(w, "invalid order ID")
		return
	}

	order, err := h.Engine.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]any{"order": order})
}

// EditOrder handles PUT /orders/{id}.
func (h *Handler) EditOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.userID(r)
	orderID, err := pathID(r)
	if err != nil {
		h.writeBadRequest(w, "invalid order ID")
		return
	}

	var req orderPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "invalid request body")
		return
	}

	order, err := h.Engine.EditOrder(r.Context(), userID, orderID, engine.EditOrderInput{
		Amount:         req.Amount,
		Price:          req.Price,
		PaymentMethods: toMethods(req.PaymentMethods),
		Description:    req.Description,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]any{"order": order})
}

// CancelOrder handles DELETE /orders/{id}.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.userID(r)
	orderID, err := pathID(r)
	if err != nil {
		h.writeBadRequest(w, "invalid order ID")
		return
	}

	if err := h.Engine.CancelOrder(r.Context(), userID, orderID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, nil)
}

// --- responses ---

// SubmitResponse handles POST /responses.
func (h *Handler) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.userID(r)

	var req struct {
		OrderID int64  `json:"order_id"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "invalid request body")
		return
	}

	resp, err := h.Engine.SubmitResponse(r.Context(), userID, req.OrderID, req.Message)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, http.StatusCreated, map[string]any{"response": resp})
}

// MyResponses handles GET /responses/my: the reconciled view of the
// caller's submitted responses.
func (h *Handler) MyResponses(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.userID(r)

	views, err := h.Engine.MyResponses(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]any{"responses": views})
}

// ResponsesToMyOrders handles GET /responses/to-my.
func (h *Handler) ResponsesToMyOrders(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.userID(r)

	views, err := h.Engine.ResponsesToMyOrders(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]any{"responses": views})
}

// AcceptResponse handles POST /responses/{id}/accept.
func (h *Handler) AcceptResponse(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.userID(r)
	responseID, err := pathID(r)
	if err != nil {
		h.writeBadRequest(w, "invalid response ID")
		return
	}

	deal, err := h.Engine.AcceptResponse(r.Context(), userID, responseID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]any{"deal": deal})
}

// RejectResponse handles POST /responses/{id}/reject.
func (h *Handler) RejectResponse(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.userID(r)
	responseID, err := pathID(r)
	if err != nil {
		h.writeBadRequest(w, "invalid response ID")
		return
	}

	// Body is optional; the reason is free text for the responder.
	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.Engine.RejectResponse(r.Context(), userID, responseID, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, nil)
}

// --- deals ---

// ListDeals handles GET /deals[?order_id=].
func (h *Handler) ListDeals(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.userID(r)

	var orderID *int64
	if raw := r.URL.Query().Get("order_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeBadRequest(w, "invalid order_id")
			return
		}
		orderID = &id
	}

	deals, err := h.Engine.ListDeals(r.Context(), userID, orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if deals == nil {
		deals = []models.Deal{}
	}
	h.writeSuccess(w, http.StatusOK, map[string]any{"deals": deals})
}

// GetDeal handles GET /deals/{id}.
func (h *Handler) GetDeal(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.userID(r)
	dealID, err := pathID(r)
	if err != nil {
		h.writeBadRequest(w, "invalid deal ID")
		return
	}

	deal, err := h.Engine.GetDeal(r.Context(), userID, dealID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]any{"deal": deal})
}

// ConfirmDeal handles POST /deals/{id}/confirm.
func (h *Handler) ConfirmDeal(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.userID(r)
	dealID, err := pathID(r)
	if err != nil {
		h.writeBadRequest(w, "invalid deal ID")
		return
	}

	// Body is optional; an empty confirm is the common case.
	var req struct {
		PaymentProof string `json:"payment_proof"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	deal, completed, err := h.Engine.Confirm(r.Context(), userID, dealID, req.PaymentProof)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]any{
		"deal":           deal,
		"deal_completed": completed,
	})
}

// CancelDeal handles POST /deals/{id}/cancel.
func (h *Handler) CancelDeal(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.userID(r)
	dealID, err := pathID(r)
	if err != nil {
		h.writeBadRequest(w, "invalid deal ID")
		return
	}

	if err := h.Engine.CancelDeal(r.Context(), userID, dealID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, nil)
}

// --- reviews ---

// SubmitReview handles POST /reviews.
func (h *Handler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.userID(r)

	var req struct {
		DealID      int64  `json:"deal_id"`
		Rating      int    `json:"rating"`
		Comment     string `json:"comment"`
		IsAnonymous bool   `json:"is_anonymous"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "invalid request body")
		return
	}

	review, err := h.Engine.SubmitReview(r.Context(), userID, engine.SubmitReviewInput{
		DealID:      req.DealID,
		Rating:      req.Rating,
		Comment:     req.Comment,
		IsAnonymous: req.IsAnonymous,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, http.StatusCreated, map[string]any{"review": review.Redacted()})
}

// ListReviews handles GET /reviews?user_id=&limit=.
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, err := strconv.ParseInt(q.Get("user_id"), 10, 64)
	if err != nil {
		h.writeBadRequest(w, "user_id is required")
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	reviews, err := h.Engine.ListReviewsFor(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if reviews == nil {
		reviews = []models.Review{}
	}
	h.writeSuccess(w, http.StatusOK, map[string]any{"reviews": reviews})
}

// --- profile ---

// GetProfile handles GET /users/{id}/profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		h.writeBadRequest(w, "invalid user ID")
		return
	}

	profile, err := h.Engine.GetProfile(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]any{"profile": profile})
}
