package engine

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/p2pmarket/internal/models"
)

// CreateOrderInput carries the caller-supplied fields of a new order.
type CreateOrderInput struct {
	Side           models.OrderSide
	Crypto         string
	Fiat           string
	Amount         decimal.Decimal
	Price          decimal.Decimal
	PaymentMethods []models.PaymentMethod
	Description    string
}

// EditOrderInput lists the editable fields; nil means keep the current
// value. Side and asset pair are the identity of the offer and cannot be
// edited.
type EditOrderInput struct {
	Amount         *decimal.Decimal
	Price          *decimal.Decimal
	PaymentMethods []models.PaymentMethod
	Description    *string
}

func validateMethods(op string, methods []models.PaymentMethod) *Error {
	if len(methods) == 0 {
		return errf(KindValidation, op, "at least one payment method is required")
	}
	for _, m := range methods {
		if !m.Valid() {
			return errf(KindValidation, op, "unknown payment method %q", m)
		}
	}
	return nil
}

// CreateOrder validates and stores a new active order.
func (e *Engine) CreateOrder(ctx context.Context, userID int64, in CreateOrderInput) (*models.Order, error) {
	const op = "engine.CreateOrder"

	if !in.Side.Valid() {
		return nil, errf(KindValidation, op, "side must be %q or %q", models.OrderSideBuy, models.OrderSideSell)
	}
	crypto := strings.ToUpper(strings.TrimSpace(in.Crypto))
	fiat := strings.ToUpper(strings.TrimSpace(in.Fiat))
	if crypto == "" || fiat == "" {
		return nil, errf(KindValidation, op, "asset pair is required")
	}
	if !in.Amount.IsPositive() {
		return nil, errf(KindValidation, op, "amount must be positive")
	}
	if !in.Price.IsPositive() {
		return nil, errf(KindValidation, op, "price must be positive")
	}
	if err := validateMethods(op, in.PaymentMethods); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(in.Description) > e.cfg.MaxDescriptionLen {
		return nil, errf(KindValidation, op, "description exceeds %d characters", e.cfg.MaxDescriptionLen)
	}

	order, err := e.store.CreateOrder(ctx, &models.Order{
		UserID:         userID,
		Side:           in.Side,
		Crypto:         crypto,
		Fiat:           fiat,
		Amount:         in.Amount,
		Price:          in.Price,
		Total:          in.Amount.Mul(in.Price),
		PaymentMethods: in.PaymentMethods,
		Description:    in.Description,
		Status:         models.OrderStatusActive,
	})
	if err != nil {
		return nil, storeErr(op, err)
	}

	e.log.Info("order created", "order_id", order.ID, "user_id", userID,
		"side", order.Side, "pair", order.Crypto+"/"+order.Fiat)
	return order, nil
}

// GetOrder returns one order; orders are public, no scoping applies.
func (e *Engine) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	const op = "engine.GetOrder"
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return order, nil
}

// EditOrder updates the editable fields of the caller's own order while
// it is still on the market. An order bound to a deal cannot be edited.
func (e *Engine) EditOrder(ctx context.Context, userID, orderID int64, in EditOrderInput) (*models.Order, error) {
	const op = "engine.EditOrder"

	unlock := e.locks.lock(orderID)
	defer unlock()

	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	if order.UserID != userID {
		return nil, errf(KindPermission, op, "only the order owner may edit it")
	}
	if !order.Status.Open() {
		return nil, errf(KindState, op, "order in status %q cannot be edited", order.Status)
	}

	if in.Amount != nil {
		if !in.Amount.IsPositive() {
			return nil, errf(KindValidation, op, "amount must be positive")
		}
		order.Amount = *in.Amount
	}
	if in.Price != nil {
		if !in.Price.IsPositive() {
			return nil, errf(KindValidation, op, "price must be positive")
		}
		order.Price = *in.Price
	}
	if in.PaymentMethods != nil {
		if err := validateMethods(op, in.PaymentMethods); err != nil {
			return nil, err
		}
		order.PaymentMethods = in.PaymentMethods
	}
	if in.Description != nil {
		if utf8.RuneCountInString(*in.Description) > e.cfg.MaxDescriptionLen {
			return nil, errf(KindValidation, op, "description exceeds %d characters", e.cfg.MaxDescriptionLen)
		}
		order.Description = *in.Description
	}
	order.Total = order.Amount.Mul(order.Price)

	if err := e.store.UpdateOrder(ctx, order); err != nil {
		return nil, storeErr(op, err)
	}
	e.log.Info("order edited", "order_id", orderID, "user_id", userID)
	return order, nil
}

// CancelOrder moves the caller's own order to cancelled. An order bound
// to a live deal cannot be cancelled directly; the deal must be
// cancelled first so it is never orphaned.
func (e *Engine) CancelOrder(ctx context.Context, userID, orderID int64) error {
	const op = "engine.CancelOrder"

	unlock := e.locks.lock(orderID)
	defer unlock()

	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return storeErr(op, err)
	}
	if order.UserID != userID {
		return errf(KindPermission, op, "only the order owner may cancel it")
	}
	if order.Status.Terminal() {
		return errf(KindState, op, "order is already %s", order.Status)
	}
	if order.Status == models.OrderStatusInDeal {
		return errf(KindState, op, "order has a live deal; cancel the deal first")
	}

	if err := e.store.UpdateOrderStatus(ctx, orderID, order.Status, models.OrderStatusCancelled); err != nil {
		return storeErr(op, err)
	}
	e.log.Info("order cancelled", "order_id", orderID, "user_id", userID)
	return nil
}

// ListFilter narrows ListOrders from the caller's side.
type ListFilter struct {
	Side            *models.OrderSide
	Crypto          string
	Fiat            string
	IncludeInactive bool
	Limit           int
	Offset          int
}

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// ListOrders returns orders newest first. By default only open orders
// (active, has_responses) are visible; IncludeInactive widens to all
// statuses.
func (e *Engine) ListOrders(ctx context.Context, f ListFilter) ([]models.Order, error) {
	const op = "engine.ListOrders"

	filter := models.OrderFilter{
		Side:   f.Side,
		Crypto: strings.ToUpper(strings.TrimSpace(f.Crypto)),
		Fiat:   strings.ToUpper(strings.TrimSpace(f.Fiat)),
		Limit:  f.Limit,
		Offset: f.Offset,
	}
	if !f.IncludeInactive {
		filter.Statuses = []models.OrderStatus{models.OrderStatusActive, models.OrderStatusHasResponses}
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	orders, err := e.store.ListOrders(ctx, filter)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return orders, nil
}
