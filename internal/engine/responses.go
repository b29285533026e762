package engine

import (
	"context"
	"unicode/utf8"

	"github.com/xtrntr/p2pmarket/internal/models"
)

// SubmitResponse records a bid to take an order. The responder must not
// be the order owner, the order must still be open, and there may be
// only one waiting response per (order, responder). The order's first
// response moves it from active to has_responses.
func (e *Engine) SubmitResponse(ctx context.Context, userID, orderID int64, message string) (*models.Response, error) {
	const op = "engine.SubmitResponse"

	if utf8.RuneCountInString(message) > e.cfg.MaxMessageLen {
		return nil, errf(KindValidation, op, "message exceeds %d characters", e.cfg.MaxMessageLen)
	}

	unlock := e.locks.lock(orderID)
	defer unlock()

	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	if order.UserID == userID {
		return nil, errf(KindPermission, op, "cannot respond to your own order")
	}
	if !order.Status.Open() {
		return nil, errf(KindState, op, "order in status %q does not accept responses", order.Status)
	}

	resp, err := e.store.CreateResponse(ctx, &models.Response{
		OrderID: orderID,
		UserID:  userID,
		Message: message,
		Status:  models.ResponseStatusWaiting,
	})
	if err != nil {
		return nil, storeErr(op, err)
	}

	if order.Status == models.OrderStatusActive {
		if err := e.store.UpdateOrderStatus(ctx, orderID,
			models.OrderStatusActive, models.OrderStatusHasResponses); err != nil {
			// The response is already durable; losing this transition only
			// delays the status derivation, it does not corrupt state.
			e.log.Warn("failed to mark order has_responses", "order_id", orderID, "err", err)
		}
	}

	e.log.Info("response submitted", "response_id", resp.ID, "order_id", orderID, "user_id", userID)
	return resp, nil
}

// AcceptResponse is the exclusive path that spawns a deal: the response
// flips to accepted, the order to in_deal, and the deal is created with
// the trade terms copied from the order, all as one atomic unit under
// the order lock.
func (e *Engine) AcceptResponse(ctx context.Context, userID, responseID int64) (*models.Deal, error) {
	const op = "engine.AcceptResponse"

	resp, err := e.store.GetResponse(ctx, responseID)
	if err != nil {
		return nil, storeErr(op, err)
	}

	unlock := e.locks.lock(resp.OrderID)
	defer unlock()

	// Reload under the lock; the first read only located the order.
	resp, err = e.store.GetResponse(ctx, responseID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	order, err := e.store.GetOrder(ctx, resp.OrderID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	if order.UserID != userID {
		return nil, errf(KindPermission, op, "only the order owner may accept responses")
	}
	if resp.Status != models.ResponseStatusWaiting {
		return nil, errf(KindState, op, "response is already %s", resp.Status)
	}
	if !order.Status.Open() {
		return nil, errf(KindState, op, "order in status %q cannot enter a deal", order.Status)
	}

	deal, err := e.store.AcceptResponse(ctx, responseID, &models.Deal{
		OrderID:        order.ID,
		ResponseID:     responseID,
		AuthorID:       order.UserID,
		CounterpartyID: resp.UserID,
		Side:           order.Side,
		Crypto:         order.Crypto,
		Fiat:           order.Fiat,
		Amount:         order.Amount,
		Price:          order.Price,
		Total:          order.Total,
		PaymentMethods: order.PaymentMethods,
		Status:         models.DealStatusInProgress,
	}, e.cfg.AutoRejectSiblings)
	if err != nil {
		return nil, storeErr(op, err)
	}

	e.log.Info("response accepted, deal created", "deal_id", deal.ID,
		"order_id", order.ID, "response_id", responseID,
		"author_id", deal.AuthorID, "counterparty_id", deal.CounterpartyID)
	return deal, nil
}

// RejectResponse terminally rejects a waiting response on the caller's
// own order. The optional reason is stored on the response and shown to
// the responder; like a payment proof it is never validated beyond
// length.
func (e *Engine) RejectResponse(ctx context.Context, userID, responseID int64, reason string) error {
	const op = "engine.RejectResponse"

	if utf8.RuneCountInString(reason) > e.cfg.MaxMessageLen {
		return errf(KindValidation, op, "reason exceeds %d characters", e.cfg.MaxMessageLen)
	}

	resp, err := e.store.GetResponse(ctx, responseID)
	if err != nil {
		return storeErr(op, err)
	}

	unlock := e.locks.lock(resp.OrderID)
	defer unlock()

	resp, err = e.store.GetResponse(ctx, responseID)
	if err != nil {
		return storeErr(op, err)
	}
	order, err := e.store.GetOrder(ctx, resp.OrderID)
	if err != nil {
		return storeErr(op, err)
	}
	if order.UserID != userID {
		return errf(KindPermission, op, "only the order owner may reject responses")
	}
	if resp.Status != models.ResponseStatusWaiting {
		return errf(KindState, op, "response is already %s", resp.Status)
	}

	if err := e.store.RejectResponse(ctx, responseID, reason); err != nil {
		return storeErr(op, err)
	}
	e.log.Info("response rejected", "response_id", responseID, "order_id", order.ID)
	return nil
}
