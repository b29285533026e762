package engine

import (
	"context"
	"errors"

	"github.com/xtrntr/p2pmarket/internal/db"
	"github.com/xtrntr/p2pmarket/internal/models"
)

// ResponseView is a response joined with its order, already filtered for
// the requesting user. The order pointer is always non-nil: responses
// whose order is gone are dropped, not surfaced half-empty.
type ResponseView struct {
	Response models.Response `json:"response"`
	Order    *models.Order   `json:"order"`
}

// Orders, responses and deals mutate independently, so any join of the
// three can be torn by the time a user reads it. The reconciliation view
// recomputes from authoritative rows on every call and filters rather
// than errors: a missing or foreign entity is an expected artifact of
// eventual consistency, not a fault. Neither method ever returns an
// error for a dangling reference.

// MyResponses returns the responses the user submitted, hiding the ones
// whose order is gone from the market: order deleted, cancelled or
// expired, order completed, or order in a deal the user is not part of.
func (e *Engine) MyResponses(ctx context.Context, userID int64) ([]ResponseView, error) {
	const op = "engine.MyResponses"

	responses, err := e.store.ListResponsesByUser(ctx, userID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return e.reconcile(ctx, userID, responses, false)
}

// ResponsesToMyOrders returns responses submitted against the owner's
// orders. Unlike MyResponses this spans inactive orders too: the owner
// still sees the disposition of responses to an order they cancelled.
// Only completion ends a response's relevance to the owner.
func (e *Engine) ResponsesToMyOrders(ctx context.Context, ownerID int64) ([]ResponseView, error) {
	const op = "engine.ResponsesToMyOrders"

	responses, err := e.store.ListResponsesForOwner(ctx, ownerID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return e.reconcile(ctx, ownerID, responses, true)
}

func (e *Engine) reconcile(ctx context.Context, userID int64, responses []models.Response, ownerView bool) ([]ResponseView, error) {
	views := make([]ResponseView, 0, len(responses))
	orders := make(map[int64]*models.Order, len(responses))

	for _, resp := range responses {
		order, seen := orders[resp.OrderID]
		if !seen {
			var err error
			order, err = e.store.GetOrder(ctx, resp.OrderID)
			if err != nil {
				if !errors.Is(err, db.ErrNotFound) {
					return nil, storeErr("engine.reconcile", err)
				}
				order = nil
			}
			orders[resp.OrderID] = order
		}
		if order == nil {
			// Owner deleted the order out from under the response.
			continue
		}
		if e.keepResponse(ctx, userID, resp, order, ownerView) {
			views = append(views, ResponseView{Response: resp, Order: order})
		}
	}
	return views, nil
}

func (e *Engine) keepResponse(ctx context.Context, userID int64, resp models.Response, order *models.Order, ownerView bool) bool {
	switch order.Status {
	case models.OrderStatusActive, models.OrderStatusHasResponses:
		return true
	case models.OrderStatusCompleted:
		// The bound deal concluded; the response's relevance ended.
		return false
	case models.OrderStatusCancelled, models.OrderStatusExpired:
		// The owner keeps seeing dispositions on their dead orders;
		// responders do not.
		return ownerView
	case models.OrderStatusInDeal:
		if ownerView {
			// The owner is by definition a party to their order's deal.
			return true
		}
		deal, err := e.store.GetOpenDealForOrder(ctx, order.ID)
		if err != nil {
			// No live deal found mid-transition: hide rather than show a
			// response on an order the user can no longer act on.
			return false
		}
		return deal.Party(userID)
	default:
		return false
	}
}
