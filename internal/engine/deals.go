package engine

import (
	"context"
	"time"

	"github.com/xtrntr/p2pmarket/internal/models"
)

// GetDeal returns a deal to one of its two parties; anyone else gets a
// permission error, not a not-found, since the row does exist.
func (e *Engine) GetDeal(ctx context.Context, userID, dealID int64) (*models.Deal, error) {
	const op = "engine.GetDeal"

	deal, err := e.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	if !deal.Party(userID) {
		return nil, errf(KindPermission, op, "not a party to this deal")
	}
	return deal, nil
}

// ListDeals returns the caller's deals, optionally narrowed to one
// order. Read scoping is inherent: the query is keyed by the caller.
func (e *Engine) ListDeals(ctx context.Context, userID int64, orderID *int64) ([]models.Deal, error) {
	const op = "engine.ListDeals"

	deals, err := e.store.ListDealsByUser(ctx, userID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	if orderID == nil {
		return deals, nil
	}
	filtered := deals[:0]
	for _, d := range deals {
		if d.OrderID == *orderID {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

// Confirm records the caller's attestation that their side of the deal
// is settled. The flag is monotonic and the call is idempotent: a party
// confirming twice gets the current state back, not an error. When the
// second flag lands the deal and its order complete atomically; the
// returned bool reports that completion.
func (e *Engine) Confirm(ctx context.Context, userID, dealID int64, proof string) (*models.Deal, bool, error) {
	const op = "engine.Confirm"

	deal, err := e.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, false, storeErr(op, err)
	}
	if !deal.Party(userID) {
		return nil, false, errf(KindPermission, op, "not a party to this deal")
	}

	unlock := e.locks.lock(deal.OrderID)
	defer unlock()

	deal, err = e.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, false, storeErr(op, err)
	}

	if deal.Status == models.DealStatusCompleted {
		return deal, true, nil
	}
	if deal.Status.Terminal() {
		return nil, false, errf(KindState, op, "deal is already %s", deal.Status)
	}

	isAuthor := userID == deal.AuthorID
	if (isAuthor && deal.AuthorConfirmed) || (!isAuthor && deal.CounterConfirmed) {
		// Second press of the same button: no-op.
		return deal, false, nil
	}

	if isAuthor {
		deal.AuthorConfirmed = true
		if proof != "" {
			deal.AuthorProof = proof
		}
	} else {
		deal.CounterConfirmed = true
		if proof != "" {
			deal.CounterProof = proof
		}
	}

	completed := deal.AuthorConfirmed && deal.CounterConfirmed
	if completed {
		now := time.Now()
		deal.Status = models.DealStatusCompleted
		deal.CompletedAt = &now
	} else {
		deal.Status = models.DealStatusWaitingPayment
	}

	if err := e.store.ConfirmDeal(ctx, deal, completed); err != nil {
		return nil, false, storeErr(op, err)
	}

	e.log.Info("deal confirmed", "deal_id", dealID, "user_id", userID, "completed", completed)
	return deal, completed, nil
}

// CancelDeal is the cooperative cancel: either party may abandon a deal
// before completion. The order returns to the market so the owner can
// accept another response; it lands on has_responses when waiting
// responses remain, active otherwise.
func (e *Engine) CancelDeal(ctx context.Context, userID, dealID int64) error {
	const op = "engine.CancelDeal"

	deal, err := e.store.GetDeal(ctx, dealID)
	if err != nil {
		return storeErr(op, err)
	}
	if !deal.Party(userID) {
		return errf(KindPermission, op, "not a party to this deal")
	}

	unlock := e.locks.lock(deal.OrderID)
	defer unlock()

	deal, err = e.store.GetDeal(ctx, dealID)
	if err != nil {
		return storeErr(op, err)
	}
	if deal.Status == models.DealStatusCompleted {
		return errf(KindState, op, "a completed deal cannot be cancelled")
	}
	if deal.Status.Terminal() {
		return errf(KindState, op, "deal is already %s", deal.Status)
	}

	orderStatus := models.OrderStatusActive
	responses, err := e.store.ListResponsesForOrder(ctx, deal.OrderID)
	if err != nil {
		return storeErr(op, err)
	}
	for _, r := range responses {
		if r.Status == models.ResponseStatusWaiting {
			orderStatus = models.OrderStatusHasResponses
			break
		}
	}

	if err := e.store.CancelDeal(ctx, deal, orderStatus); err != nil {
		return storeErr(op, err)
	}
	e.log.Info("deal cancelled", "deal_id", dealID, "user_id", userID, "order_status", orderStatus)
	return nil
}
