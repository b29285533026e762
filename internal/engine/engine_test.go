package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/p2pmarket/internal/db"
	"github.com/xtrntr/p2pmarket/internal/models"
)

type fixture struct {
	store *db.MemoryStore
	eng   *Engine
	owner int64
	taker int64
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()
	store := db.NewMemoryStore()

	owner, err := store.CreateUser(ctx, "owner", "hash")
	require.NoError(t, err)
	taker, err := store.CreateUser(ctx, "taker", "hash")
	require.NoError(t, err)

	return &fixture{
		store: store,
		eng:   New(store, cfg, nil),
		owner: owner.ID,
		taker: taker.ID,
	}
}

func validOrderInput() CreateOrderInput {
	return CreateOrderInput{
		Side:           models.OrderSideSell,
		Crypto:         "btc",
		Fiat:           "rub",
		Amount:         decimal.RequireFromString("0.5"),
		Price:          decimal.RequireFromString("5000000"),
		PaymentMethods: []models.PaymentMethod{models.PaymentMethodSBP},
		Description:    "quick release",
	}
}

// runToDeal drives order -> response -> accept and returns both.
func (f *fixture) runToDeal(t *testing.T) (*models.Order, *models.Deal) {
	t.Helper()
	ctx := context.Background()

	order, err := f.eng.CreateOrder(ctx, f.owner, validOrderInput())
	require.NoError(t, err)
	resp, err := f.eng.SubmitResponse(ctx, f.taker, order.ID, "taking it")
	require.NoError(t, err)
	deal, err := f.eng.AcceptResponse(ctx, f.owner, resp.ID)
	require.NoError(t, err)
	return order, deal
}

// runToCompleted additionally confirms both sides.
func (f *fixture) runToCompleted(t *testing.T) (*models.Order, *models.Deal) {
	t.Helper()
	ctx := context.Background()

	order, deal := f.runToDeal(t)
	_, completed, err := f.eng.Confirm(ctx, f.owner, deal.ID, "")
	require.NoError(t, err)
	require.False(t, completed)
	deal, completed, err = f.eng.Confirm(ctx, f.taker, deal.ID, "receipt.png")
	require.NoError(t, err)
	require.True(t, completed)
	return order, deal
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	order, err := f.eng.CreateOrder(ctx, f.owner, validOrderInput())
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusActive, order.Status)
	assert.Equal(t, "BTC", order.Crypto, "pair should be normalized to upper case")
	assert.Equal(t, "RUB", order.Fiat)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("2500000")))
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateOrderInput)
	}{
		{"BadSide", func(in *CreateOrderInput) { in.Side = "long" }},
		{"EmptyPair", func(in *CreateOrderInput) { in.Crypto = "" }},
		{"ZeroAmount", func(in *CreateOrderInput) { in.Amount = decimal.Zero }},
		{"NegativePrice", func(in *CreateOrderInput) { in.Price = decimal.RequireFromString("-1") }},
		{"NoMethods", func(in *CreateOrderInput) { in.PaymentMethods = nil }},
		{"UnknownMethod", func(in *CreateOrderInput) {
			in.PaymentMethods = []models.PaymentMethod{"paypal"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validOrderInput()
			tt.mutate(&in)
			_, err := f.eng.CreateOrder(ctx, f.owner, in)
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}
}

func TestSubmitResponse(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	order, err := f.eng.CreateOrder(ctx, f.owner, validOrderInput())
	require.NoError(t, err)

	resp, err := f.eng.SubmitResponse(ctx, f.taker, order.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, models.ResponseStatusWaiting, resp.Status)

	// First response flips the order to has_responses.
	order, err = f.eng.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusHasResponses, order.Status)
}

func TestSubmitResponse_OwnOrder(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	order, err := f.eng.CreateOrder(ctx, f.owner, validOrderInput())
	require.NoError(t, err)

	_, err = f.eng.SubmitResponse(ctx, f.owner, order.ID, "")
	require.Error(t, err)
	assert.Equal(t, KindPermission, KindOf(err))
}

func TestSubmitResponse_OrderInDeal(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, deal := f.runToDeal(t)

	third, err := f.store.CreateUser(ctx, "third", "hash")
	require.NoError(t, err)

	_, err = f.eng.SubmitResponse(ctx, third.ID, deal.OrderID, "late")
	require.Error(t, err)
	assert.Equal(t, KindState, KindOf(err))
}

func TestAcceptResponse(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	order, deal := f.runToDeal(t)

	assert.Equal(t, models.DealStatusInProgress, deal.Status)
	assert.Equal(t, f.owner, deal.AuthorID)
	assert.Equal(t, f.taker, deal.CounterpartyID)
	assert.Equal(t, order.Crypto, deal.Crypto)
	assert.True(t, deal.Amount.Equal(order.Amount), "deal terms are frozen from the order")

	got, err := f.eng.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusInDeal, got.Status)
}

func TestAcceptResponse_NotOwner(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	order, err := f.eng.CreateOrder(ctx, f.owner, validOrderInput())
	require.NoError(t, err)
	resp, err := f.eng.SubmitResponse(ctx, f.taker, order.ID, "")
	require.NoError(t, err)

	_, err = f.eng.AcceptResponse(ctx, f.taker, resp.ID)
	require.Error(t, err)
	assert.Equal(t, KindPermission, KindOf(err))
}

func TestAcceptResponse_SiblingsKeptByDefault(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	third, err := f.store.CreateUser(ctx, "third", "hash")
	require.NoError(t, err)

	order, err := f.eng.CreateOrder(ctx, f.owner, validOrderInput())
	require.NoError(t, err)
	chosen, err := f.eng.SubmitResponse(ctx, f.taker, order.ID, "")
	require.NoError(t, err)
	sibling, err := f.eng.SubmitResponse(ctx, third.ID, order.ID, "")
	require.NoError(t, err)

	_, err = f.eng.AcceptResponse(ctx, f.owner, chosen.ID)
	require.NoError(t, err)

	got, err := f.store.GetResponse(ctx, sibling.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseStatusWaiting, got.Status,
		"losing responses stay waiting unless auto-reject is enabled")
}

func TestAcceptResponse_AutoRejectSiblings(t *testing.T) {
	f := newFixture(t, Config{AutoRejectSiblings: true})
	ctx := context.Background()

	third, err := f.store.CreateUser(ctx, "third", "hash")
	require.NoError(t, err)

	order, err := f.eng.CreateOrder(ctx, f.owner, validOrderInput())
	require.NoError(t, err)
	chosen, err := f.eng.SubmitResponse(ctx, f.taker, order.ID, "")
	require.NoError(t, err)
	sibling, err := f.eng.SubmitResponse(ctx, third.ID, order.ID, "")
	require.NoError(t, err)

	_, err = f.eng.AcceptResponse(ctx, f.owner, chosen.ID)
	require.NoError(t, err)

	got, err := f.store.GetResponse(ctx, sibling.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseStatusRejected, got.Status)
}

func TestAcceptResponse_AlreadyDecided(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, deal := f.runToDeal(t)

	_, err := f.eng.AcceptResponse(ctx, f.owner, deal.ResponseID)
	require.Error(t, err)
	assert.Equal(t, KindState, KindOf(err))
}

func TestRejectResponse(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	order, err := f.eng.CreateOrder(ctx, f.owner, validOrderInput())
	require.NoError(t, err)
	resp, err := f.eng.SubmitResponse(ctx, f.taker, order.ID, "")
	require.NoError(t, err)

	require.NoError(t, f.eng.RejectResponse(ctx, f.owner, resp.ID, "price moved"))

	got, err := f.store.GetResponse(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseStatusRejected, got.Status)
	assert.Equal(t, "price moved", got.RejectReason)

	err = f.eng.RejectResponse(ctx, f.owner, resp.ID, "")
	require.Error(t, err)
	assert.Equal(t, KindState, KindOf(err))
}

func TestConfirm_DualConfirmationCompletes(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	order, deal := f.runToCompleted(t)

	assert.Equal(t, models.DealStatusCompleted, deal.Status)
	assert.NotNil(t, deal.CompletedAt)
	assert.True(t, deal.AuthorConfirmed)
	assert.True(t, deal.CounterConfirmed)
	assert.Equal(t, "receipt.png", deal.CounterProof)

	got, err := f.eng.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, got.Status)

	for _, id := range []int64{f.owner, f.taker} {
		u, err := f.store.GetUserByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, u.CompletedDeals)
	}
}

func TestConfirm_Idempotent(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, deal := f.runToDeal(t)

	first, completed, err := f.eng.Confirm(ctx, f.owner, deal.ID, "")
	require.NoError(t, err)
	assert.False(t, completed)
	assert.Equal(t, models.DealStatusWaitingPayment, first.Status)

	// Same party again: no error, no change.
	second, completed, err := f.eng.Confirm(ctx, f.owner, deal.ID, "")
	require.NoError(t, err)
	assert.False(t, completed)
	assert.Equal(t, first.Status, second.Status)

	// Confirming an already completed deal reports completion.
	_, _, err = f.eng.Confirm(ctx, f.taker, deal.ID, "")
	require.NoError(t, err)
	_, completed, err = f.eng.Confirm(ctx, f.taker, deal.ID, "")
	require.NoError(t, err)
	assert.True(t, completed)
}

func TestConfirm_NotAParty(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, deal := f.runToDeal(t)

	third, err := f.store.CreateUser(ctx, "third", "hash")
	require.NoError(t, err)

	_, _, err = f.eng.Confirm(ctx, third.ID, deal.ID, "")
	require.Error(t, err)
	assert.Equal(t, KindPermission, KindOf(err))
}

func TestCancelDeal_OrderReturnsToMarket(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	order, deal := f.runToDeal(t)

	require.NoError(t, f.eng.CancelDeal(ctx, f.taker, deal.ID))

	got, err := f.eng.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusActive, got.Status,
		"no waiting responses remain, order returns to active")
}

func TestCancelDeal_OrderKeepsWaitingResponses(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	third, err := f.store.CreateUser(ctx, "third", "hash")
	require.NoError(t, err)

	order, err := f.eng.CreateOrder(ctx, f.owner, validOrderInput())
	require.NoError(t, err)
	chosen, err := f.eng.SubmitResponse(ctx, f.taker, order.ID, "")
	require.NoError(t, err)
	_, err = f.eng.SubmitResponse(ctx, third.ID, order.ID, "")
	require.NoError(t, err)

	deal, err := f.eng.AcceptResponse(ctx, f.owner, chosen.ID)
	require.NoError(t, err)
	require.NoError(t, f.eng.CancelDeal(ctx, f.owner, deal.ID))

	got, err := f.eng.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusHasResponses, got.Status)
}

func TestCancelDeal_CompletedIsImmutable(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, deal := f.runToCompleted(t)

	err := f.eng.CancelDeal(ctx, f.owner, deal.ID)
	require.Error(t, err)
	assert.Equal(t, KindState, KindOf(err))
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	order, err := f.eng.CreateOrder(ctx, f.owner, validOrderInput())
	require.NoError(t, err)

	err = f.eng.CancelOrder(ctx, f.taker, order.ID)
	require.Error(t, err)
	assert.Equal(t, KindPermission, KindOf(err))

	require.NoError(t, f.eng.CancelOrder(ctx, f.owner, order.ID))

	err = f.eng.CancelOrder(ctx, f.owner, order.ID)
	require.Error(t, err)
	assert.Equal(t, KindState, KindOf(err))
}

func TestCancelOrder_BlockedByLiveDeal(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	order, _ := f.runToDeal(t)

	err := f.eng.CancelOrder(ctx, f.owner, order.ID)
	require.Error(t, err)
	assert.Equal(t, KindState, KindOf(err))
}

func TestEditOrder(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	order, err := f.eng.CreateOrder(ctx, f.owner, validOrderInput())
	require.NoError(t, err)

	price := decimal.RequireFromString("6000000")
	edited, err := f.eng.EditOrder(ctx, f.owner, order.ID, EditOrderInput{Price: &price})
	require.NoError(t, err)
	assert.True(t, edited.Price.Equal(price))
	assert.True(t, edited.Total.Equal(order.Amount.Mul(price)), "total follows the edit")

	// Once in a deal the order is frozen.
	resp, err := f.eng.SubmitResponse(ctx, f.taker, order.ID, "")
	require.NoError(t, err)
	_, err = f.eng.AcceptResponse(ctx, f.owner, resp.ID)
	require.NoError(t, err)

	_, err = f.eng.EditOrder(ctx, f.owner, order.ID, EditOrderInput{Price: &price})
	require.Error(t, err)
	assert.Equal(t, KindState, KindOf(err))
}

func TestSubmitReview(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, deal := f.runToCompleted(t)

	review, err := f.eng.SubmitReview(ctx, f.taker, SubmitReviewInput{
		DealID: deal.ID, Rating: 5, Comment: "great",
	})
	require.NoError(t, err)
	assert.Equal(t, f.owner, review.ToUserID)
	assert.Equal(t, models.ReviewTypePositive, review.Type)

	profile, err := f.eng.GetProfile(ctx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, 5.0, profile.Stats.Rating)
	assert.Equal(t, 1, profile.Stats.ReviewCount)
	assert.Equal(t, 1, profile.Stats.CompletedDeals)
}

func TestSubmitReview_Gating(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	t.Run("DealNotCompleted", func(t *testing.T) {
		_, deal := f.runToDeal(t)
		_, err := f.eng.SubmitReview(ctx, f.taker, SubmitReviewInput{DealID: deal.ID, Rating: 5})
		require.Error(t, err)
		assert.Equal(t, KindState, KindOf(err))
	})

	t.Run("NotAParty", func(t *testing.T) {
		_, deal := f.runToCompleted(t)
		third, err := f.store.CreateUser(ctx, "third", "hash")
		require.NoError(t, err)
		_, err = f.eng.SubmitReview(ctx, third.ID, SubmitReviewInput{DealID: deal.ID, Rating: 5})
		require.Error(t, err)
		assert.Equal(t, KindPermission, KindOf(err))
	})

	t.Run("SecondReviewConflicts", func(t *testing.T) {
		_, deal := f.runToCompleted(t)
		_, err := f.eng.SubmitReview(ctx, f.taker, SubmitReviewInput{DealID: deal.ID, Rating: 4})
		require.NoError(t, err)
		_, err = f.eng.SubmitReview(ctx, f.taker, SubmitReviewInput{DealID: deal.ID, Rating: 1, Comment: "changed my mind"})
		require.Error(t, err)
		assert.Equal(t, KindConflict, KindOf(err))
	})

	t.Run("LowRatingNeedsComment", func(t *testing.T) {
		_, deal := f.runToCompleted(t)
		_, err := f.eng.SubmitReview(ctx, f.taker, SubmitReviewInput{DealID: deal.ID, Rating: 1})
		require.Error(t, err)
		assert.Equal(t, KindValidation, KindOf(err))
	})

	t.Run("RatingOutOfRange", func(t *testing.T) {
		_, err := f.eng.SubmitReview(ctx, f.taker, SubmitReviewInput{DealID: 1, Rating: 6})
		require.Error(t, err)
		assert.Equal(t, KindValidation, KindOf(err))
	})
}

func TestSubmitReview_BothSidesAndMean(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, deal := f.runToCompleted(t)

	_, err := f.eng.SubmitReview(ctx, f.taker, SubmitReviewInput{DealID: deal.ID, Rating: 5})
	require.NoError(t, err)
	_, err = f.eng.SubmitReview(ctx, f.owner, SubmitReviewInput{DealID: deal.ID, Rating: 3})
	require.NoError(t, err)

	// Second completed deal, second review pair for the owner.
	_, deal2 := f.runToCompleted(t)
	_, err = f.eng.SubmitReview(ctx, f.taker, SubmitReviewInput{DealID: deal2.ID, Rating: 2, Comment: "slow"})
	require.NoError(t, err)

	profile, err := f.eng.GetProfile(ctx, f.owner)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, profile.Stats.Rating, 0.0001)
	assert.Equal(t, 2, profile.Stats.ReviewCount)
}

func TestListReviewsFor_RedactsAnonymous(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, deal := f.runToCompleted(t)

	_, err := f.eng.SubmitReview(ctx, f.taker, SubmitReviewInput{
		DealID: deal.ID, Rating: 5, IsAnonymous: true,
	})
	require.NoError(t, err)

	reviews, err := f.eng.ListReviewsFor(ctx, f.owner, 0, 0)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Zero(t, reviews[0].FromUserID)
	assert.True(t, reviews[0].IsAnonymous)
}

func TestListOrders_DefaultHidesInactive(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	open, err := f.eng.CreateOrder(ctx, f.owner, validOrderInput())
	require.NoError(t, err)
	closed, err := f.eng.CreateOrder(ctx, f.owner, validOrderInput())
	require.NoError(t, err)
	require.NoError(t, f.eng.CancelOrder(ctx, f.owner, closed.ID))

	orders, err := f.eng.ListOrders(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, open.ID, orders[0].ID)

	all, err := f.eng.ListOrders(ctx, ListFilter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGetDeal_Scoping(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, deal := f.runToDeal(t)

	third, err := f.store.CreateUser(ctx, "third", "hash")
	require.NoError(t, err)

	_, err = f.eng.GetDeal(ctx, third.ID, deal.ID)
	require.Error(t, err)
	assert.Equal(t, KindPermission, KindOf(err))

	got, err := f.eng.GetDeal(ctx, f.taker, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, deal.ID, got.ID)
}

func TestMyResponses_Reconciliation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	// Response on an open order: visible.
	openOrder, err := f.eng.CreateOrder(ctx, f.owner, validOrderInput())
	require.NoError(t, err)
	_, err = f.eng.SubmitResponse(ctx, f.taker, openOrder.ID, "")
	require.NoError(t, err)

	// Response on an order that completed: hidden from the responder.
	doneOrder, doneDeal := f.runToDeal(t)
	_, _, err = f.eng.Confirm(ctx, f.owner, doneDeal.ID, "")
	require.NoError(t, err)
	_, _, err = f.eng.Confirm(ctx, f.taker, doneDeal.ID, "")
	require.NoError(t, err)

	views, err := f.eng.MyResponses(ctx, f.taker)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, openOrder.ID, views[0].Response.OrderID)
	require.NotNil(t, views[0].Order)
	assert.NotEqual(t, doneOrder.ID, views[0].Response.OrderID)
}

func TestMyResponses_InDealVisibility(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	third, err := f.store.CreateUser(ctx, "third", "hash")
	require.NoError(t, err)

	order, err := f.eng.CreateOrder(ctx, f.owner, validOrderInput())
	require.NoError(t, err)
	chosen, err := f.eng.SubmitResponse(ctx, f.taker, order.ID, "")
	require.NoError(t, err)
	_, err = f.eng.SubmitResponse(ctx, third.ID, order.ID, "")
	require.NoError(t, err)
	_, err = f.eng.AcceptResponse(ctx, f.owner, chosen.ID)
	require.NoError(t, err)

	// The deal party still sees their response on the in_deal order.
	takerViews, err := f.eng.MyResponses(ctx, f.taker)
	require.NoError(t, err)
	require.Len(t, takerViews, 1)

	// The losing responder does not.
	thirdViews, err := f.eng.MyResponses(ctx, third.ID)
	require.NoError(t, err)
	assert.Empty(t, thirdViews)
}

func TestMyResponses_DanglingOrderDropped(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	// A response whose order was deleted out from under it. The store
	// permits the insert; the view must filter it, not error.
	_, err := f.store.CreateResponse(ctx, &models.Response{
		OrderID: 999, UserID: f.taker, Status: models.ResponseStatusWaiting,
	})
	require.NoError(t, err)

	views, err := f.eng.MyResponses(ctx, f.taker)
	require.NoError(t, err)
	assert.Empty(t, views)

	// The owner view tolerates the same dangling row.
	owners, err := f.eng.ResponsesToMyOrders(ctx, f.owner)
	require.NoError(t, err)
	assert.Empty(t, owners)
}

func TestResponsesToMyOrders_CompletedOrderHidden(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	order, deal := f.runToDeal(t)

	// While the deal is live the owner still sees the accepted response.
	views, err := f.eng.ResponsesToMyOrders(ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, order.ID, views[0].Response.OrderID)

	_, _, err = f.eng.Confirm(ctx, f.owner, deal.ID, "")
	require.NoError(t, err)
	_, _, err = f.eng.Confirm(ctx, f.taker, deal.ID, "")
	require.NoError(t, err)

	// Completion ends the response's relevance, for the owner too.
	views, err = f.eng.ResponsesToMyOrders(ctx, f.owner)
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestResponsesToMyOrders(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	order, err := f.eng.CreateOrder(ctx, f.owner, validOrderInput())
	require.NoError(t, err)
	_, err = f.eng.SubmitResponse(ctx, f.taker, order.ID, "")
	require.NoError(t, err)

	// Owner keeps the view even after cancelling the order.
	require.NoError(t, f.eng.CancelOrder(ctx, f.owner, order.ID))

	views, err := f.eng.ResponsesToMyOrders(ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, order.ID, views[0].Response.OrderID)

	// The responder's own view drops the cancelled order.
	mine, err := f.eng.MyResponses(ctx, f.taker)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestGetProfile_Counters(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.eng.CreateOrder(ctx, f.owner, validOrderInput())
	require.NoError(t, err)
	cancelled, err := f.eng.CreateOrder(ctx, f.owner, validOrderInput())
	require.NoError(t, err)
	require.NoError(t, f.eng.CancelOrder(ctx, f.owner, cancelled.ID))

	profile, err := f.eng.GetProfile(ctx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, 2, profile.Stats.TotalOrders)
	assert.Equal(t, 1, profile.Stats.ActiveOrders)
	assert.Equal(t, 0, profile.Stats.CompletedDeals)
}
