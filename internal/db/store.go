package db

import (
	"context"
	"errors"

	"github.com/xtrntr/p2pmarket/internal/models"
)

// Sentinel errors shared by every Store implementation. The engine maps
// them onto its caller-facing taxonomy.
var (
	// ErrNotFound means the referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate means a uniqueness constraint was violated (username,
	// waiting response per order+responder, open deal per order, review
	// per deal+author).
	ErrDuplicate = errors.New("duplicate")
	// ErrStale means a compare-and-swap status update found the row in a
	// different state than the caller observed.
	ErrStale = errors.New("stale status")
)

// Store is the ledger: durable keyed storage for users, orders,
// responses, deals and reviews. Implementations must apply each method
// atomically; the multi-entity methods (AcceptResponse, ConfirmDeal,
// CancelDeal, CreateReview) span several rows and must commit or fail as
// one unit. Status updates are compare-and-swap on the previously
// observed status so concurrent writers cannot both succeed.
type Store interface {
	// Users.
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// Orders.
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	UpdateOrderStatus(ctx context.Context, id int64, from, to models.OrderStatus) error
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)
	CountOrders(ctx context.Context, userID int64, statuses []models.OrderStatus) (int, error)

	// Responses.
	CreateResponse(ctx context.Context, resp *models.Response) (*models.Response, error)
	GetResponse(ctx context.Context, id int64) (*models.Response, error)
	UpdateResponseStatus(ctx context.Context, id int64, from, to models.ResponseStatus) error
	// RejectResponse moves a waiting response to rejected and stores the
	// owner's optional reason alongside.
	RejectResponse(ctx context.Context, id int64, reason string) error
	ListResponsesByUser(ctx context.Context, userID int64) ([]models.Response, error)
	ListResponsesForOwner(ctx context.Context, ownerID int64) ([]models.Response, error)
	ListResponsesForOrder(ctx context.Context, orderID int64) ([]models.Response, error)

	// Deals. AcceptResponse atomically marks the response accepted, moves
	// the order to in_deal, inserts the deal and, when rejectSiblings is
	// set, rejects every other waiting response on the order.
	AcceptResponse(ctx context.Context, responseID int64, deal *models.Deal, rejectSiblings bool) (*models.Deal, error)
	GetDeal(ctx context.Context, id int64) (*models.Deal, error)
	GetOpenDealForOrder(ctx context.Context, orderID int64) (*models.Deal, error)
	ListDealsByUser(ctx context.Context, userID int64) ([]models.Deal, error)
	// ConfirmDeal persists the already computed confirmation state of the
	// deal. When completed is set it also marks the order completed and
	// bumps both parties' completed-deal counters.
	ConfirmDeal(ctx context.Context, deal *models.Deal, completed bool) error
	// CancelDeal marks the deal cancelled and returns its order to
	// orderStatus in the same unit.
	CancelDeal(ctx context.Context, deal *models.Deal, orderStatus models.OrderStatus) error

	// Reviews. CreateReview inserts the review and recomputes the
	// subject's rating as the mean of all reviews addressed to them in
	// the same unit.
	CreateReview(ctx context.Context, review *models.Review) (*models.Review, error)
	HasReview(ctx context.Context, dealID, fromUserID int64) (bool, error)
	ListReviewsFor(ctx context.Context, userID int64, limit, offset int) ([]models.Review, error)

	Ping(ctx context.Context) error
	Close()
}
