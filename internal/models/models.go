package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered marketplace participant. Users are never
// deleted, only deactivated; Rating is the arithmetic mean of all reviews
// addressed to them, recomputed on every review insert.
type User struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	PasswordHash   string    `json:"-"`
	Rating         float64   `json:"rating"`
	ReviewCount    int       `json:"review_count"`
	CompletedDeals int       `json:"completed_deals"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// OrderSide is the direction of an order: buying or selling crypto.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderStatus is a closed enum; transitions go through CanTransition.
type OrderStatus string

const (
	OrderStatusActive       OrderStatus = "active"
	OrderStatusHasResponses OrderStatus = "has_responses"
	OrderStatusInDeal       OrderStatus = "in_deal"
	OrderStatusCompleted    OrderStatus = "completed"
	OrderStatusCancelled    OrderStatus = "cancelled"
	OrderStatusExpired      OrderStatus = "expired"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusActive, OrderStatusHasResponses, OrderStatusInDeal,
		OrderStatusCompleted, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusExpired
}

// Open reports whether the order is visible on the market and accepts
// responses.
func (s OrderStatus) Open() bool {
	return s == OrderStatusActive || s == OrderStatusHasResponses
}

// orderTransitions enumerates every legal order status change. Nothing in
// the system triggers "expired" yet; it is listed so a future sweeper can
// mark rows without an engine change.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusActive:       {OrderStatusHasResponses, OrderStatusCancelled, OrderStatusExpired},
	OrderStatusHasResponses: {OrderStatusActive, OrderStatusInDeal, OrderStatusCancelled, OrderStatusExpired},
	OrderStatusInDeal:       {OrderStatusActive, OrderStatusHasResponses, OrderStatusCompleted},
}

func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, t := range orderTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// PaymentMethod enumerates accepted settlement rails.
type PaymentMethod string

const (
	PaymentMethodSBP      PaymentMethod = "sbp"
	PaymentMethodBank     PaymentMethod = "bank_transfer"
	PaymentMethodSberbank PaymentMethod = "sberbank"
	PaymentMethodTinkoff  PaymentMethod = "tinkoff"
	PaymentMethodQIWI     PaymentMethod = "qiwi"
	PaymentMethodYooMoney PaymentMethod = "yandex_money"
	PaymentMethodCash     PaymentMethod = "cash"
	PaymentMethodOther    PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodSBP, PaymentMethodBank, PaymentMethodSberbank,
		PaymentMethodTinkoff, PaymentMethodQIWI, PaymentMethodYooMoney,
		PaymentMethodCash, PaymentMethodOther:
		return true
	}
	return false
}

// Order is a standing offer to buy or sell an asset amount at a price.
// Status changes are owned by the engine; rows are never deleted.
type Order struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	Side           OrderSide       `json:"side"`
	Crypto         string          `json:"crypto"`
	Fiat           string          `json:"fiat"`
	Amount         decimal.Decimal `json:"amount"`
	Price          decimal.Decimal `json:"price"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethods []PaymentMethod `json:"payment_methods"`
	Description    string          `json:"description,omitempty"`
	Status         OrderStatus     `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ResponseStatus is terminal once accepted or rejected.
type ResponseStatus string

const (
	ResponseStatusWaiting  ResponseStatus = "waiting"
	ResponseStatusAccepted ResponseStatus = "accepted"
	ResponseStatusRejected ResponseStatus = "rejected"
)

func (s ResponseStatus) Valid() bool {
	return s == ResponseStatusWaiting || s == ResponseStatusAccepted || s == ResponseStatusRejected
}

func (s ResponseStatus) Terminal() bool {
	return s == ResponseStatusAccepted || s == ResponseStatusRejected
}

// Response is a counterparty's bid to take an order. At most one waiting
// response may exist per (order, responder) pair.
type Response struct {
	ID           int64          `json:"id"`
	OrderID      int64          `json:"order_id"`
	UserID       int64          `json:"user_id"`
	Message      string         `json:"message,omitempty"`
	Status       ResponseStatus `json:"status"`
	RejectReason string         `json:"reject_reason,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// DealStatus is a closed enum; a deal completes only through dual
// confirmation.
type DealStatus string

const (
	DealStatusInProgress     DealStatus = "in_progress"
	DealStatusWaitingPayment DealStatus = "waiting_payment"
	DealStatusCompleted      DealStatus = "completed"
	DealStatusCancelled      DealStatus = "cancelled"
	DealStatusExpired        DealStatus = "expired"
)

func (s DealStatus) Valid() bool {
	switch s {
	case DealStatusInProgress, DealStatusWaitingPayment, DealStatusCompleted,
		DealStatusCancelled, DealStatusExpired:
		return true
	}
	return false
}

func (s DealStatus) Terminal() bool {
	return s == DealStatusCompleted || s == DealStatusCancelled || s == DealStatusExpired
}

// Deal is the binding agreement created when a response is accepted. The
// trade terms are copied from the order at acceptance time and immutable
// thereafter. Confirmation flags are monotonic and each settable only by
// its own party.
type Deal struct {
	ID               int64           `json:"id"`
	OrderID          int64           `json:"order_id"`
	ResponseID       int64           `json:"response_id"`
	AuthorID         int64           `json:"author_id"`
	CounterpartyID   int64           `json:"counterparty_id"`
	Side             OrderSide       `json:"side"`
	Crypto           string          `json:"crypto"`
	Fiat             string          `json:"fiat"`
	Amount           decimal.Decimal `json:"amount"`
	Price            decimal.Decimal `json:"price"`
	Total            decimal.Decimal `json:"total"`
	PaymentMethods   []PaymentMethod `json:"payment_methods"`
	AuthorConfirmed  bool            `json:"author_confirmed"`
	CounterConfirmed bool            `json:"counter_confirmed"`
	AuthorProof      string          `json:"author_proof,omitempty"`
	CounterProof     string          `json:"counter_proof,omitempty"`
	Status           DealStatus      `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// Party reports whether userID is one of the deal's two sides.
func (d *Deal) Party(userID int64) bool {
	return userID == d.AuthorID || userID == d.CounterpartyID
}

// Counterparty returns the other side of the deal relative to userID.
// Callers must check Party first.
func (d *Deal) Counterparty(userID int64) int64 {
	if userID == d.AuthorID {
		return d.CounterpartyID
	}
	return d.AuthorID
}

// ReviewType buckets a star rating for display.
type ReviewType string

const (
	ReviewTypePositive ReviewType = "positive"
	ReviewTypeNeutral  ReviewType = "neutral"
	ReviewTypeNegative ReviewType = "negative"
)

// ReviewTypeForRating derives the bucket from a 1-5 star rating.
func ReviewTypeForRating(rating int) ReviewType {
	switch {
	case rating >= 4:
		return ReviewTypePositive
	case rating == 3:
		return ReviewTypeNeutral
	default:
		return ReviewTypeNegative
	}
}

// Review is post-completion feedback from one deal party about the other.
// Anonymous reviews keep FromUserID in storage; read paths redact it.
type Review struct {
	ID          int64      `json:"id"`
	DealID      int64      `json:"deal_id"`
	FromUserID  int64      `json:"from_user_id,omitempty"`
	ToUserID    int64      `json:"to_user_id"`
	Rating      int        `json:"rating"`
	Type        ReviewType `json:"type"`
	Comment     string     `json:"comment,omitempty"`
	IsAnonymous bool       `json:"is_anonymous"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Redacted returns a copy safe to hand to readers: the author of an
// anonymous review is hidden.
func (r Review) Redacted() Review {
	if r.IsAnonymous {
		r.FromUserID = 0
	}
	return r
}

// OrderFilter narrows ListOrders. An empty Statuses means no status
// filtering; callers wanting only open orders pass them explicitly.
type OrderFilter struct {
	Side     *OrderSide
	Crypto   string
	Fiat     string
	Statuses []OrderStatus
	UserID   *int64
	Limit    int
	Offset   int
}
