package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xtrntr/p2pmarket/internal/models"
)

// MemoryStore is an in-process Store used when no DATABASE_URL is
// configured and by the engine/API tests. One mutex guards all tables;
// every method therefore has the same atomicity the Postgres store gets
// from transactions. Values are copied on the way in and out.
type MemoryStore struct {
	mu        sync.Mutex
	users     map[int64]*models.User
	orders    map[int64]*models.Order
	responses map[int64]*models.Response
	deals     map[int64]*models.Deal
	reviews   map[int64]*models.Review
	nextID    int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[int64]*models.User),
		orders:    make(map[int64]*models.Order),
		responses: make(map[int64]*models.Response),
		deals:     make(map[int64]*models.Deal),
		reviews:   make(map[int64]*models.Review),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }
func (s *MemoryStore) Close()                         {}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func copyUser(u *models.User) *models.User {
	c := *u
	return &c
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	c.PaymentMethods = append([]models.PaymentMethod(nil), o.PaymentMethods...)
	return &c
}

func copyResponse(r *models.Response) *models.Response {
	c := *r
	return &c
}

func copyDeal(d *models.Deal) *models.Deal {
	c := *d
	c.PaymentMethods = append([]models.PaymentMethod(nil), d.PaymentMethods...)
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func copyReview(r *models.Review) *models.Review {
	c := *r
	return &c
}

// --- users ---

func (s *MemoryStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return nil, ErrDuplicate
		}
	}
	u := &models.User{
		ID:           s.id(),
		Username:     username,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	s.users[u.ID] = u
	return copyUser(u), nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

// --- orders ---

func (s *MemoryStore) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := copyOrder(order)
	o.ID = s.id()
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
	s.orders[o.ID] = o
	return copyOrder(o), nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOrder(o), nil
}

func (s *MemoryStore) UpdateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[order.ID]
	if !ok {
		return ErrNotFound
	}
	o.Amount = order.Amount
	o.Price = order.Price
	o.Total = order.Total
	o.PaymentMethods = append([]models.PaymentMethod(nil), order.PaymentMethods...)
	o.Description = order.Description
	o.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateOrderStatus(ctx context.Context, id int64, from, to models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.casOrderStatus(id, from, to)
}

// casOrderStatus requires s.mu held.
func (s *MemoryStore) casOrderStatus(id int64, from, to models.OrderStatus) error {
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != from {
		return ErrStale
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orders []models.Order
	for _, o := range s.orders {
		if filter.Side != nil && o.Side != *filter.Side {
			continue
		}
		if filter.Crypto != "" && o.Crypto != filter.Crypto {
			continue
		}
		if filter.Fiat != "" && o.Fiat != filter.Fiat {
			continue
		}
		if filter.UserID != nil && o.UserID != *filter.UserID {
			continue
		}
		if len(filter.Statuses) > 0 {
			match := false
			for _, st := range filter.Statuses {
				if o.Status == st {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		orders = append(orders, *copyOrder(o))
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(orders) {
			return nil, nil
		}
		orders = orders[filter.Offset:]
	}
	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}
	return orders, nil
}

func (s *MemoryStore) CountOrders(ctx context.Context, userID int64, statuses []models.OrderStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, o := range s.orders {
		if o.UserID != userID {
			continue
		}
		if len(statuses) == 0 {
			n++
			continue
		}
		for _, st := range statuses {
			if o.Status == st {
				n++
				break
			}
		}
	}
	return n, nil
}

// --- responses ---

func (s *MemoryStore) CreateResponse(ctx context.Context, resp *models.Response) (*models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.responses {
		if r.OrderID == resp.OrderID && r.UserID == resp.UserID && r.Status == models.ResponseStatusWaiting {
			return nil, ErrDuplicate
		}
	}
	r := copyResponse(resp)
	r.ID = s.id()
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.responses[r.ID] = r
	return copyResponse(r), nil
}

func (s *MemoryStore) GetResponse(ctx context.Context, id int64) (*models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.responses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyResponse(r), nil
}

func (s *MemoryStore) UpdateResponseStatus(ctx context.Context, id int64, from, to models.ResponseStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.responses[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != from {
		return ErrStale
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) RejectResponse(ctx context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.responses[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != models.ResponseStatusWaiting {
		return ErrStale
	}
	r.Status = models.ResponseStatusRejected
	r.RejectReason = reason
	r.UpdatedAt = time.Now()
	return nil
}

func sortResponses(responses []models.Response) {
	sort.Slice(responses, func(i, j int) bool {
		if responses[i].CreatedAt.Equal(responses[j].CreatedAt) {
			return responses[i].ID > responses[j].ID
		}
		return responses[i].CreatedAt.After(responses[j].CreatedAt)
	})
}

func (s *MemoryStore) ListResponsesByUser(ctx context.Context, userID int64) ([]models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Response
	for _, r := range s.responses {
		if r.UserID == userID {
			out = append(out, *copyResponse(r))
		}
	}
	sortResponses(out)
	return out, nil
}

func (s *MemoryStore) ListResponsesForOwner(ctx context.Context, ownerID int64) ([]models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Response
	for _, r := range s.responses {
		if o, ok := s.orders[r.OrderID]; ok && o.UserID == ownerID {
			out = append(out, *copyResponse(r))
		}
	}
	sortResponses(out)
	return out, nil
}

func (s *MemoryStore) ListResponsesForOrder(ctx context.Context, orderID int64) ([]models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Response
	for _, r := range s.responses {
		if r.OrderID == orderID {
			out = append(out, *copyResponse(r))
		}
	}
	sortResponses(out)
	return out, nil
}

// --- deals ---

func (s *MemoryStore) AcceptResponse(ctx context.Context, responseID int64, deal *models.Deal, rejectSiblings bool) (*models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[deal.OrderID]
	if !ok {
		return nil, ErrNotFound
	}
	if !order.Status.Open() {
		return nil, ErrStale
	}
	resp, ok := s.responses[responseID]
	if !ok {
		return nil, ErrNotFound
	}
	if resp.Status != models.ResponseStatusWaiting {
		return nil, ErrStale
	}
	for _, d := range s.deals {
		if d.OrderID == deal.OrderID && !d.Status.Terminal() {
			return nil, ErrDuplicate
		}
	}

	now := time.Now()
	resp.Status = models.ResponseStatusAccepted
	resp.UpdatedAt = now
	order.Status = models.OrderStatusInDeal
	order.UpdatedAt = now

	d := copyDeal(deal)
	d.ID = s.id()
	d.CreatedAt = now
	s.deals[d.ID] = d

	if rejectSiblings {
		for _, r := range s.responses {
			if r.OrderID == deal.OrderID && r.Status == models.ResponseStatusWaiting {
				r.Status = models.ResponseStatusRejected
				r.UpdatedAt = now
			}
		}
	}
	return copyDeal(d), nil
}

func (s *MemoryStore) GetDeal(ctx context.Context, id int64) (*models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDeal(d), nil
}

func (s *MemoryStore) GetOpenDealForOrder(ctx context.Context, orderID int64) (*models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.deals {
		if d.OrderID == orderID && !d.Status.Terminal() {
			return copyDeal(d), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListDealsByUser(ctx context.Context, userID int64) ([]models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Deal
	for _, d := range s.deals {
		if d.AuthorID == userID || d.CounterpartyID == userID {
			out = append(out, *copyDeal(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ConfirmDeal(ctx context.Context, deal *models.Deal, completed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deals[deal.ID]
	if !ok {
		return ErrNotFound
	}
	d.AuthorConfirmed = deal.AuthorConfirmed
	d.CounterConfirmed = deal.CounterConfirmed
	d.AuthorProof = deal.AuthorProof
	d.CounterProof = deal.CounterProof
	d.Status = deal.Status
	if deal.CompletedAt != nil {
		t := *deal.CompletedAt
		d.CompletedAt = &t
	}

	if completed {
		if o, ok := s.orders[d.OrderID]; ok {
			o.Status = models.OrderStatusCompleted
			o.UpdatedAt = time.Now()
		}
		for _, id := range []int64{d.AuthorID, d.CounterpartyID} {
			if u, ok := s.users[id]; ok {
				u.CompletedDeals++
			}
		}
	}
	return nil
}

func (s *MemoryStore) CancelDeal(ctx context.Context, deal *models.Deal, orderStatus models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deals[deal.ID]
	if !ok {
		return ErrNotFound
	}
	if d.Status.Terminal() {
		return ErrStale
	}
	d.Status = models.DealStatusCancelled
	if o, ok := s.orders[d.OrderID]; ok {
		o.Status = orderStatus
		o.UpdatedAt = time.Now()
	}
	return nil
}

// --- reviews ---

func (s *MemoryStore) CreateReview(ctx context.Context, review *models.Review) (*models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.reviews {
		if r.DealID == review.DealID && r.FromUserID == review.FromUserID {
			return nil, ErrDuplicate
		}
	}
	r := copyReview(review)
	r.ID = s.id()
	r.CreatedAt = time.Now()
	s.reviews[r.ID] = r

	// Recompute the subject's aggregate from scratch, same as the SQL
	// store does with AVG.
	if u, ok := s.users[r.ToUserID]; ok {
		sum, n := 0, 0
		for _, rv := range s.reviews {
			if rv.ToUserID == r.ToUserID {
				sum += rv.Rating
				n++
			}
		}
		u.Rating = float64(sum) / float64(n)
		u.ReviewCount = n
	}
	return copyReview(r), nil
}

func (s *MemoryStore) HasReview(ctx context.Context, dealID, fromUserID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.reviews {
		if r.DealID == dealID && r.FromUserID == fromUserID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListReviewsFor(ctx context.Context, userID int64, limit, offset int) ([]models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Review
	for _, r := range s.reviews {
		if r.ToUserID == userID {
			out = append(out, *copyReview(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
