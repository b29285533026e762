package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xtrntr/p2pmarket/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the PostgreSQL-backed Store. All multi-entity transitions run in
// a single transaction with row locks on the order, so two concurrent
// accepts of the same order cannot both commit.
type DB struct {
	Pool *pgxpool.Pool
}

var _ Store = (*DB)(nil)

// NewDB initializes a new database connection pool.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

func (db *DB) Close() {
	db.Pool.Close()
}

// mapErr translates driver errors into the store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func methodsOut(methods []models.PaymentMethod) []string {
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = string(m)
	}
	return out
}

func methodsIn(raw []string) []models.PaymentMethod {
	out := make([]models.PaymentMethod, len(raw))
	for i, s := range raw {
		out[i] = models.PaymentMethod(s)
	}
	return out
}

// --- users ---

const userCols = "id, username, password_hash, rating, review_count, completed_deals, is_active, created_at"

func scanUser(row pgx.Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Rating, &u.ReviewCount,
		&u.CompletedDeals, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	return scanUser(db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING "+userCols,
		username, passwordHash))
}

func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(db.Pool.QueryRow(ctx,
		"SELECT "+userCols+" FROM users WHERE id = $1", id))
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(db.Pool.QueryRow(ctx,
		"SELECT "+userCols+" FROM users WHERE username = $1", username))
}

// --- orders ---

const orderCols = "id, user_id, side, crypto, fiat, amount, price, total, payment_methods, description, status, created_at, updated_at"

func scanOrder(row pgx.Row) (*models.Order, error) {
	o := &models.Order{}
	var methods []string
	err := row.Scan(&o.ID, &o.UserID, &o.Side, &o.Crypto, &o.Fiat, &o.Amount, &o.Price,
		&o.Total, &methods, &o.Description, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	o.PaymentMethods = methodsIn(methods)
	return o, nil
}

func (db *DB) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	return scanOrder(db.Pool.QueryRow(ctx,
		`INSERT INTO orders (user_id, side, crypto, fiat, amount, price, total, payment_methods, description, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING `+orderCols,
		order.UserID, order.Side, order.Crypto, order.Fiat, order.Amount, order.Price,
		order.Total, methodsOut(order.PaymentMethods), order.Description, order.Status))
}

func (db *DB) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return scanOrder(db.Pool.QueryRow(ctx,
		"SELECT "+orderCols+" FROM orders WHERE id = $1", id))
}

// UpdateOrder persists the editable fields of an order.
func (db *DB) UpdateOrder(ctx context.Context, order *models.Order) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE orders SET amount = $2, price = $3, total = $4, payment_methods = $5,
		 description = $6, updated_at = NOW() WHERE id = $1`,
		order.ID, order.Amount, order.Price, order.Total,
		methodsOut(order.PaymentMethods), order.Description)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateOrderStatus is a compare-and-swap on the status column.
func (db *DB) UpdateOrderStatus(ctx context.Context, id int64, from, to models.OrderStatus) error {
	tag, err := db.Pool.Exec(ctx,
		"UPDATE orders SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2",
		id, from, to)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.Pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", id).Scan(&exists); err != nil {
			return mapErr(err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStale
	}
	return nil
}

func (db *DB) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	query := "SELECT " + orderCols + " FROM orders"
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Side != nil {
		conds = append(conds, "side = "+arg(*filter.Side))
	}
	if filter.Crypto != "" {
		conds = append(conds, "crypto = "+arg(filter.Crypto))
	}
	if filter.Fiat != "" {
		conds = append(conds, "fiat = "+arg(filter.Fiat))
	}
	if filter.UserID != nil {
		conds = append(conds, "user_id = "+arg(*filter.UserID))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		conds = append(conds, "status = ANY("+arg(statuses)+")")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, mapErr(rows.Err())
}

func (db *DB) CountOrders(ctx context.Context, userID int64, statuses []models.OrderStatus) (int, error) {
	query := "SELECT COUNT(*) FROM orders WHERE user_id = $1"
	args := []any{userID}
	if len(statuses) > 0 {
		raw := make([]string, len(statuses))
		for i, s := range statuses {
			raw[i] = string(s)
		}
		query += " AND status = ANY($2)"
		args = append(args, raw)
	}
	var n int
	if err := db.Pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

// --- responses ---

const responseCols = "id, order_id, user_id, message, status, reject_reason, created_at, updated_at"

func scanResponse(row pgx.Row) (*models.Response, error) {
	r := &models.Response{}
	err := row.Scan(&r.ID, &r.OrderID, &r.UserID, &r.Message, &r.Status, &r.RejectReason, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return r, nil
}

func (db *DB) CreateResponse(ctx context.Context, resp *models.Response) (*models.Response, error) {
	// The partial unique index on (order_id, user_id) WHERE status='waiting'
	// turns a concurrent duplicate into ErrDuplicate.
	return scanResponse(db.Pool.QueryRow(ctx,
		`INSERT INTO responses (order_id, user_id, message, status)
		 VALUES ($1, $2, $3, $4) RETURNING `+responseCols,
		resp.OrderID, resp.UserID, resp.Message, resp.Status))
}

func (db *DB) GetResponse(ctx context.Context, id int64) (*models.Response, error) {
	return scanResponse(db.Pool.QueryRow(ctx,
		"SELECT "+responseCols+" FROM responses WHERE id = $1", id))
}

func (db *DB) UpdateResponseStatus(ctx context.Context, id int64, from, to models.ResponseStatus) error {
	tag, err := db.Pool.Exec(ctx,
		"UPDATE responses SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2",
		id, from, to)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.Pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM responses WHERE id = $1)", id).Scan(&exists); err != nil {
			return mapErr(err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStale
	}
	return nil
}

func (db *DB) RejectResponse(ctx context.Context, id int64, reason string) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE responses SET status = $2, reject_reason = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $4`,
		id, models.ResponseStatusRejected, reason, models.ResponseStatusWaiting)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.Pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM responses WHERE id = $1)", id).Scan(&exists); err != nil {
			return mapErr(err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStale
	}
	return nil
}

func (db *DB) listResponses(ctx context.Context, query string, args ...any) ([]models.Response, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var responses []models.Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		responses = append(responses, *r)
	}
	return responses, mapErr(rows.Err())
}

func (db *DB) ListResponsesByUser(ctx context.Context, userID int64) ([]models.Response, error) {
	return db.listResponses(ctx,
		"SELECT "+responseCols+" FROM responses WHERE user_id = $1 ORDER BY created_at DESC, id DESC",
		userID)
}

func (db *DB) ListResponsesForOwner(ctx context.Context, ownerID int64) ([]models.Response, error) {
	return db.listResponses(ctx,
		`SELECT r.id, r.order_id, r.user_id, r.message, r.status, r.reject_reason, r.created_at, r.updated_at
		 FROM responses r JOIN orders o ON r.order_id = o.id
		 WHERE o.user_id = $1 ORDER BY r.created_at DESC, r.id DESC`,
		ownerID)
}

func (db *DB) ListResponsesForOrder(ctx context.Context, orderID int64) ([]models.Response, error) {
	return db.listResponses(ctx,
		"SELECT "+responseCols+" FROM responses WHERE order_id = $1 ORDER BY created_at DESC, id DESC",
		orderID)
}

// --- deals ---

const dealCols = `id, order_id, response_id, author_id, counterparty_id, side, crypto, fiat,
	amount, price, total, payment_methods, author_confirmed, counter_confirmed,
	author_proof, counter_proof, status, created_at, completed_at`

func scanDeal(row pgx.Row) (*models.Deal, error) {
	d := &models.Deal{}
	var methods []string
	err := row.Scan(&d.ID, &d.OrderID, &d.ResponseID, &d.AuthorID, &d.CounterpartyID,
		&d.Side, &d.Crypto, &d.Fiat, &d.Amount, &d.Price, &d.Total, &methods,
		&d.AuthorConfirmed, &d.CounterConfirmed, &d.AuthorProof, &d.CounterProof,
		&d.Status, &d.CreatedAt, &d.CompletedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	d.PaymentMethods = methodsIn(methods)
	return d, nil
}

// AcceptResponse applies the accept transition as one transaction: the
// order row is locked, the response flips waiting->accepted, the order
// flips to in_deal, the deal is inserted and siblings are optionally
// rejected. ErrStale reports a lost race with a concurrent accept.
func (db *DB) AcceptResponse(ctx context.Context, responseID int64, deal *models.Deal, rejectSiblings bool) (*models.Deal, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	defer tx.Rollback(ctx)

	var orderStatus models.OrderStatus
	err = tx.QueryRow(ctx,
		"SELECT status FROM orders WHERE id = $1 FOR UPDATE", deal.OrderID).Scan(&orderStatus)
	if err != nil {
		return nil, mapErr(err)
	}
	if !orderStatus.Open() {
		return nil, ErrStale
	}

	tag, err := tx.Exec(ctx,
		"UPDATE responses SET status = 'accepted', updated_at = NOW() WHERE id = $1 AND status = 'waiting'",
		responseID)
	if err != nil {
		return nil, mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrStale
	}

	if _, err := tx.Exec(ctx,
		"UPDATE orders SET status = 'in_deal', updated_at = NOW() WHERE id = $1", deal.OrderID); err != nil {
		return nil, mapErr(err)
	}

	created, err := scanDeal(tx.QueryRow(ctx,
		`INSERT INTO deals (order_id, response_id, author_id, counterparty_id, side, crypto, fiat,
		 amount, price, total, payment_methods, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING `+dealCols,
		deal.OrderID, deal.ResponseID, deal.AuthorID, deal.CounterpartyID, deal.Side,
		deal.Crypto, deal.Fiat, deal.Amount, deal.Price, deal.Total,
		methodsOut(deal.PaymentMethods), deal.Status))
	if err != nil {
		return nil, err
	}

	if rejectSiblings {
		if _, err := tx.Exec(ctx,
			"UPDATE responses SET status = 'rejected', updated_at = NOW() WHERE order_id = $1 AND status = 'waiting'",
			deal.OrderID); err != nil {
			return nil, mapErr(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapErr(err)
	}
	return created, nil
}

func (db *DB) GetDeal(ctx context.Context, id int64) (*models.Deal, error) {
	return scanDeal(db.Pool.QueryRow(ctx,
		"SELECT "+dealCols+" FROM deals WHERE id = $1", id))
}

func (db *DB) GetOpenDealForOrder(ctx context.Context, orderID int64) (*models.Deal, error) {
	return scanDeal(db.Pool.QueryRow(ctx,
		"SELECT "+dealCols+" FROM deals WHERE order_id = $1 AND status IN ('in_progress', 'waiting_payment')",
		orderID))
}

func (db *DB) ListDealsByUser(ctx context.Context, userID int64) ([]models.Deal, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+dealCols+" FROM deals WHERE author_id = $1 OR counterparty_id = $1 ORDER BY created_at DESC, id DESC",
		userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var deals []models.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, mapErr(rows.Err())
}

// ConfirmDeal persists confirmation flags, proofs and status computed by
// the engine. On completion the order and both parties' counters are
// updated in the same transaction.
func (db *DB) ConfirmDeal(ctx context.Context, deal *models.Deal, completed bool) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE deals SET author_confirmed = $2, counter_confirmed = $3, author_proof = $4,
		 counter_proof = $5, status = $6, completed_at = $7 WHERE id = $1`,
		deal.ID, deal.AuthorConfirmed, deal.CounterConfirmed, deal.AuthorProof,
		deal.CounterProof, deal.Status, deal.CompletedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if completed {
		if _, err := tx.Exec(ctx,
			"UPDATE orders SET status = 'completed', updated_at = NOW() WHERE id = $1",
			deal.OrderID); err != nil {
			return mapErr(err)
		}
		if _, err := tx.Exec(ctx,
			"UPDATE users SET completed_deals = completed_deals + 1 WHERE id = ANY($1)",
			[]int64{deal.AuthorID, deal.CounterpartyID}); err != nil {
			return mapErr(err)
		}
	}

	return mapErr(tx.Commit(ctx))
}

func (db *DB) CancelDeal(ctx context.Context, deal *models.Deal, orderStatus models.OrderStatus) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		"UPDATE deals SET status = 'cancelled' WHERE id = $1 AND status IN ('in_progress', 'waiting_payment')",
		deal.ID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}

	if _, err := tx.Exec(ctx,
		"UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1",
		deal.OrderID, orderStatus); err != nil {
		return mapErr(err)
	}

	return mapErr(tx.Commit(ctx))
}

// --- reviews ---

const reviewCols = "id, deal_id, from_user_id, to_user_id, rating, type, comment, is_anonymous, created_at"

func scanReview(row pgx.Row) (*models.Review, error) {
	r := &models.Review{}
	err := row.Scan(&r.ID, &r.DealID, &r.FromUserID, &r.ToUserID, &r.Rating, &r.Type,
		&r.Comment, &r.IsAnonymous, &r.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return r, nil
}

// CreateReview inserts the review and recomputes the subject's rating
// from scratch. AVG over all rows avoids the drift an incremental update
// accumulates.
func (db *DB) CreateReview(ctx context.Context, review *models.Review) (*models.Review, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	defer tx.Rollback(ctx)

	created, err := scanReview(tx.QueryRow(ctx,
		`INSERT INTO reviews (deal_id, from_user_id, to_user_id, rating, type, comment, is_anonymous)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+reviewCols,
		review.DealID, review.FromUserID, review.ToUserID, review.Rating, review.Type,
		review.Comment, review.IsAnonymous))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users SET
		 rating = (SELECT AVG(rating) FROM reviews WHERE to_user_id = $1),
		 review_count = (SELECT COUNT(*) FROM reviews WHERE to_user_id = $1)
		 WHERE id = $1`,
		review.ToUserID); err != nil {
		return nil, mapErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapErr(err)
	}
	return created, nil
}

func (db *DB) HasReview(ctx context.Context, dealID, fromUserID int64) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM reviews WHERE deal_id = $1 AND from_user_id = $2)",
		dealID, fromUserID).Scan(&exists)
	return exists, mapErr(err)
}

func (db *DB) ListReviewsFor(ctx context.Context, userID int64, limit, offset int) ([]models.Review, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+reviewCols+" FROM reviews WHERE to_user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3",
		userID, limit, offset)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, *r)
	}
	return reviews, mapErr(rows.Err())
}
