package engine

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/xtrntr/p2pmarket/internal/models"
)

// SubmitReviewInput carries the caller-supplied fields of a review.
type SubmitReviewInput struct {
	DealID      int64
	Rating      int
	Comment     string
	IsAnonymous bool
}

// SubmitReview records feedback about the deal's other party. The deal
// must be completed, the author must be one of its parties, and each
// party reviews a deal at most once. A low rating (<=2) requires a
// comment. The subject's rating aggregate is recomputed atomically with
// the insert.
func (e *Engine) SubmitReview(ctx context.Context, userID int64, in SubmitReviewInput) (*models.Review, error) {
	const op = "engine.SubmitReview"

	if in.Rating < 1 || in.Rating > 5 {
		return nil, errf(KindValidation, op, "rating must be between 1 and 5")
	}
	if in.Rating <= 2 && strings.TrimSpace(in.Comment) == "" {
		return nil, errf(KindValidation, op, "a comment is required for ratings of 2 or below")
	}
	if utf8.RuneCountInString(in.Comment) > e.cfg.MaxCommentLen {
		return nil, errf(KindValidation, op, "comment exceeds %d characters", e.cfg.MaxCommentLen)
	}

	deal, err := e.store.GetDeal(ctx, in.DealID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	if !deal.Party(userID) {
		return nil, errf(KindPermission, op, "only deal parties may leave a review")
	}
	if deal.Status != models.DealStatusCompleted {
		return nil, errf(KindState, op, "reviews require a completed deal, this one is %s", deal.Status)
	}

	if exists, err := e.store.HasReview(ctx, in.DealID, userID); err != nil {
		return nil, storeErr(op, err)
	} else if exists {
		return nil, errf(KindConflict, op, "you already reviewed this deal")
	}

	// The (deal_id, from_user_id) uniqueness in the store closes the race
	// between the check above and this insert.
	review, err := e.store.CreateReview(ctx, &models.Review{
		DealID:      in.DealID,
		FromUserID:  userID,
		ToUserID:    deal.Counterparty(userID),
		Rating:      in.Rating,
		Type:        models.ReviewTypeForRating(in.Rating),
		Comment:     in.Comment,
		IsAnonymous: in.IsAnonymous,
	})
	if err != nil {
		return nil, storeErr(op, err)
	}

	e.log.Info("review submitted", "review_id", review.ID, "deal_id", in.DealID,
		"to_user_id", review.ToUserID, "rating", review.Rating)
	return review, nil
}

const (
	defaultReviewLimit = 20
	maxReviewLimit     = 50
)

// ListReviewsFor returns reviews addressed to a user, newest first, with
// anonymous authors redacted.
func (e *Engine) ListReviewsFor(ctx context.Context, userID int64, limit, offset int) ([]models.Review, error) {
	const op = "engine.ListReviewsFor"

	if limit <= 0 || limit > maxReviewLimit {
		limit = defaultReviewLimit
	}
	if offset < 0 {
		offset = 0
	}
	reviews, err := e.store.ListReviewsFor(ctx, userID, limit, offset)
	if err != nil {
		return nil, storeErr(op, err)
	}
	for i := range reviews {
		reviews[i] = reviews[i].Redacted()
	}
	return reviews, nil
}

// ProfileStats is the per-user activity summary shown on the profile.
type ProfileStats struct {
	Rating         float64 `json:"rating"`
	ReviewCount    int     `json:"review_count"`
	TotalOrders    int     `json:"total_orders"`
	ActiveOrders   int     `json:"active_orders"`
	CompletedDeals int     `json:"completed_deals"`
}

// Profile is a user together with derived stats.
type Profile struct {
	User  *models.User `json:"user"`
	Stats ProfileStats `json:"stats"`
}

// GetProfile assembles a user's public profile. Counters are derived
// from current rows, never cached.
func (e *Engine) GetProfile(ctx context.Context, userID int64) (*Profile, error) {
	const op = "engine.GetProfile"

	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	total, err := e.store.CountOrders(ctx, userID, nil)
	if err != nil {
		return nil, storeErr(op, err)
	}
	active, err := e.store.CountOrders(ctx, userID, []models.OrderStatus{
		models.OrderStatusActive, models.OrderStatusHasResponses, models.OrderStatusInDeal,
	})
	if err != nil {
		return nil, storeErr(op, err)
	}

	return &Profile{
		User: user,
		Stats: ProfileStats{
			Rating:         user.Rating,
			ReviewCount:    user.ReviewCount,
			TotalOrders:    total,
			ActiveOrders:   active,
			CompletedDeals: user.CompletedDeals,
		},
	}, nil
}
