// Package engine owns the trade lifecycle: order creation and
// cancellation, responses and their accept/reject transitions, the deal
// dual-confirmation protocol, reviews with rating aggregation, and the
// reconciliation of the three into a consistent per-user view.
//
// Every mutation of an order or of anything hanging off it runs under a
// per-order lock, so concurrent accepts, confirms and cancels serialize
// into one effective transition. Reads take no locks; the reconciliation
// view tolerates the torn states that allows.
package engine

import (
	"log/slog"

	"github.com/xtrntr/p2pmarket/internal/db"
)

// Config tunes engine behavior.
type Config struct {
	// AutoRejectSiblings rejects every other waiting response when one is
	// accepted. Off by default: the owner keeps the option of revisiting
	// if the deal is cancelled, and the reconciliation view hides stale
	// waiting responses either way.
	AutoRejectSiblings bool
	// Length bounds for free-text fields, in runes. Zero means default.
	MaxDescriptionLen int
	MaxMessageLen     int
	MaxCommentLen     int
}

const defaultTextLen = 500

func (c Config) withDefaults() Config {
	if c.MaxDescriptionLen <= 0 {
		c.MaxDescriptionLen = defaultTextLen
	}
	if c.MaxMessageLen <= 0 {
		c.MaxMessageLen = defaultTextLen
	}
	if c.MaxCommentLen <= 0 {
		c.MaxCommentLen = defaultTextLen
	}
	return c
}

// Engine is the trade lifecycle coordinator. Safe for concurrent use.
type Engine struct {
	store db.Store
	cfg   Config
	log   *slog.Logger
	locks *orderLocks
}

func New(store db.Store, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store: store,
		cfg:   cfg.withDefaults(),
		log:   log,
		locks: newOrderLocks(),
	}
}
