// Package orders tracks submitted orders and their status transitions.
//
// The Tracker is an in-memory store safe for concurrent use. An optional
// Store persists every submit and status change so that Load can rehydrate
// the tracker after a restart.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"cryptotrader/internal/model"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrDuplicateOrder = errors.New("order already exists")
	ErrInvalidOrder   = errors.New("invalid order")
)

// Store persists orders. SaveOrder is an upsert keyed by Order.ID.
type Store interface {
	SaveOrder(ctx context.Context, o model.Order) error
	LoadOrders(ctx context.Context) ([]model.Order, error)
}

// Observer receives order lifecycle events.
type Observer interface {
	OrderEvent(side, status string)
}

// Tracker holds orders in submission order.
type Tracker struct {
	mu     sync.RWMutex
	orders map[string]*model.Order
	seq    []string

	store  Store
	obs    Observer
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStore persists every change to s.
func WithStore(s Store) Option { return func(t *Tracker) { t.store = s } }

// WithObserver reports submits and status changes to o.
func WithObserver(o Observer) Option { return func(t *Tracker) { t.obs = o } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(t *Tracker) { t.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		orders: make(map[string]*model.Order),
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Submit validates and records a new order. An empty ID is replaced with a
// UUID and an empty status defaults to pending. The stored order is returned.
func (t *Tracker) Submit(ctx context.Context, o model.Order) (model.Order, error) {
	if err := validate(o); err != nil {
		return model.Order{}, err
	}
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Status == "" {
		o.Status = model.OrderPending
	}
	now := t.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	t.mu.Lock()
	if _, exists := t.orders[o.ID]; exists {
		t.mu.Unlock()
		return model.Order{}, fmt.Errorf("%s: %w", o.ID, ErrDuplicateOrder)
	}
	if t.store != nil {
		if err := t.store.SaveOrder(ctx, o); err != nil {
			t.mu.Unlock()
			return model.Order{}, fmt.Errorf("persist order %s: %w", o.ID, err)
		}
	}
	stored := o
	t.orders[o.ID] = &stored
	t.seq = append(t.seq, o.ID)
	t.mu.Unlock()

	t.event(o)
	t.logger.Debug("order submitted",
		slog.String("id", o.ID),
		slog.String("symbol", o.Symbol),
		slog.String("side", string(o.Side)),
		slog.String("qty", o.Quantity.String()),
		slog.String("price", o.Price.String()),
	)
	return o, nil
}

// UpdateStatus moves an order to status.
func (t *Tracker) UpdateStatus(ctx context.Context, id string, status model.OrderStatus) (model.Order, error) {
	if !status.Valid() {
		return model.Order{}, fmt.Errorf("status %q: %w", status, ErrInvalidOrder)
	}

	t.mu.Lock()
	cur, ok := t.orders[id]
	if !ok {
		t.mu.Unlock()
		return model.Order{}, fmt.Errorf("%s: %w", id, ErrOrderNotFound)
	}
	next := *cur
	next.Status = status
	next.UpdatedAt = t.now()
	if t.store != nil {
		if err := t.store.SaveOrder(ctx, next); err != nil {
			t.mu.Unlock()
			return model.Order{}, fmt.Errorf("persist order %s: %w", id, err)
		}
	}
	*cur = next
	t.mu.Unlock()

	t.event(next)
	return next, nil
}

// Get returns the order with id.
func (t *Tracker) Get(id string) (model.Order, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.orders[id]
	if !ok {
		return model.Order{}, fmt.Errorf("%s: %w", id, ErrOrderNotFound)
	}
	return *o, nil
}

// List returns all orders in submission order.
func (t *Tracker) List() []model.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Order, 0, len(t.seq))
	for _, id := range t.seq {
		out = append(out, *t.orders[id])
	}
	return out
}

// Len returns the number of tracked orders.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.seq)
}

// Load replaces the in-memory state with the store's contents.
// Orders keep the order the store returns them in.
func (t *Tracker) Load(ctx context.Context) (int, error) {
	if t.store == nil {
		return 0, nil
	}
	loaded, err := t.store.LoadOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("load orders: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.orders = make(map[string]*model.Order, len(loaded))
	t.seq = t.seq[:0]
	for i := range loaded {
		o := loaded[i]
		if _, dup := t.orders[o.ID]; dup {
			continue
		}
		t.orders[o.ID] = &o
		t.seq = append(t.seq, o.ID)
	}
	t.logger.Info("orders loaded", slog.Int("count", len(t.seq)))
	return len(t.seq), nil
}

func (t *Tracker) event(o model.Order) {
	if t.obs != nil {
		t.obs.OrderEvent(string(o.Side), string(o.Status))
	}
}

func validate(o model.Order) error {
	if o.Symbol == "" {
		return fmt.Errorf("missing symbol: %w", ErrInvalidOrder)
	}
	if !o.Side.Valid() {
		return fmt.Errorf("side %q: %w", o.Side, ErrInvalidOrder)
	}
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("quantity %s must be positive: %w", o.Quantity, ErrInvalidOrder)
	}
	if o.Price.IsNegative() {
		return fmt.Errorf("price %s is negative: %w", o.Price, ErrInvalidOrder)
	}
	if o.Status != "" && !o.Status.Valid() {
		return fmt.Errorf("status %q: %w", o.Status, ErrInvalidOrder)
	}
	return nil
}
