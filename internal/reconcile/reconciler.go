package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/olie-orders/internal/apperr"
	"github.com/imrishuroy/olie-orders/internal/aws"
	"github.com/imrishuroy/olie-orders/internal/idempotency"
	"github.com/imrishuroy/olie-orders/internal/orders"
)

const defaultMaxAttempts = 3

// Event is one webhook delivery.
type Event struct {
	Topic       string `json:"topic"`
	Event       string `json:"event"`
	EventID     string `json:"eventId,omitempty"`
	ProviderRef string `json:"providerRef,omitempty"`
	OrderNumber string `json:"orderNumber"`
}

// DedupeKey is the ledger key of the delivery.
func (e Event) DedupeKey() string {
	return idempotency.DedupeKey(e.EventID, e.ProviderRef, e.OrderNumber)
}

// Outcome describes what a delivery did.
type Outcome struct {
	Duplicate    bool          `json:"duplicate,omitempty"`
	Applied      bool          `json:"applied"`
	Transitioned bool          `json:"transitioned,omitempty"`
	From         orders.Status `json:"from,omitempty"`
	To           orders.Status `json:"to,omitempty"`
}

// OrderStore is the slice of orders.Store the reconciler needs.
type OrderStore interface {
	GetByNumber(ctx context.Context, orderNumber string) (*orders.Order, error)
	Apply(ctx context.Context, current *orders.Order, p orders.Patch, guards ...types.TransactWriteItem) error
}

// Options carries the optional collaborators of a Reconciler.
type Options struct {
	Logger      *zap.Logger
	Metrics     *aws.Metrics
	MaxAttempts int
}

// Reconciler applies webhook events to orders exactly once per dedupe key.
type Reconciler struct {
	table       *Table
	store       OrderStore
	ledger      idempotency.Ledger
	log         *zap.Logger
	metrics     *aws.Metrics
	maxAttempts int
	nowFunc     func() time.Time
}

func New(table *Table, store OrderStore, ledger idempotency.Ledger, opts Options) *Reconciler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Reconciler{
		table:       table,
		store:       store,
		ledger:      ledger,
		log:         log,
		metrics:     opts.Metrics,
		maxAttempts: attempts,
		nowFunc:     time.Now,
	}
}

// WithClock replaces the reconciler's time source.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.nowFunc = now
	return r
}

// Table returns the transition table in use.
func (r *Reconciler) Table() *Table { return r.table }

// Reconcile applies ev. A key seen within the ledger TTL is acknowledged
// without touching the order. If applying fails after the key was claimed,
// the claim is released so the sender's retry is applied.
func (r *Reconciler) Reconcile(ctx context.Context, ev Event) (Outcome, error) {
	key := ev.DedupeKey()
	log := r.log.With(
		zap.String("topic", ev.Topic),
		zap.String("event", ev.Event),
		zap.String("order_number", ev.OrderNumber),
		zap.String("dedupe_key", key),
	)

	seen, err := r.ledger.AlreadyProcessed(ctx, key)
	if err != nil {
		return Outcome{}, apperr.Store(err)
	}
	if seen {
		log.Info("duplicate webhook absorbed")
		r.count(ctx, "WebhookDuplicates", ev.Topic)
		return Outcome{Duplicate: true}, nil
	}

	o, err := r.load(ctx, ev.OrderNumber)
	if err != nil {
		return Outcome{}, err
	}

	rule, ok := r.table.Lookup(ev.Topic, ev.Event)
	if !ok {
		if _, err := r.ledger.MarkProcessed(ctx, key); err != nil {
			return Outcome{}, apperr.Store(err)
		}
		log.Warn("unknown webhook event acknowledged")
		r.count(ctx, "WebhooksIgnored", ev.Topic)
		return Outcome{}, nil
	}

	txLedger, transactional := r.ledger.(idempotency.TransactionalLedger)
	claimed := false
	release := func() {
		if !claimed {
			return
		}
		if err := r.ledger.Forget(ctx, key); err != nil {
			log.Error("release dedupe key failed", zap.Error(err))
		}
	}

	for attempt := 1; ; attempt++ {
		p := rule.Patch(o, ev, r.nowFunc())
		if p.Empty() {
			if !claimed {
				if _, err := r.ledger.MarkProcessed(ctx, key); err != nil {
					return Outcome{}, apperr.Store(err)
				}
			}
			log.Info("webhook needs no change", zap.String("status", string(o.Status)))
			return Outcome{}, nil
		}

		if transactional {
			err = r.store.Apply(ctx, o, p, txLedger.ClaimItem(key))
		} else {
			if !claimed {
				fresh, err := r.ledger.MarkProcessed(ctx, key)
				if err != nil {
					return Outcome{}, apperr.Store(err)
				}
				if !fresh {
					log.Info("duplicate webhook absorbed")
					r.count(ctx, "WebhookDuplicates", ev.Topic)
					return Outcome{Duplicate: true}, nil
				}
				claimed = true
			}
			err = r.store.Apply(ctx, o, p)
		}

		switch {
		case err == nil:
			out := Outcome{Applied: true}
			if p.Status != "" {
				out.Transitioned, out.From, out.To = true, o.Status, p.Status
			}
			log.Info("webhook applied",
				zap.String("from", string(o.Status)),
				zap.String("to", string(p.Status)),
				zap.Int("attempt", attempt),
			)
			r.count(ctx, "WebhooksApplied", ev.Topic)
			return out, nil

		case errors.Is(err, orders.ErrGuardFailed):
			log.Info("duplicate webhook absorbed by concurrent delivery")
			r.count(ctx, "WebhookDuplicates", ev.Topic)
			return Outcome{Duplicate: true}, nil

		case errors.Is(err, orders.ErrStatusMismatch) && attempt < r.maxAttempts:
			log.Info("order changed concurrently, recomputing", zap.Int("attempt", attempt))
			if o, err = r.load(ctx, ev.OrderNumber); err != nil {
				release()
				return Outcome{}, err
			}

		case errors.Is(err, orders.ErrStatusMismatch):
			release()
			return Outcome{}, apperr.Conflict("order changed concurrently")

		default:
			release()
			log.Error("apply webhook failed", zap.Error(err))
			return Outcome{}, apperr.Store(err)
		}
	}
}

func (r *Reconciler) load(ctx context.Context, orderNumber string) (*orders.Order, error) {
	o, err := r.store.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, apperr.Store(err)
	}
	if o == nil {
		return nil, apperr.NotFound("Order not found")
	}
	return o, nil
}

func (r *Reconciler) count(ctx context.Context, metric, topic string) {
	if err := r.metrics.Count(ctx, metric, 1, map[string]string{"Topic": topic}); err != nil {
		r.log.Warn("metric emit failed", zap.String("metric", metric), zap.Error(err))
	}
}
