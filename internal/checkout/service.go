// Package checkout turns a cart into an order with its production tasks and
// inventory reservations. Carts that fit DynamoDB's transaction limit are
// written in one transaction; larger ones are written in chunks and undone
// chunk by chunk when a later one fails.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/imrishuroy/olie-orders/internal/apperr"
	"github.com/imrishuroy/olie-orders/internal/auth"
	"github.com/imrishuroy/olie-orders/internal/aws"
	"github.com/imrishuroy/olie-orders/internal/orders"
	"github.com/imrishuroy/olie-orders/internal/validation"
)

// maxTransactItems is DynamoDB's TransactWriteItems limit.
const maxTransactItems = 100

// EventOrderCreated is the type of the message published after checkout.
const EventOrderCreated = "order.created"

// orderWrites is the order row plus its order-number marker.
const orderWrites = 2

// OrderStore is the slice of orders.Store the checkout needs.
type OrderStore interface {
	NextOrderNumber(ctx context.Context) (string, error)
	Create(ctx context.Context, order orders.Order, extra ...types.TransactWriteItem) error
	Discard(ctx context.Context, orderID string) error
}

// step is one checkout write and the write that reverts it.
type step struct {
	do   types.TransactWriteItem
	undo types.TransactWriteItem
}

// Service runs the sandbox checkout.
type Service struct {
	repo      *Repository
	orders    OrderStore
	publisher *aws.Publisher
	validate  *validatorv10.Validate
	log       *zap.Logger
	nowFunc   func() time.Time
	newID     func() string
}

func NewService(repo *Repository, store OrderStore, publisher *aws.Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		orders:    store,
		publisher: publisher,
		validate:  validation.New(),
		log:       log,
		nowFunc:   time.Now,
		newID:     uuid.NewString,
	}
}

// WithClock replaces the service's time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.nowFunc = now
	return s
}

// Checkout converts the caller's cart into an order. Either every write
// lands or none stays behind.
func (s *Service) Checkout(ctx context.Context, id *auth.Identity, req validation.CheckoutRequest) (*Result, error) {
	if id == nil {
		return nil, apperr.Unauthorized()
	}
	if err := validation.Validate(s.validate, req); err != nil {
		return nil, err
	}

	cart, err := s.repo.Cart(ctx, req.CartID)
	if err != nil {
		return nil, apperr.Store(err)
	}
	if cart == nil || (cart.UserID != "" && cart.UserID != id.UserID) {
		return nil, apperr.NotFound("Cart not found")
	}
	items, err := s.repo.Items(ctx, cart.CartID)
	if err != nil {
		return nil, apperr.Store(err)
	}
	if len(items) == 0 {
		return nil, apperr.Validation("Cart is empty")
	}

	now := s.nowFunc()
	number, err := s.orders.NextOrderNumber(ctx)
	if err != nil {
		number = fmt.Sprintf("OLIE-%d", now.UnixMilli())
		s.log.Warn("order number generator unavailable, using fallback",
			zap.String("order_number", number), zap.Error(err))
	}

	order := orders.Order{
		OrderID:     s.newID(),
		OrderNumber: number,
		UserID:      id.UserID,
		Status:      orders.StatusPendingPayment,
		Payments:    []orders.Payment{},
		CreatedAt:   now,
	}
	subtotal := decimal.Zero
	for _, it := range items {
		qty := decimal.NewFromInt(int64(it.Quantity))
		subtotal = subtotal.Add(it.UnitPrice.Add(it.PriceDelta).Mul(qty))
		order.Items = append(order.Items, orders.Item{
			ProductID:     it.ProductID,
			Name:          it.ProductName,
			SKU:           it.SKU,
			Quantity:      it.Quantity,
			UnitPrice:     it.UnitPrice,
			PriceDelta:    it.PriceDelta,
			Configuration: it.Configuration,
			PreviewURL:    it.PreviewURL,
		})
	}
	order.Subtotal = subtotal
	order.Total = subtotal

	steps, tasks, reservations, err := s.buildSteps(ctx, order, items, now)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, order, steps); err != nil {
		return nil, err
	}

	s.log.Info("sandbox checkout committed",
		zap.String("order_id", order.OrderID),
		zap.String("order_number", order.OrderNumber),
		zap.String("cart_id", cart.CartID),
		zap.Int("tasks", tasks),
		zap.Int("reservations", reservations),
	)
	s.publish(ctx, order)

	return &Result{
		OrderID:      order.OrderID,
		OrderNumber:  order.OrderNumber,
		Total:        order.Total,
		Tasks:        tasks,
		Reservations: reservations,
	}, nil
}

// buildSteps returns the task puts, reservation puts and cart-item deletes,
// each paired with its undo.
func (s *Service) buildSteps(ctx context.Context, order orders.Order, items []CartItem, now time.Time) ([]step, int, int, error) {
	var (
		steps        []step
		tasks        int
		reservations int
	)
	boms := map[string][]BOMLine{}

	for _, it := range items {
		taskID := s.newID()
		task, err := s.repo.TaskItem(ProductionTask{
			TaskID:      taskID,
			OrderID:     order.OrderID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Status:      TaskPending,
			Priority:    PriorityNormal,
			Notes:       notes(it.Configuration),
			CreatedAt:   now,
		})
		if err != nil {
			return nil, 0, 0, err
		}
		steps = append(steps, step{do: task, undo: s.repo.DropTask(taskID)})
		tasks++

		lines, ok := boms[it.ProductID]
		if !ok {
			lines, err = s.repo.BOM(ctx, it.ProductID)
			if err != nil {
				return nil, 0, 0, apperr.Store(err)
			}
			boms[it.ProductID] = lines
		}
		qty := decimal.NewFromInt(int64(it.Quantity))
		for _, line := range lines {
			movementID := s.newID()
			mv, err := s.repo.MovementItem(InventoryMovement{
				MovementID: movementID,
				MaterialID: line.MaterialID,
				Type:       MovementOut,
				Quantity:   line.Quantity.Mul(qty),
				Reference:  order.OrderNumber,
				OrderID:    order.OrderID,
				CreatedAt:  now,
			})
			if err != nil {
				return nil, 0, 0, err
			}
			steps = append(steps, step{do: mv, undo: s.repo.DropMovement(movementID)})
			reservations++
		}

		restore, err := s.repo.RestoreItem(it)
		if err != nil {
			return nil, 0, 0, err
		}
		steps = append(steps, step{do: s.repo.RemoveItem(it), undo: restore})
	}
	return steps, tasks, reservations, nil
}

// commit writes the order and steps. The order travels with the first chunk,
// so a failed first chunk leaves nothing behind; a failure in a later chunk
// reverts the chunks already written and discards the order.
func (s *Service) commit(ctx context.Context, order orders.Order, steps []step) error {
	head := maxTransactItems - orderWrites
	if head > len(steps) {
		head = len(steps)
	}
	if err := s.orders.Create(ctx, order, writes(steps[:head])...); err != nil {
		switch {
		case errors.Is(err, orders.ErrDuplicateOrderNumber):
			return apperr.Conflict("order number already taken, retry checkout")
		case errors.Is(err, orders.ErrGuardFailed):
			return apperr.Conflict(ErrCartChanged.Error())
		default:
			return apperr.Store(err)
		}
	}

	for done := head; done < len(steps); {
		end := done + maxTransactItems
		if end > len(steps) {
			end = len(steps)
		}
		if err := s.repo.Commit(ctx, writes(steps[done:end])); err != nil {
			s.log.Warn("checkout chunk failed, reverting",
				zap.String("order_id", order.OrderID),
				zap.Int("written", done),
				zap.Int("total", len(steps)),
				zap.Error(err),
			)
			s.revert(ctx, order, steps[:done])
			if errors.Is(err, ErrCartChanged) {
				return apperr.Conflict(err.Error())
			}
			return apperr.Store(err)
		}
		done = end
	}
	return nil
}

// revert undoes committed steps, newest chunk first, then drops the order.
func (s *Service) revert(ctx context.Context, order orders.Order, committed []step) {
	for end := len(committed); end > 0; end -= maxTransactItems {
		start := end - maxTransactItems
		if start < 0 {
			start = 0
		}
		undo := make([]types.TransactWriteItem, 0, end-start)
		for _, st := range committed[start:end] {
			undo = append(undo, st.undo)
		}
		if err := s.repo.Commit(ctx, undo); err != nil {
			s.log.Error("checkout revert failed",
				zap.String("order_id", order.OrderID),
				zap.Int("pending", end),
				zap.Error(err),
			)
			return
		}
	}
	if err := s.orders.Discard(ctx, order.OrderID); err != nil {
		s.log.Error("discard order failed", zap.String("order_id", order.OrderID), zap.Error(err))
	}
}

func writes(steps []step) []types.TransactWriteItem {
	out := make([]types.TransactWriteItem, 0, len(steps))
	for _, st := range steps {
		out = append(out, st.do)
	}
	return out
}

func (s *Service) publish(ctx context.Context, o orders.Order) {
	if !s.publisher.Enabled() {
		return
	}
	msg := OrderCreated{
		Type:        EventOrderCreated,
		OrderID:     o.OrderID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Total:       o.Total,
		CreatedAt:   o.CreatedAt,
	}
	attrs := map[string]string{"event_type": EventOrderCreated, "order_id": o.OrderID}
	if err := s.publisher.PublishJSON(ctx, msg, attrs); err != nil {
		s.log.Error("publish order.created failed", zap.String("order_id", o.OrderID), zap.Error(err))
	}
}

// notes renders an item configuration as "key: value" pairs in key order.
func notes(cfg map[string]interface{}) string {
	if len(cfg) == 0 {
		return ""
	}
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, cfg[k]))
	}
	return strings.Join(parts, "; ")
}
