// Package actions implements the ERP action invokers. Each invoker checks the
// caller, validates its payload, performs one ERP call and, for the
// order-mutating ones, writes the result into the order.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/imrishuroy/olie-orders/internal/apperr"
	"github.com/imrishuroy/olie-orders/internal/auth"
	"github.com/imrishuroy/olie-orders/internal/aws"
	"github.com/imrishuroy/olie-orders/internal/erp"
	"github.com/imrishuroy/olie-orders/internal/logging"
	"github.com/imrishuroy/olie-orders/internal/orders"
	"github.com/imrishuroy/olie-orders/internal/validation"
)

// Invoker names, also used as route suffixes and metric dimensions.
const (
	InvokerCreateOrder   = "tiny-create-order"
	InvokerIssueNFe      = "tiny-nfe-issue"
	InvokerShippingLabel = "tiny-create-shipping-label"
	InvokerShippingQuote = "tiny-shipping-quote"
	InvokerTrackShipment = "tiny-track-shipment"
	InvokerPaymentLink   = "tiny-create-payment-link"
	InvokerOrderStatus   = "tiny-order-status"
)

// Invokers lists every invoker name.
var Invokers = []string{
	InvokerCreateOrder,
	InvokerIssueNFe,
	InvokerShippingLabel,
	InvokerShippingQuote,
	InvokerTrackShipment,
	InvokerPaymentLink,
	InvokerOrderStatus,
}

const traceLimit = 200

// invokerRoles restricts an invoker to callers holding one of the roles.
// Invokers absent here accept any authenticated caller.
var invokerRoles = map[string][]string{
	InvokerIssueNFe:      {auth.RoleAdmin},
	InvokerShippingLabel: {auth.RoleAdmin, auth.RoleAtendimento},
	InvokerPaymentLink:   {auth.RoleAdmin, auth.RoleAtendimento},
}

// OrderStore is the slice of orders.Store the invokers need.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	SetPayments(ctx context.Context, orderID string, payments []orders.Payment) error
	SetFiscal(ctx context.Context, orderID string, f orders.Fiscal) error
	SetLogistics(ctx context.Context, orderID string, l orders.Logistics) error
	SetERPRef(ctx context.Context, orderID, erpID, erpNumber string) error
}

// Service runs the invokers.
type Service struct {
	erp       erp.Client
	orders    OrderStore
	validate  *validatorv10.Validate
	log       *zap.Logger
	metrics   *aws.Metrics
	originCEP string
	counters  map[string]*atomic.Int64
	nowFunc   func() time.Time
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Logger    *zap.Logger
	Metrics   *aws.Metrics
	OriginCEP string
}

func NewService(client erp.Client, store OrderStore, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	counters := make(map[string]*atomic.Int64, len(Invokers))
	for _, name := range Invokers {
		counters[name] = atomic.NewInt64(0)
	}
	return &Service{
		erp:       client,
		orders:    store,
		validate:  validation.New(),
		log:       log,
		metrics:   opts.Metrics,
		originCEP: opts.OriginCEP,
		counters:  counters,
		nowFunc:   time.Now,
	}
}

// WithClock replaces the service's time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.nowFunc = now
	return s
}

// Calls returns how many times invoker ran since process start.
func (s *Service) Calls(invoker string) int64 {
	if c, ok := s.counters[invoker]; ok {
		return c.Load()
	}
	return 0
}

// Authorize reports whether id may call invoker: Unauthorized without an
// identity, Forbidden when the invoker is role-restricted and id lacks the role.
func (s *Service) Authorize(invoker string, id *auth.Identity) error {
	if id == nil {
		return apperr.Unauthorized()
	}
	if roles := invokerRoles[invoker]; len(roles) > 0 && !id.HasAnyRole(roles...) {
		return apperr.Forbidden()
	}
	return nil
}

// begin counts and traces the call, then checks the caller and payload.
func (s *Service) begin(ctx context.Context, name string, id *auth.Identity, req interface{}) error {
	n := s.counters[name].Inc()

	payload, _ := json.Marshal(req)
	user := ""
	if id != nil {
		user = id.UserID
	}
	s.log.Info("invoke",
		zap.String("invoker", name),
		zap.Int64("call", n),
		zap.String("trace", logging.Truncate(fmt.Sprintf("%s user=%s body=%s", name, user, payload), traceLimit)),
	)
	if err := s.metrics.Count(ctx, "Invocations", 1, map[string]string{"Invoker": name}); err != nil {
		s.log.Warn("metric emit failed", zap.String("invoker", name), zap.Error(err))
	}

	if err := s.Authorize(name, id); err != nil {
		return err
	}
	return validation.Validate(s.validate, req)
}

func (s *Service) loadOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, apperr.Store(err)
	}
	if o == nil {
		return nil, apperr.NotFound("Order not found")
	}
	return o, nil
}

// upstream classifies an ERP client failure.
func upstream(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return &apperr.Error{Kind: apperr.KindUpstream, Msg: "ERP error: " + err.Error(), Err: err}
}

// stored classifies a failed order write made after a successful ERP call.
// The ERP side is not rolled back.
func (s *Service) stored(name, orderID string, err error) error {
	if err == nil {
		return nil
	}
	s.log.Error("order write failed after ERP call",
		zap.String("invoker", name),
		zap.String("order_id", orderID),
		zap.Error(err),
	)
	if errors.Is(err, orders.ErrOrderNotFound) {
		return apperr.NotFound("Order not found")
	}
	return apperr.Store(err)
}
