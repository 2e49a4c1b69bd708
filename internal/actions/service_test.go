package actions

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/imrishuroy/olie-orders/internal/apperr"
	"github.com/imrishuroy/olie-orders/internal/auth"
	"github.com/imrishuroy/olie-orders/internal/erp"
	"github.com/imrishuroy/olie-orders/internal/orders"
	"github.com/imrishuroy/olie-orders/internal/testutil/dynamotest"
	"github.com/imrishuroy/olie-orders/internal/validation"
)

var testNow = time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

// countingERP wraps a client and counts every upstream call.
type countingERP struct {
	erp.Client
	calls atomic.Int64
	err   error
}

func (c *countingERP) hit() error { c.calls.Inc(); return c.err }

func (c *countingERP) CreateOrder(ctx context.Context, in erp.CreateOrderInput) (*erp.CreateOrderResult, error) {
	if err := c.hit(); err != nil {
		return nil, err
	}
	return c.Client.CreateOrder(ctx, in)
}

func (c *countingERP) IssueNFe(ctx context.Context, in erp.IssueNFeInput) (*erp.NFeResult, error) {
	if err := c.hit(); err != nil {
		return nil, err
	}
	return c.Client.IssueNFe(ctx, in)
}

func (c *countingERP) CreateShippingLabel(ctx context.Context, in erp.LabelInput) (*erp.LabelResult, error) {
	if err := c.hit(); err != nil {
		return nil, err
	}
	return c.Client.CreateShippingLabel(ctx, in)
}

func (c *countingERP) QuoteShipping(ctx context.Context, in erp.QuoteInput) (*erp.QuoteResult, error) {
	if err := c.hit(); err != nil {
		return nil, err
	}
	return c.Client.QuoteShipping(ctx, in)
}

func (c *countingERP) TrackShipment(ctx context.Context, in erp.TrackInput) (*erp.TrackResult, error) {
	if err := c.hit(); err != nil {
		return nil, err
	}
	return c.Client.TrackShipment(ctx, in)
}

func (c *countingERP) CreatePaymentLink(ctx context.Context, in erp.PaymentLinkInput) (*erp.PaymentLinkResult, error) {
	if err := c.hit(); err != nil {
		return nil, err
	}
	return c.Client.CreatePaymentLink(ctx, in)
}

func (c *countingERP) OrderStatus(ctx context.Context, in erp.OrderStatusInput) (*erp.OrderStatusResult, error) {
	if err := c.hit(); err != nil {
		return nil, err
	}
	return c.Client.OrderStatus(ctx, in)
}

type fixture struct {
	svc   *Service
	store *orders.Store
	fake  *dynamotest.Fake
	erp   *countingERP
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := dynamotest.New(map[string][]string{
		"orders":        {"order_id"},
		"order_numbers": {"order_number"},
		"counters":      {"name"},
	})
	clock := func() time.Time { return testNow }
	store := orders.NewStore(fake, orders.Tables{Orders: "orders", OrderNumbers: "order_numbers", Counters: "counters"}).WithClock(clock)
	client := &countingERP{Client: erp.NewDryRunClient().WithClock(clock)}
	svc := NewService(client, store, Options{OriginCEP: "01001000"}).WithClock(clock)

	require.NoError(t, store.Create(context.Background(), orders.Order{
		OrderID:     "o1",
		OrderNumber: "OLIE-1",
		Status:      orders.StatusPendingPayment,
		Items:       []orders.Item{{ProductID: "p1", Name: "Bolsa", SKU: "B-1", Quantity: 2, UnitPrice: decimal.NewFromInt(50)}},
		Subtotal:    decimal.NewFromInt(100),
		Total:       decimal.NewFromInt(100),
	}))
	return &fixture{svc: svc, store: store, fake: fake, erp: client}
}

var (
	admin   = &auth.Identity{UserID: "u-admin", Roles: []string{auth.RoleAdmin}}
	support = &auth.Identity{UserID: "u-support", Roles: []string{auth.RoleAtendimento}}
	buyer   = &auth.Identity{UserID: "u-buyer"}
)

func (f *fixture) order(t *testing.T) *orders.Order {
	t.Helper()
	o, err := f.store.Get(context.Background(), "o1")
	require.NoError(t, err)
	require.NotNil(t, o)
	return o
}

func TestUnauthenticatedCallsTouchNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.fake.Calls["UpdateItem"]

	calls := []func() error{
		func() error {
			_, err := f.svc.CreateOrder(ctx, nil, validation.CreateOrderRequest{OrderID: "o1"})
			return err
		},
		func() error {
			_, err := f.svc.IssueNFe(ctx, nil, validation.IssueNFeRequest{OrderID: "o1"})
			return err
		},
		func() error {
			_, err := f.svc.CreateShippingLabel(ctx, nil, validation.ShippingLabelRequest{OrderID: "o1", ServiceID: "PAC"})
			return err
		},
		func() error {
			_, err := f.svc.QuoteShipping(ctx, nil, validation.ShippingQuoteRequest{CEPDestino: "80010000"})
			return err
		},
		func() error {
			_, err := f.svc.TrackShipment(ctx, nil, validation.TrackShipmentRequest{Tracking: "BR1"})
			return err
		},
		func() error {
			_, err := f.svc.CreatePaymentLink(ctx, nil, validation.PaymentLinkRequest{OrderID: "o1"})
			return err
		},
		func() error {
			_, err := f.svc.OrderStatus(ctx, nil, validation.OrderStatusRequest{OrderID: "o1"})
			return err
		},
	}
	for i, call := range calls {
		err := call()
		require.Error(t, err, "invoker %d", i)
		assert.True(t, apperr.Is(err, apperr.KindUnauthorized), "invoker %d: %v", i, err)
	}

	assert.Zero(t, f.erp.calls.Load())
	assert.Equal(t, before, f.fake.Calls["UpdateItem"])
	for _, name := range Invokers {
		assert.Equal(t, int64(1), f.svc.Calls(name), name)
	}
}

func TestNFeRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []*auth.Identity{support, buyer} {
		_, err := f.svc.IssueNFe(ctx, id, validation.IssueNFeRequest{OrderID: "o1"})
		assert.True(t, apperr.Is(err, apperr.KindForbidden))
		// payload is irrelevant once the role check fails
		_, err = f.svc.IssueNFe(ctx, id, validation.IssueNFeRequest{})
		assert.True(t, apperr.Is(err, apperr.KindForbidden))
	}
	assert.Zero(t, f.erp.calls.Load())

	res, err := f.svc.IssueNFe(ctx, admin, validation.IssueNFeRequest{OrderID: "o1"})
	require.NoError(t, err)
	o := f.order(t)
	require.NotNil(t, o.Fiscal)
	assert.Equal(t, res.NFeNumber, o.Fiscal.NFeNumber)
	assert.Equal(t, "issued", o.Fiscal.Status)
}

func TestPrivilegedInvokersAcceptSupport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePaymentLink(ctx, buyer, validation.PaymentLinkRequest{OrderID: "o1"})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	link, err := f.svc.CreatePaymentLink(ctx, support, validation.PaymentLinkRequest{OrderID: "o1", Method: "pix"})
	require.NoError(t, err)
	o := f.order(t)
	require.Len(t, o.Payments, 1)
	assert.Equal(t, orders.PaymentPending, o.Payments[0].Status)
	assert.Equal(t, link.ProviderRef, o.Payments[0].ProviderRef)
	assert.Equal(t, "pix", o.Payments[0].Method)

	// a second link replaces index 0
	again, err := f.svc.CreatePaymentLink(ctx, admin, validation.PaymentLinkRequest{OrderID: "o1"})
	require.NoError(t, err)
	o = f.order(t)
	require.Len(t, o.Payments, 1)
	assert.Equal(t, again.ProviderRef, o.Payments[0].ProviderRef)
}

func TestDryRunShippingLabel(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreateShippingLabel(context.Background(), support, validation.ShippingLabelRequest{OrderID: "o1", ServiceID: "PAC"})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^BR\d+$`), res.Tracking)
	assert.Equal(t, testNow.Add(7*24*time.Hour), res.ETA)

	o := f.order(t)
	require.NotNil(t, o.Logistics)
	assert.Equal(t, res.Tracking, o.Logistics.Tracking)
	assert.Equal(t, LogisticsLabelCreated, o.Logistics.Status)
	assert.Equal(t, "25.90", o.Logistics.Price.StringFixed(2))
	require.NotNil(t, o.Logistics.ETA)
	assert.True(t, o.Logistics.ETA.Equal(testNow.Add(7*24*time.Hour)))
}

func TestRequiredFieldAfterAuth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateShippingLabel(ctx, admin, validation.ShippingLabelRequest{OrderID: "o1"})
	assert.Equal(t, "serviceId is required", apperr.Message(err))

	_, err = f.svc.QuoteShipping(ctx, buyer, validation.ShippingQuoteRequest{})
	assert.Equal(t, "cepDestino is required", apperr.Message(err))
	assert.Zero(t, f.erp.calls.Load())
}

func TestCreateOrderRecordsERPRef(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreateOrder(context.Background(), buyer, validation.CreateOrderRequest{OrderID: "o1"})
	require.NoError(t, err)
	o := f.order(t)
	assert.Equal(t, res.ERPID, o.ERPID)
	assert.Equal(t, res.OrderNumber, o.ERPNumber)
}

func TestOrderNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.OrderStatus(context.Background(), buyer, validation.OrderStatusRequest{OrderID: "nope"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Equal(t, "Order not found", apperr.Message(err))
	assert.Zero(t, f.erp.calls.Load())
}

func TestDryRunStillRequiresOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateShippingLabel(ctx, support, validation.ShippingLabelRequest{OrderID: "nope", ServiceID: "PAC"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Equal(t, "Order not found", apperr.Message(err))

	_, err = f.svc.IssueNFe(ctx, admin, validation.IssueNFeRequest{OrderID: "nope"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.CreatePaymentLink(ctx, support, validation.PaymentLinkRequest{OrderID: "nope"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	assert.Zero(t, f.erp.calls.Load())
}

func TestUpstreamErrorPassesThrough(t *testing.T) {
	f := newFixture(t)
	f.erp.err = apperr.Upstream("ERP error: Pedido não localizado")

	_, err := f.svc.CreateOrder(context.Background(), buyer, validation.CreateOrderRequest{OrderID: "o1"})
	assert.Equal(t, "ERP error: Pedido não localizado", apperr.Message(err))

	f.erp.err = errors.New("connection reset")
	_, err = f.svc.TrackShipment(context.Background(), buyer, validation.TrackShipmentRequest{Tracking: "BR1"})
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
}

func TestStoreWriteFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.fake.FailOn("UpdateItem", "orders", &types.InternalServerError{Message: awsString("boom")})

	_, err := f.svc.IssueNFe(context.Background(), admin, validation.IssueNFeRequest{OrderID: "o1"})
	assert.True(t, apperr.Is(err, apperr.KindStore))
	assert.Equal(t, "store error", apperr.Message(err))
	assert.Equal(t, int64(1), f.erp.calls.Load())
}

func TestQueryInvokersDoNotWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.fake.Calls["UpdateItem"]

	q, err := f.svc.QuoteShipping(ctx, buyer, validation.ShippingQuoteRequest{CEPDestino: "80010-000"})
	require.NoError(t, err)
	assert.NotEmpty(t, q.Quotes)

	st, err := f.svc.OrderStatus(ctx, buyer, validation.OrderStatusRequest{OrderID: "o1"})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPendingPayment, st.LocalStatus)

	assert.Equal(t, before, f.fake.Calls["UpdateItem"])
}

func awsString(s string) *string { return &s }
