package erp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/atomic"
)

const mockBaseURL = "https://sandbox.olie.local"

// DryRunClient synthesizes ERP results without any network access.
// Identifiers derive from the clock and a per-client sequence, so a fixed
// clock yields reproducible output.
type DryRunClient struct {
	seq     atomic.Int64
	nowFunc func() time.Time
}

// NewDryRunClient returns a dry-run client on the wall clock.
func NewDryRunClient() *DryRunClient {
	return &DryRunClient{nowFunc: time.Now}
}

// WithClock replaces the client's time source.
func (c *DryRunClient) WithClock(now func() time.Time) *DryRunClient {
	c.nowFunc = now
	return c
}

func (c *DryRunClient) next() int64 { return c.seq.Inc() }

func (c *DryRunClient) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	n := c.next()
	return &CreateOrderResult{
		ERPID:       fmt.Sprintf("MOCK-%d-%d", c.nowFunc().UnixMilli(), n),
		OrderNumber: fmt.Sprintf("%d", 100000+n),
	}, nil
}

func (c *DryRunClient) IssueNFe(ctx context.Context, in IssueNFeInput) (*NFeResult, error) {
	now := c.nowFunc()
	number := fmt.Sprintf("%06d", c.next())
	return &NFeResult{
		NFeNumber: number,
		Serie:     "1",
		XMLURL:    fmt.Sprintf("%s/nfe/%s.xml", mockBaseURL, number),
		PDFURL:    fmt.Sprintf("%s/nfe/%s.pdf", mockBaseURL, number),
		Status:    "issued",
		IssuedAt:  now,
	}, nil
}

func (c *DryRunClient) CreateShippingLabel(ctx context.Context, in LabelInput) (*LabelResult, error) {
	now := c.nowFunc()
	tracking := fmt.Sprintf("BR%09d", (now.UnixMilli()+c.next())%1_000_000_000)
	return &LabelResult{
		Tracking: tracking,
		LabelURL: fmt.Sprintf("%s/labels/%s.pdf", mockBaseURL, tracking),
		Carrier:  "Correios",
		Service:  in.ServiceID,
		Price:    mockPrice(in.ServiceID),
		ETA:      now.Add(ShippingETA),
	}, nil
}

func (c *DryRunClient) QuoteShipping(ctx context.Context, in QuoteInput) (*QuoteResult, error) {
	eta := c.nowFunc().Add(ShippingETA)
	return &QuoteResult{Quotes: []Quote{
		{ServiceID: "PAC", Carrier: "Correios", Price: mockPrice("PAC"), DeliveryDays: 7, ETA: eta},
		{ServiceID: "SEDEX", Carrier: "Correios", Price: mockPrice("SEDEX"), DeliveryDays: 7, ETA: eta},
	}}, nil
}

func (c *DryRunClient) TrackShipment(ctx context.Context, in TrackInput) (*TrackResult, error) {
	now := c.nowFunc()
	return &TrackResult{
		Tracking: in.Tracking,
		Status:   "in_transit",
		Events: []TrackEvent{
			{At: now.Add(-24 * time.Hour), Status: "posted", Location: "São Paulo/SP"},
			{At: now, Status: "in_transit", Location: "Curitiba/PR"},
		},
	}, nil
}

func (c *DryRunClient) CreatePaymentLink(ctx context.Context, in PaymentLinkInput) (*PaymentLinkResult, error) {
	ref := fmt.Sprintf("MOCK-PAY-%d-%d", c.nowFunc().UnixMilli(), c.next())
	method := in.Method
	if method == "" {
		method = "link"
	}
	return &PaymentLinkResult{
		CheckoutURL: fmt.Sprintf("%s/checkout/%s", mockBaseURL, strings.ToLower(ref)),
		ProviderRef: ref,
		Method:      method,
		Status:      "pending",
	}, nil
}

func (c *DryRunClient) OrderStatus(ctx context.Context, in OrderStatusInput) (*OrderStatusResult, error) {
	id := in.ERPID
	if id == "" {
		id = "MOCK-" + in.OrderID
	}
	return &OrderStatusResult{ERPID: id, Status: "aberto"}, nil
}

var (
	pacPrice   = decimal.RequireFromString("25.90")
	sedexPrice = decimal.RequireFromString("42.50")
)

func mockPrice(service string) decimal.Decimal {
	if strings.EqualFold(service, "SEDEX") {
		return sedexPrice
	}
	return pacPrice
}
