// Package erp talks to the Tiny ERP. Client has a live implementation
// (TinyClient) and a network-free one (DryRunClient); New picks one from
// configuration so callers never branch on DRY_RUN themselves.
package erp

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Client performs one unit of ERP work per call.
type Client interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error)
	IssueNFe(ctx context.Context, in IssueNFeInput) (*NFeResult, error)
	CreateShippingLabel(ctx context.Context, in LabelInput) (*LabelResult, error)
	QuoteShipping(ctx context.Context, in QuoteInput) (*QuoteResult, error)
	TrackShipment(ctx context.Context, in TrackInput) (*TrackResult, error)
	CreatePaymentLink(ctx context.Context, in PaymentLinkInput) (*PaymentLinkResult, error)
	OrderStatus(ctx context.Context, in OrderStatusInput) (*OrderStatusResult, error)
}

// Config selects and configures a Client.
type Config struct {
	DryRun  bool
	BaseURL string
	Token   string
	Timeout time.Duration
}

// New returns a DryRunClient when cfg.DryRun is set, a TinyClient otherwise.
func New(cfg Config) Client {
	if cfg.DryRun {
		return NewDryRunClient()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return NewTinyClient(cfg.BaseURL, cfg.Token, &http.Client{Timeout: timeout})
}

// ShippingETA is the fixed delivery estimate used when the ERP gives none.
const ShippingETA = 7 * 24 * time.Hour

type LineItem struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type CreateOrderInput struct {
	OrderID     string
	OrderNumber string
	Items       []LineItem
	Total       decimal.Decimal
}

type CreateOrderResult struct {
	ERPID       string `json:"erpId"`
	OrderNumber string `json:"orderNumber"`
}

type IssueNFeInput struct {
	OrderID     string
	OrderNumber string
	ERPID       string
}

type NFeResult struct {
	NFeNumber string    `json:"nfeNumber"`
	Serie     string    `json:"serie"`
	XMLURL    string    `json:"xmlUrl"`
	PDFURL    string    `json:"pdfUrl"`
	Status    string    `json:"status"`
	IssuedAt  time.Time `json:"issuedAt"`
}

type LabelInput struct {
	OrderID     string
	OrderNumber string
	ERPID       string
	ServiceID   string
}

type LabelResult struct {
	Tracking string          `json:"tracking"`
	LabelURL string          `json:"labelUrl"`
	Carrier  string          `json:"carrier"`
	Service  string          `json:"service"`
	Price    decimal.Decimal `json:"price"`
	ETA      time.Time       `json:"eta"`
}

type QuoteInput struct {
	CEPOrigem     string
	CEPDestino    string
	WeightKg      float64
	DeclaredValue decimal.Decimal
}

type Quote struct {
	ServiceID    string          `json:"serviceId"`
	Carrier      string          `json:"carrier"`
	Price        decimal.Decimal `json:"price"`
	DeliveryDays int             `json:"deliveryDays"`
	ETA          time.Time       `json:"eta"`
}

type QuoteResult struct {
	Quotes []Quote `json:"quotes"`
}

type TrackInput struct {
	Tracking string
}

type TrackEvent struct {
	At       time.Time `json:"at"`
	Status   string    `json:"status"`
	Location string    `json:"location,omitempty"`
}

type TrackResult struct {
	Tracking string       `json:"tracking"`
	Status   string       `json:"status"`
	Events   []TrackEvent `json:"events"`
}

type PaymentLinkInput struct {
	OrderID     string
	OrderNumber string
	Amount      decimal.Decimal
	Method      string
}

type PaymentLinkResult struct {
	CheckoutURL string `json:"checkoutUrl"`
	ProviderRef string `json:"providerRef"`
	Method      string `json:"method"`
	Status      string `json:"status"`
}

type OrderStatusInput struct {
	OrderID string
	ERPID   string
}

type OrderStatusResult struct {
	ERPID       string `json:"erpId"`
	OrderNumber string `json:"orderNumber,omitempty"`
	Status      string `json:"status"`
}
