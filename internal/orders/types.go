package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// amounts travel as JSON numbers, not quoted strings
	decimal.MarshalJSONWithoutQuotes = true
}

// Status is the order lifecycle state.
type Status string

// Order statuses, in lifecycle order. Cancelled sits outside the chain.
const (
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusProduction     Status = "production"
	StatusShipping       Status = "shipping"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

// Payment statuses written by invokers and webhooks.
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
	PaymentFailed  = "failed"
)

// Order represents the item stored in the orders table.
type Order struct {
	OrderID     string          `dynamodbav:"order_id" json:"id"` // PK
	OrderNumber string          `dynamodbav:"order_number" json:"order_number"`
	UserID      string          `dynamodbav:"user_id,omitempty" json:"user_id,omitempty"`
	Status      Status          `dynamodbav:"status" json:"status"`
	Payments    []Payment       `dynamodbav:"payments" json:"payments"`
	Fiscal      *Fiscal         `dynamodbav:"fiscal,omitempty" json:"fiscal,omitempty"`
	Logistics   *Logistics      `dynamodbav:"logistics,omitempty" json:"logistics,omitempty"`
	Items       []Item          `dynamodbav:"items" json:"items"`
	Subtotal    decimal.Decimal `dynamodbav:"subtotal" json:"subtotal"`
	Total       decimal.Decimal `dynamodbav:"total" json:"total"`
	ERPID       string          `dynamodbav:"erp_id,omitempty" json:"erp_id,omitempty"`
	ERPNumber   string          `dynamodbav:"erp_number,omitempty" json:"erp_number,omitempty"`
	CreatedAt   time.Time       `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `dynamodbav:"updated_at" json:"updated_at"`
}

// Payment is one payment attempt. Only Payments[0] is ever read or written.
type Payment struct {
	Method      string    `dynamodbav:"method" json:"method"`
	Status      string    `dynamodbav:"status" json:"status"`
	CheckoutURL string    `dynamodbav:"checkout_url,omitempty" json:"checkoutUrl,omitempty"`
	ProviderRef string    `dynamodbav:"provider_ref,omitempty" json:"providerRef,omitempty"`
	CreatedAt   time.Time `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `dynamodbav:"updated_at" json:"updatedAt"`
}

// Fiscal is the order's NFe.
type Fiscal struct {
	NFeNumber    string     `dynamodbav:"nfe_number,omitempty" json:"nfeNumber,omitempty"`
	Serie        string     `dynamodbav:"serie,omitempty" json:"serie,omitempty"`
	XMLURL       string     `dynamodbav:"xml_url,omitempty" json:"xmlUrl,omitempty"`
	PDFURL       string     `dynamodbav:"pdf_url,omitempty" json:"pdfUrl,omitempty"`
	Status       string     `dynamodbav:"status" json:"status"`
	IssuedAt     *time.Time `dynamodbav:"issued_at,omitempty" json:"issuedAt,omitempty"`
	AuthorizedAt *time.Time `dynamodbav:"authorized_at,omitempty" json:"authorizedAt,omitempty"`
}

// Logistics is the order's shipment.
type Logistics struct {
	Tracking    string          `dynamodbav:"tracking,omitempty" json:"tracking,omitempty"`
	LabelURL    string          `dynamodbav:"label_url,omitempty" json:"labelUrl,omitempty"`
	Carrier     string          `dynamodbav:"carrier,omitempty" json:"carrier,omitempty"`
	Service     string          `dynamodbav:"service,omitempty" json:"service,omitempty"`
	Price       decimal.Decimal `dynamodbav:"price,omitempty" json:"price,omitempty"`
	ETA         *time.Time      `dynamodbav:"eta,omitempty" json:"eta,omitempty"`
	Status      string          `dynamodbav:"status" json:"status"`
	CreatedAt   *time.Time      `dynamodbav:"created_at,omitempty" json:"createdAt,omitempty"`
	UpdatedAt   *time.Time      `dynamodbav:"updated_at,omitempty" json:"updatedAt,omitempty"`
	DeliveredAt *time.Time      `dynamodbav:"delivered_at,omitempty" json:"deliveredAt,omitempty"`
}

// Item is the immutable snapshot of a purchased line.
type Item struct {
	ProductID     string                 `dynamodbav:"product_id" json:"product_id"`
	Name          string                 `dynamodbav:"name" json:"name"`
	SKU           string                 `dynamodbav:"sku,omitempty" json:"sku,omitempty"`
	Quantity      int                    `dynamodbav:"quantity" json:"quantity"`
	UnitPrice     decimal.Decimal        `dynamodbav:"unit_price" json:"unit_price"`
	PriceDelta    decimal.Decimal        `dynamodbav:"price_delta" json:"price_delta"`
	Configuration map[string]interface{} `dynamodbav:"configuration,omitempty" json:"configuration,omitempty"`
	PreviewURL    string                 `dynamodbav:"preview_url,omitempty" json:"preview_url,omitempty"`
}

// PrimaryPayment returns Payments[0], or nil when there is none.
func (o *Order) PrimaryPayment() *Payment {
	if len(o.Payments) == 0 {
		return nil
	}
	return &o.Payments[0]
}

// WithPrimaryPayment returns a copy of the payments slice with index 0 replaced
// (or created) by p.
func (o *Order) WithPrimaryPayment(p Payment) []Payment {
	out := make([]Payment, 0, len(o.Payments)+1)
	out = append(out, p)
	if len(o.Payments) > 1 {
		out = append(out, o.Payments[1:]...)
	}
	return out
}
