package validation

import "github.com/shopspring/decimal"

// Invoker payloads. Field names follow the storefront's camelCase JSON.

type CreateOrderRequest struct {
	OrderID string `json:"orderId" validate:"required"`
}

type IssueNFeRequest struct {
	OrderID string `json:"orderId" validate:"required"`
}

type ShippingLabelRequest struct {
	OrderID   string `json:"orderId" validate:"required"`
	ServiceID string `json:"serviceId" validate:"required"`
}

type ShippingQuoteRequest struct {
	CEPOrigem     string          `json:"cepOrigem" validate:"omitempty,cep"`
	CEPDestino    string          `json:"cepDestino" validate:"required,cep"`
	WeightKg      float64         `json:"weightKg" validate:"gte=0"`
	DeclaredValue decimal.Decimal `json:"declaredValue" validate:"gte=0"`
}

type TrackShipmentRequest struct {
	Tracking string `json:"tracking" validate:"required"`
}

type PaymentLinkRequest struct {
	OrderID string          `json:"orderId" validate:"required"`
	Method  string          `json:"method" validate:"omitempty,oneof=pix boleto credit_card link"`
	Amount  decimal.Decimal `json:"amount" validate:"gte=0"` // zero: use the order total
}

type OrderStatusRequest struct {
	OrderID string `json:"orderId" validate:"required"`
}

// WebhookRequest is an ERP callback delivered to the reconciler.
type WebhookRequest struct {
	Topic       string `json:"topic" validate:"required"`
	Event       string `json:"event" validate:"required"`
	EventID     string `json:"eventId"`
	ProviderRef string `json:"providerRef"`
	OrderNumber string `json:"orderNumber" validate:"required"`
}

// CheckoutRequest is the sandbox checkout payload.
type CheckoutRequest struct {
	CartID string `json:"cartId" validate:"required"`
}
