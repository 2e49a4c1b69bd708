package checkout

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tables names the DynamoDB tables the checkout reads and writes.
type Tables struct {
	Carts              string
	CartItems          string
	BillOfMaterials    string
	ProductionTasks    string
	InventoryMovements string
}

// Cart is a row of the carts table.
type Cart struct {
	CartID string `dynamodbav:"cart_id"` // PK
	UserID string `dynamodbav:"user_id"`
}

// CartItem is a row of the cart_items table (PK cart_id, SK item_id).
type CartItem struct {
	CartID        string                 `dynamodbav:"cart_id"`
	ItemID        string                 `dynamodbav:"item_id"`
	ProductID     string                 `dynamodbav:"product_id"`
	ProductName   string                 `dynamodbav:"product_name"`
	SKU           string                 `dynamodbav:"sku,omitempty"`
	Quantity      int                    `dynamodbav:"quantity"`
	UnitPrice     decimal.Decimal        `dynamodbav:"unit_price"`
	PriceDelta    decimal.Decimal        `dynamodbav:"price_delta"`
	Configuration map[string]interface{} `dynamodbav:"configuration,omitempty"`
	PreviewURL    string                 `dynamodbav:"preview_url,omitempty"`
}

// BOMLine is one component of a product (PK product_id, SK material_id).
// Quantity is per unit of product.
type BOMLine struct {
	ProductID    string          `dynamodbav:"product_id"`
	MaterialID   string          `dynamodbav:"material_id"`
	MaterialName string          `dynamodbav:"material_name,omitempty"`
	Quantity     decimal.Decimal `dynamodbav:"quantity"`
}

// Production task statuses and priorities.
const (
	TaskPending    = "pending"
	PriorityNormal = "normal"
)

// ProductionTask is created once per cart line.
type ProductionTask struct {
	TaskID      string    `dynamodbav:"task_id" json:"id"` // PK
	OrderID     string    `dynamodbav:"order_id" json:"order_id"`
	ProductName string    `dynamodbav:"product_name" json:"product_name"`
	Quantity    int       `dynamodbav:"quantity" json:"quantity"`
	Status      string    `dynamodbav:"status" json:"status"`
	Priority    string    `dynamodbav:"priority" json:"priority"`
	Notes       string    `dynamodbav:"notes,omitempty" json:"notes,omitempty"`
	CreatedAt   time.Time `dynamodbav:"created_at" json:"created_at"`
}

// MovementOut marks a stock decrement.
const MovementOut = "out"

// InventoryMovement reserves material for an order.
type InventoryMovement struct {
	MovementID string          `dynamodbav:"movement_id" json:"id"` // PK
	MaterialID string          `dynamodbav:"material_id" json:"material_id"`
	Type       string          `dynamodbav:"type" json:"type"`
	Quantity   decimal.Decimal `dynamodbav:"quantity" json:"quantity"`
	Reference  string          `dynamodbav:"reference" json:"reference"`
	OrderID    string          `dynamodbav:"order_id" json:"order_id"`
	CreatedAt  time.Time       `dynamodbav:"created_at" json:"created_at"`
}

// Result is returned to the caller after a successful checkout.
type Result struct {
	OrderID      string          `json:"orderId"`
	OrderNumber  string          `json:"orderNumber"`
	Total        decimal.Decimal `json:"total"`
	Tasks        int             `json:"tasks"`
	Reservations int             `json:"reservations"`
}

// OrderCreated is published to the orders queue after a checkout commits.
type OrderCreated struct {
	Type        string          `json:"type"`
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      string          `json:"user_id"`
	Total       decimal.Decimal `json:"total"`
	CreatedAt   time.Time       `json:"created_at"`
}
