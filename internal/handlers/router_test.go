package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/olie-orders/internal/actions"
	"github.com/imrishuroy/olie-orders/internal/auth"
	"github.com/imrishuroy/olie-orders/internal/aws"
	"github.com/imrishuroy/olie-orders/internal/checkout"
	"github.com/imrishuroy/olie-orders/internal/erp"
	"github.com/imrishuroy/olie-orders/internal/idempotency"
	"github.com/imrishuroy/olie-orders/internal/orders"
	"github.com/imrishuroy/olie-orders/internal/reconcile"
	"github.com/imrishuroy/olie-orders/internal/testutil/dynamotest"
)

var routerNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	router *gin.Engine
	fake   *dynamotest.Fake
	store  *orders.Store
}

func newHarness(t *testing.T, secret string) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := dynamotest.New(map[string][]string{
		"orders":              {"order_id"},
		"order_numbers":       {"order_number"},
		"counters":            {"name"},
		"processed_events":    {"dedupe_key"},
		"idempotency":         {"idempotency_key"},
		"carts":               {"cart_id"},
		"cart_items":          {"cart_id", "item_id"},
		"bill_of_materials":   {"product_id", "material_id"},
		"production_tasks":    {"task_id"},
		"inventory_movements": {"movement_id"},
	})
	clock := func() time.Time { return routerNow }
	store := orders.NewStore(fake, orders.Tables{Orders: "orders", OrderNumbers: "order_numbers", Counters: "counters"}).WithClock(clock)
	ledger := idempotency.NewEventLedger(fake, "processed_events", idempotency.DefaultTTL).WithClock(clock)

	verifier := auth.StaticVerifier{
		"admin-token":   {UserID: "u-admin", Roles: []string{auth.RoleAdmin}},
		"support-token": {UserID: "u-support", Roles: []string{auth.RoleAtendimento}},
		"buyer-token":   {UserID: "u1"},
	}
	repo := checkout.NewRepository(fake, checkout.Tables{
		Carts:              "carts",
		CartItems:          "cart_items",
		BillOfMaterials:    "bill_of_materials",
		ProductionTasks:    "production_tasks",
		InventoryMovements: "inventory_movements",
	})

	r := NewRouter(Config{
		Actions:       actions.NewService(erp.NewDryRunClient().WithClock(clock), store, actions.Options{}).WithClock(clock),
		Reconciler:    reconcile.New(reconcile.DefaultTable(), store, ledger, reconcile.Options{}).WithClock(clock),
		Checkout:      checkout.NewService(repo, store, nil, nil).WithClock(clock),
		Verifier:      verifier,
		Idempotency:   idempotency.NewStore(fake, "idempotency", time.Hour),
		WebhookSecret: secret,
		ServiceName:   "olie-orders",
	})

	require.NoError(t, store.Create(context.Background(), orders.Order{
		OrderID:     "o1",
		OrderNumber: "OLIE-1",
		Status:      orders.StatusPendingPayment,
		Items:       []orders.Item{{ProductID: "p1", Name: "Bolsa", Quantity: 1, UnitPrice: decimal.NewFromInt(100)}},
		Subtotal:    decimal.NewFromInt(100),
		Total:       decimal.NewFromInt(100),
	}))
	return &harness{router: r, fake: fake, store: store}
}

func (h *harness) do(method, path, token, body string, headers ...string) (int, map[string]interface{}, string) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out, w.Body.String()
}

func TestPreflightAndHealth(t *testing.T) {
	h := newHarness(t, "")

	req := httptest.NewRequest(http.MethodOptions, "/functions/v1/tiny-nfe-issue", nil)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	code, body, _ := h.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
}

func TestInvokerAuthErrors(t *testing.T) {
	h := newHarness(t, "")
	writes := h.fake.Calls["UpdateItem"]

	code, body, _ := h.do(http.MethodPost, "/functions/v1/tiny-create-shipping-label", "", `{"orderId":"o1","serviceId":"PAC"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "Unauthorized", body["error"])

	code, _, _ = h.do(http.MethodPost, "/functions/v1/tiny-create-shipping-label", "forged", `{"orderId":"o1","serviceId":"PAC"}`)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body, _ = h.do(http.MethodPost, "/functions/v1/tiny-nfe-issue", "support-token", `{}`)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Forbidden", body["error"])

	code, body, _ = h.do(http.MethodPost, "/functions/v1/tiny-shipping-quote", "buyer-token", ``)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "cepDestino is required", body["error"])

	code, body, _ = h.do(http.MethodPost, "/functions/v1/tiny-order-status", "buyer-token", `{"orderId":"missing"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Order not found", body["error"])

	assert.Equal(t, writes, h.fake.Calls["UpdateItem"])
}

func TestInvokerAuthPrecedesBodyDecoding(t *testing.T) {
	h := newHarness(t, "")
	writes := h.fake.Calls["UpdateItem"]

	cases := []struct {
		name  string
		path  string
		token string
		body  string
		code  int
		err   string
	}{
		{"non-admin wrong field type", "/functions/v1/tiny-nfe-issue", "support-token", `{"orderId": 5}`, http.StatusForbidden, "Forbidden"},
		{"non-admin not json", "/functions/v1/tiny-nfe-issue", "buyer-token", `not json`, http.StatusForbidden, "Forbidden"},
		{"anonymous not json", "/functions/v1/tiny-nfe-issue", "", `not json`, http.StatusUnauthorized, "Unauthorized"},
		{"anonymous wrong type on open invoker", "/functions/v1/tiny-track-shipment", "", `{"tracking": 1}`, http.StatusUnauthorized, "Unauthorized"},
		{"buyer on payment link", "/functions/v1/tiny-create-payment-link", "buyer-token", `[`, http.StatusForbidden, "Forbidden"},
		{"anonymous checkout not json", "/functions/v1/sandbox-checkout", "", `not json`, http.StatusUnauthorized, "Unauthorized"},
		{"authorized caller gets decode error", "/functions/v1/tiny-nfe-issue", "admin-token", `{"orderId": 5}`, http.StatusBadRequest, "invalid JSON body"},
		{"authenticated checkout decode error", "/functions/v1/sandbox-checkout", "buyer-token", `not json`, http.StatusBadRequest, "invalid JSON body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body, raw := h.do(http.MethodPost, tc.path, tc.token, tc.body)
			assert.Equal(t, tc.code, code, raw)
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, tc.err, body["error"])
		})
	}
	assert.Equal(t, writes, h.fake.Calls["UpdateItem"])
}

func TestShippingLabelRoute(t *testing.T) {
	h := newHarness(t, "")

	code, body, raw := h.do(http.MethodPost, "/functions/v1/tiny-create-shipping-label", "support-token", `{"orderId":"o1","serviceId":"PAC"}`)
	require.Equal(t, http.StatusOK, code, raw)
	assert.Equal(t, true, body["ok"])
	assert.Regexp(t, `^BR\d+$`, body["tracking"])
	assert.Equal(t, routerNow.Add(erp.ShippingETA).Format(time.RFC3339), body["eta"])

	o, err := h.store.Get(context.Background(), "o1")
	require.NoError(t, err)
	require.NotNil(t, o.Logistics)
	assert.Equal(t, body["tracking"], o.Logistics.Tracking)
}

func TestWebhookRoute(t *testing.T) {
	h := newHarness(t, "s3cret")
	payload := `{"topic":"payments","event":"paid","eventId":"evt-1","orderNumber":"OLIE-1"}`

	code, _, _ := h.do(http.MethodPost, "/functions/v1/tiny-webhooks", "", payload)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body, raw := h.do(http.MethodPost, "/functions/v1/tiny-webhooks", "", payload, "X-Webhook-Secret", "s3cret")
	require.Equal(t, http.StatusOK, code, raw)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["applied"])
	assert.Equal(t, "paid", body["to"])

	code, body, _ = h.do(http.MethodPost, "/functions/v1/tiny-webhooks", "", payload, "X-Webhook-Secret", "s3cret")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["duplicate"])

	code, body, _ = h.do(http.MethodPost, "/functions/v1/tiny-webhooks", "",
		`{"topic":"payments","event":"paid","eventId":"evt-2","orderNumber":"OLIE-404"}`, "X-Webhook-Secret", "s3cret")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Order not found", body["error"])

	code, body, _ = h.do(http.MethodPost, "/functions/v1/tiny-webhooks", "",
		`{"topic":"refunds","event":"created","eventId":"evt-3","orderNumber":"OLIE-1"}`, "X-Webhook-Secret", "s3cret")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["applied"])
}

func TestSandboxCheckoutReplay(t *testing.T) {
	h := newHarness(t, "")
	seed := func(table string, v interface{}) {
		item, err := aws.MarshalMap(v)
		require.NoError(t, err)
		h.fake.Seed(table, item)
	}
	seed("carts", checkout.Cart{CartID: "c1", UserID: "u1"})
	seed("cart_items", checkout.CartItem{CartID: "c1", ItemID: "i1", ProductID: "bag", ProductName: "Bolsa", Quantity: 1, UnitPrice: decimal.NewFromInt(80)})

	code, first, raw := h.do(http.MethodPost, "/functions/v1/sandbox-checkout", "buyer-token", `{"cartId":"c1"}`, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, code, raw)
	assert.Equal(t, true, first["ok"])
	assert.Equal(t, "OLIE-000001", first["orderNumber"])

	code, second, _ := h.do(http.MethodPost, "/functions/v1/sandbox-checkout", "buyer-token", `{"cartId":"c1"}`, "Idempotency-Key", "k-1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, first, second)
	assert.Len(t, h.fake.Items("orders"), 2) // seeded OLIE-1 plus the checkout

	code, body, _ := h.do(http.MethodPost, "/functions/v1/sandbox-checkout", "buyer-token", `{"cartId":"c1"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Cart is empty", body["error"])

	code, _, _ = h.do(http.MethodPost, "/functions/v1/sandbox-checkout", "", `{"cartId":"c1"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
}
