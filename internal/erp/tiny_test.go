package erp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/olie-orders/internal/apperr"
)

func newTinyServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *TinyClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	c := NewTinyClient(srv.URL, "tok", srv.Client())
	c.nowFunc = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestTinyCreateOrder(t *testing.T) {
	c := newTinyServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pedido.incluir.php", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "tok", r.PostForm.Get("token"))
		assert.Equal(t, "json", r.PostForm.Get("formato"))
		assert.Contains(t, r.PostForm.Get("pedido"), `"numero_pedido_ecommerce":"OLIE-000001"`)
		assert.Contains(t, r.PostForm.Get("pedido"), `"valor_unitario":"100.01"`)
		assert.Contains(t, r.PostForm.Get("pedido"), `"valor_total":"100.01"`)
		_, _ = w.Write([]byte(`{"retorno":{"status_processamento":3,"status":"OK","registros":[{"registro":{"sequencia":"1","status":"OK","id":987,"numero":"1042"}}]}}`))
	})

	res, err := c.CreateOrder(context.Background(), CreateOrderInput{
		OrderNumber: "OLIE-000001",
		Items:       []LineItem{{SKU: "BAG-1", Name: "Bag", Quantity: 1, UnitPrice: decimal.RequireFromString("100.005")}},
		Total:       decimal.RequireFromString("100.005"),
	})
	require.NoError(t, err)
	assert.Equal(t, "987", res.ERPID)
	assert.Equal(t, "1042", res.OrderNumber)
}

func TestTinyErrorEnvelope(t *testing.T) {
	c := newTinyServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"retorno":{"status_processamento":"2","status":"Erro","erros":[{"erro":"Pedido não localizado"}]}}`))
	})

	_, err := c.IssueNFe(context.Background(), IssueNFeInput{ERPID: "1"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
	assert.Equal(t, "ERP error: Pedido não localizado", apperr.Message(err))
}

func TestTinyHTTPFailure(t *testing.T) {
	c := newTinyServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.OrderStatus(context.Background(), OrderStatusInput{ERPID: "1"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
	assert.Equal(t, "ERP error: HTTP 502", apperr.Message(err))
}

func TestTinyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	c := NewTinyClient(srv.URL, "tok", &http.Client{Timeout: 20 * time.Millisecond})

	_, err := c.TrackShipment(context.Background(), TrackInput{Tracking: "BR1"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
}

func TestTinyQuoteShipping(t *testing.T) {
	c := newTinyServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "01001000", r.PostForm.Get("cepOrigem"))
		_, _ = w.Write([]byte(`{"retorno":{"status_processamento":"3","cotacoes":[{"cotacao":{"servico":"PAC","transportadora":"Correios","valor":"25,90","prazo":"5"}}]}}`))
	})

	res, err := c.QuoteShipping(context.Background(), QuoteInput{CEPOrigem: "01001000", CEPDestino: "80010000", WeightKg: 1})
	require.NoError(t, err)
	require.Len(t, res.Quotes, 1)
	q := res.Quotes[0]
	assert.Equal(t, "PAC", q.ServiceID)
	assert.Equal(t, "25.9", q.Price.String())
	assert.Equal(t, 5, q.DeliveryDays)
	assert.Equal(t, time.Date(2025, 3, 6, 12, 0, 0, 0, time.UTC), q.ETA)
}

func TestTinyLabelDefaultsETA(t *testing.T) {
	c := newTinyServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"retorno":{"status_processamento":3,"etiqueta":{"codigo_rastreamento":"BR123","url_etiqueta":"https://x/l.pdf","transportadora":"Correios","valor_frete":30}}}`))
	})

	res, err := c.CreateShippingLabel(context.Background(), LabelInput{ERPID: "1", ServiceID: "SEDEX"})
	require.NoError(t, err)
	assert.Equal(t, "BR123", res.Tracking)
	assert.Equal(t, "SEDEX", res.Service)
	assert.Equal(t, time.Date(2025, 3, 8, 12, 0, 0, 0, time.UTC), res.ETA)
}

func TestNewSelectsImplementation(t *testing.T) {
	_, ok := New(Config{DryRun: true}).(*DryRunClient)
	assert.True(t, ok)
	_, ok = New(Config{BaseURL: "https://example.test"}).(*TinyClient)
	assert.True(t, ok)
}
