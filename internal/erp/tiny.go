package erp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/olie-orders/internal/apperr"
)

// tinySuccess is the retorno.status_processamento value of a processed call.
const tinySuccess = "3"

// TinyClient calls the Tiny API v2: form-encoded POSTs to <base>/<endpoint>.php
// answered by a {"retorno": {...}} JSON envelope.
type TinyClient struct {
	baseURL string
	token   string
	http    *http.Client
	nowFunc func() time.Time
}

// NewTinyClient returns a live client. httpClient carries the call timeout.
func NewTinyClient(baseURL, token string, httpClient *http.Client) *TinyClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &TinyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
		nowFunc: time.Now,
	}
}

type tinyEnvelope struct {
	Retorno json.RawMessage `json:"retorno"`
}

type tinyStatus struct {
	StatusProcessamento json.RawMessage `json:"status_processamento"`
	Status              string          `json:"status"`
	Erros               []struct {
		Erro string `json:"erro"`
	} `json:"erros"`
}

// call posts params to endpoint and decodes retorno into out.
func (c *TinyClient) call(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("token", c.token)
	form.Set("formato", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint+".php", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &apperr.Error{Kind: apperr.KindUpstream, Msg: "ERP error: request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &apperr.Error{Kind: apperr.KindUpstream, Msg: "ERP error: read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperr.Upstream(fmt.Sprintf("ERP error: HTTP %d", resp.StatusCode))
	}

	var env tinyEnvelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.Retorno) == 0 {
		return &apperr.Error{Kind: apperr.KindUpstream, Msg: "ERP error: malformed response", Err: err}
	}
	var st tinyStatus
	if err := json.Unmarshal(env.Retorno, &st); err != nil {
		return &apperr.Error{Kind: apperr.KindUpstream, Msg: "ERP error: malformed response", Err: err}
	}
	if code := strings.Trim(string(st.StatusProcessamento), `"`); code != tinySuccess {
		if len(st.Erros) > 0 && st.Erros[0].Erro != "" {
			return apperr.Upstream("ERP error: " + st.Erros[0].Erro)
		}
		return apperr.Upstream("ERP error: status_processamento " + code)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Retorno, out); err != nil {
		return &apperr.Error{Kind: apperr.KindUpstream, Msg: "ERP error: unexpected response shape", Err: err}
	}
	return nil
}

// tinyRegistro is the {"registros":[{"registro":{...}}]} shape most write
// endpoints answer with.
type tinyRegistro struct {
	Registros []struct {
		Registro json.RawMessage `json:"registro"`
	} `json:"registros"`
}

func (r tinyRegistro) first(out interface{}) error {
	if len(r.Registros) == 0 {
		return apperr.Upstream("ERP error: empty response")
	}
	if err := json.Unmarshal(r.Registros[0].Registro, out); err != nil {
		return &apperr.Error{Kind: apperr.KindUpstream, Msg: "ERP error: unexpected response shape", Err: err}
	}
	return nil
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	*f = flexString(strings.Trim(string(b), `"`))
	return nil
}

// flexDecimal accepts JSON numbers and numeric strings, including "25,90".
type flexDecimal decimal.Decimal

func (f *flexDecimal) UnmarshalJSON(b []byte) error {
	s := strings.ReplaceAll(strings.Trim(string(b), `"`), ",", ".")
	if s == "" || s == "null" {
		*f = flexDecimal(decimal.Zero)
		return nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	*f = flexDecimal(v)
	return nil
}

func (c *TinyClient) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	type item struct {
		Item struct {
			Codigo        string `json:"codigo"`
			Descricao     string `json:"descricao"`
			Unidade       string `json:"unidade"`
			Quantidade    int    `json:"quantidade"`
			ValorUnitario string `json:"valor_unitario"`
		} `json:"item"`
	}
	items := make([]item, 0, len(in.Items))
	for _, li := range in.Items {
		var it item
		it.Item.Codigo = li.SKU
		it.Item.Descricao = li.Name
		it.Item.Unidade = "UN"
		it.Item.Quantidade = li.Quantity
		it.Item.ValorUnitario = li.UnitPrice.StringFixed(2)
		items = append(items, it)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"pedido": map[string]interface{}{
			"numero_pedido_ecommerce": in.OrderNumber,
			"itens":                   items,
			"valor_total":             in.Total.StringFixed(2),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal pedido: %w", err)
	}

	var resp tinyRegistro
	if err := c.call(ctx, "pedido.incluir", url.Values{"pedido": {string(payload)}}, &resp); err != nil {
		return nil, err
	}
	var reg struct {
		ID     flexString `json:"id"`
		Numero flexString `json:"numero"`
	}
	if err := resp.first(&reg); err != nil {
		return nil, err
	}
	return &CreateOrderResult{ERPID: string(reg.ID), OrderNumber: string(reg.Numero)}, nil
}

func (c *TinyClient) IssueNFe(ctx context.Context, in IssueNFeInput) (*NFeResult, error) {
	var resp tinyRegistro
	if err := c.call(ctx, "gerar.nota.fiscal.pedido", url.Values{"id": {in.ERPID}, "modelo": {"NFe"}}, &resp); err != nil {
		return nil, err
	}
	var reg struct {
		ID       flexString `json:"idNotaFiscal"`
		Numero   flexString `json:"numero"`
		Serie    flexString `json:"serie"`
		LinkXML  string     `json:"link_xml"`
		LinkDANF string     `json:"link_danfe"`
	}
	if err := resp.first(&reg); err != nil {
		return nil, err
	}
	return &NFeResult{
		NFeNumber: string(reg.Numero),
		Serie:     string(reg.Serie),
		XMLURL:    reg.LinkXML,
		PDFURL:    reg.LinkDANF,
		Status:    "issued",
		IssuedAt:  c.nowFunc(),
	}, nil
}

func (c *TinyClient) CreateShippingLabel(ctx context.Context, in LabelInput) (*LabelResult, error) {
	var resp struct {
		Etiqueta struct {
			Codigo        string      `json:"codigo_rastreamento"`
			URL           string      `json:"url_etiqueta"`
			Transportador string      `json:"transportadora"`
			Servico       string      `json:"servico"`
			Valor         flexDecimal `json:"valor_frete"`
			Prazo         flexString  `json:"prazo_entrega"`
		} `json:"etiqueta"`
	}
	params := url.Values{"idPedido": {in.ERPID}, "servico": {in.ServiceID}}
	if err := c.call(ctx, "expedicao.gerar.etiqueta", params, &resp); err != nil {
		return nil, err
	}
	e := resp.Etiqueta
	service := e.Servico
	if service == "" {
		service = in.ServiceID
	}
	return &LabelResult{
		Tracking: e.Codigo,
		LabelURL: e.URL,
		Carrier:  e.Transportador,
		Service:  service,
		Price:    decimal.Decimal(e.Valor),
		ETA:      c.eta(string(e.Prazo)),
	}, nil
}

func (c *TinyClient) QuoteShipping(ctx context.Context, in QuoteInput) (*QuoteResult, error) {
	var resp struct {
		Cotacoes []struct {
			Cotacao struct {
				Servico       string      `json:"servico"`
				Transportador string      `json:"transportadora"`
				Valor         flexDecimal `json:"valor"`
				Prazo         flexString  `json:"prazo"`
			} `json:"cotacao"`
		} `json:"cotacoes"`
	}
	params := url.Values{
		"cepOrigem":  {in.CEPOrigem},
		"cepDestino": {in.CEPDestino},
		"peso":       {strconv.FormatFloat(in.WeightKg, 'f', 3, 64)},
		"valor":      {in.DeclaredValue.StringFixed(2)},
	}
	if err := c.call(ctx, "frete.cotar", params, &resp); err != nil {
		return nil, err
	}
	out := &QuoteResult{Quotes: make([]Quote, 0, len(resp.Cotacoes))}
	for _, q := range resp.Cotacoes {
		days, _ := strconv.Atoi(string(q.Cotacao.Prazo))
		out.Quotes = append(out.Quotes, Quote{
			ServiceID:    q.Cotacao.Servico,
			Carrier:      q.Cotacao.Transportador,
			Price:        decimal.Decimal(q.Cotacao.Valor),
			DeliveryDays: days,
			ETA:          c.eta(string(q.Cotacao.Prazo)),
		})
	}
	return out, nil
}

func (c *TinyClient) TrackShipment(ctx context.Context, in TrackInput) (*TrackResult, error) {
	var resp struct {
		Situacao string `json:"situacao"`
		Eventos  []struct {
			Evento struct {
				Data     string `json:"data"`
				Situacao string `json:"situacao"`
				Local    string `json:"local"`
			} `json:"evento"`
		} `json:"eventos"`
	}
	if err := c.call(ctx, "expedicao.rastrear", url.Values{"codigo": {in.Tracking}}, &resp); err != nil {
		return nil, err
	}
	out := &TrackResult{Tracking: in.Tracking, Status: resp.Situacao, Events: make([]TrackEvent, 0, len(resp.Eventos))}
	for _, e := range resp.Eventos {
		at, _ := time.Parse("02/01/2006 15:04", e.Evento.Data)
		out.Events = append(out.Events, TrackEvent{At: at, Status: e.Evento.Situacao, Location: e.Evento.Local})
	}
	return out, nil
}

func (c *TinyClient) CreatePaymentLink(ctx context.Context, in PaymentLinkInput) (*PaymentLinkResult, error) {
	var resp struct {
		Link string     `json:"link"`
		ID   flexString `json:"id"`
	}
	params := url.Values{
		"numeroPedido": {in.OrderNumber},
		"valor":        {in.Amount.StringFixed(2)},
		"forma":        {in.Method},
	}
	if err := c.call(ctx, "pedido.gerar.link.pagamento", params, &resp); err != nil {
		return nil, err
	}
	return &PaymentLinkResult{
		CheckoutURL: resp.Link,
		ProviderRef: string(resp.ID),
		Method:      in.Method,
		Status:      "pending",
	}, nil
}

func (c *TinyClient) OrderStatus(ctx context.Context, in OrderStatusInput) (*OrderStatusResult, error) {
	var resp struct {
		Pedido struct {
			ID       flexString `json:"id"`
			Numero   flexString `json:"numero"`
			Situacao string     `json:"situacao"`
		} `json:"pedido"`
	}
	id := in.ERPID
	if id == "" {
		id = in.OrderID
	}
	if err := c.call(ctx, "pedido.obter", url.Values{"id": {id}}, &resp); err != nil {
		return nil, err
	}
	return &OrderStatusResult{
		ERPID:       string(resp.Pedido.ID),
		OrderNumber: string(resp.Pedido.Numero),
		Status:      resp.Pedido.Situacao,
	}, nil
}

// eta turns a delivery estimate in days into a date, falling back to ShippingETA.
func (c *TinyClient) eta(days string) time.Time {
	if n, err := strconv.Atoi(strings.TrimSpace(days)); err == nil && n > 0 {
		return c.nowFunc().Add(time.Duration(n) * 24 * time.Hour)
	}
	return c.nowFunc().Add(ShippingETA)
}
