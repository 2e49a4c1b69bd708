package actions

import (
	"context"

	"github.com/imrishuroy/olie-orders/internal/auth"
	"github.com/imrishuroy/olie-orders/internal/erp"
	"github.com/imrishuroy/olie-orders/internal/orders"
	"github.com/imrishuroy/olie-orders/internal/validation"
)

// Label status written by the shipping-label invoker.
const LogisticsLabelCreated = "label_created"

// CreateOrder pushes the order to the ERP and records the ERP reference.
func (s *Service) CreateOrder(ctx context.Context, id *auth.Identity, req validation.CreateOrderRequest) (*erp.CreateOrderResult, error) {
	if err := s.begin(ctx, InvokerCreateOrder, id, req); err != nil {
		return nil, err
	}
	o, err := s.loadOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	items := make([]erp.LineItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, erp.LineItem{
			SKU:       it.SKU,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.Add(it.PriceDelta),
		})
	}
	res, err := s.erp.CreateOrder(ctx, erp.CreateOrderInput{
		OrderID:     o.OrderID,
		OrderNumber: o.OrderNumber,
		Items:       items,
		Total:       o.Total,
	})
	if err != nil {
		return nil, upstream(err)
	}
	if err := s.stored(InvokerCreateOrder, o.OrderID, s.orders.SetERPRef(ctx, o.OrderID, res.ERPID, res.OrderNumber)); err != nil {
		return nil, err
	}
	return res, nil
}

// IssueNFe issues the invoice and stores it as the order's fiscal document.
func (s *Service) IssueNFe(ctx context.Context, id *auth.Identity, req validation.IssueNFeRequest) (*erp.NFeResult, error) {
	if err := s.begin(ctx, InvokerIssueNFe, id, req); err != nil {
		return nil, err
	}
	o, err := s.loadOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	res, err := s.erp.IssueNFe(ctx, erp.IssueNFeInput{OrderID: o.OrderID, OrderNumber: o.OrderNumber, ERPID: o.ERPID})
	if err != nil {
		return nil, upstream(err)
	}
	issued := res.IssuedAt
	fiscal := orders.Fiscal{
		NFeNumber: res.NFeNumber,
		Serie:     res.Serie,
		XMLURL:    res.XMLURL,
		PDFURL:    res.PDFURL,
		Status:    res.Status,
		IssuedAt:  &issued,
	}
	if err := s.stored(InvokerIssueNFe, o.OrderID, s.orders.SetFiscal(ctx, o.OrderID, fiscal)); err != nil {
		return nil, err
	}
	return res, nil
}

// CreateShippingLabel buys a label and stores it as the order's logistics.
func (s *Service) CreateShippingLabel(ctx context.Context, id *auth.Identity, req validation.ShippingLabelRequest) (*erp.LabelResult, error) {
	if err := s.begin(ctx, InvokerShippingLabel, id, req); err != nil {
		return nil, err
	}
	o, err := s.loadOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	res, err := s.erp.CreateShippingLabel(ctx, erp.LabelInput{
		OrderID:     o.OrderID,
		OrderNumber: o.OrderNumber,
		ERPID:       o.ERPID,
		ServiceID:   req.ServiceID,
	})
	if err != nil {
		return nil, upstream(err)
	}
	now := s.nowFunc()
	eta := res.ETA
	logistics := orders.Logistics{
		Tracking:  res.Tracking,
		LabelURL:  res.LabelURL,
		Carrier:   res.Carrier,
		Service:   res.Service,
		Price:     res.Price,
		ETA:       &eta,
		Status:    LogisticsLabelCreated,
		CreatedAt: &now,
		UpdatedAt: &now,
	}
	if err := s.stored(InvokerShippingLabel, o.OrderID, s.orders.SetLogistics(ctx, o.OrderID, logistics)); err != nil {
		return nil, err
	}
	return res, nil
}

// QuoteShipping returns carrier quotes. Nothing is stored.
func (s *Service) QuoteShipping(ctx context.Context, id *auth.Identity, req validation.ShippingQuoteRequest) (*erp.QuoteResult, error) {
	if err := s.begin(ctx, InvokerShippingQuote, id, req); err != nil {
		return nil, err
	}
	origin := req.CEPOrigem
	if origin == "" {
		origin = s.originCEP
	}
	res, err := s.erp.QuoteShipping(ctx, erp.QuoteInput{
		CEPOrigem:     origin,
		CEPDestino:    req.CEPDestino,
		WeightKg:      req.WeightKg,
		DeclaredValue: req.DeclaredValue,
	})
	if err != nil {
		return nil, upstream(err)
	}
	return res, nil
}

// TrackShipment returns the carrier's tracking history. Nothing is stored.
func (s *Service) TrackShipment(ctx context.Context, id *auth.Identity, req validation.TrackShipmentRequest) (*erp.TrackResult, error) {
	if err := s.begin(ctx, InvokerTrackShipment, id, req); err != nil {
		return nil, err
	}
	res, err := s.erp.TrackShipment(ctx, erp.TrackInput{Tracking: req.Tracking})
	if err != nil {
		return nil, upstream(err)
	}
	return res, nil
}

// CreatePaymentLink opens a payment and stores it as payments[0], replacing
// any earlier attempt.
func (s *Service) CreatePaymentLink(ctx context.Context, id *auth.Identity, req validation.PaymentLinkRequest) (*erp.PaymentLinkResult, error) {
	if err := s.begin(ctx, InvokerPaymentLink, id, req); err != nil {
		return nil, err
	}
	o, err := s.loadOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	amount := req.Amount
	if amount.IsZero() {
		amount = o.Total
	}
	res, err := s.erp.CreatePaymentLink(ctx, erp.PaymentLinkInput{
		OrderID:     o.OrderID,
		OrderNumber: o.OrderNumber,
		Amount:      amount,
		Method:      req.Method,
	})
	if err != nil {
		return nil, upstream(err)
	}
	now := s.nowFunc()
	payment := orders.Payment{
		Method:      res.Method,
		Status:      orders.PaymentPending,
		CheckoutURL: res.CheckoutURL,
		ProviderRef: res.ProviderRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.stored(InvokerPaymentLink, o.OrderID, s.orders.SetPayments(ctx, o.OrderID, o.WithPrimaryPayment(payment))); err != nil {
		return nil, err
	}
	return res, nil
}

// OrderStatusResult pairs the ERP view of an order with the local status.
type OrderStatusResult struct {
	erp.OrderStatusResult
	LocalStatus orders.Status `json:"localStatus"`
}

// OrderStatus asks the ERP for the order's state. Nothing is stored.
func (s *Service) OrderStatus(ctx context.Context, id *auth.Identity, req validation.OrderStatusRequest) (*OrderStatusResult, error) {
	if err := s.begin(ctx, InvokerOrderStatus, id, req); err != nil {
		return nil, err
	}
	o, err := s.loadOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	res, err := s.erp.OrderStatus(ctx, erp.OrderStatusInput{OrderID: o.OrderID, ERPID: o.ERPID})
	if err != nil {
		return nil, upstream(err)
	}
	return &OrderStatusResult{OrderStatusResult: *res, LocalStatus: o.Status}, nil
}
