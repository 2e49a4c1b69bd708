package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/olie-orders/internal/apperr"
	"github.com/imrishuroy/olie-orders/internal/reconcile"
)

type mockReconciler struct {
	seen []reconcile.Event
	errs map[string]error // by order number
}

func (m *mockReconciler) Reconcile(ctx context.Context, ev reconcile.Event) (reconcile.Outcome, error) {
	m.seen = append(m.seen, ev)
	if err := m.errs[ev.OrderNumber]; err != nil {
		return reconcile.Outcome{}, err
	}
	return reconcile.Outcome{Applied: true}, nil
}

func TestHandle_ReportsOnlyRetryableFailures(t *testing.T) {
	rec := &mockReconciler{errs: map[string]error{
		"OLIE-404": apperr.NotFound("Order not found"),
		"OLIE-500": apperr.Store(errors.New("throttled")),
		"OLIE-BAD": apperr.Validation("bad event"),
	}}
	p := NewProcessor(rec, zap.NewNop())

	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: `{"topic":"payments","event":"paid","eventId":"e1","orderNumber":"OLIE-1"}`},
		{MessageId: "m2", Body: `{"topic":"payments","event":"paid","eventId":"e2","orderNumber":"OLIE-404"}`},
		{MessageId: "m3", Body: `not json`},
		{MessageId: "m4", Body: `{"topic":"fiscal","event":"authorized","eventId":"e4","orderNumber":"OLIE-500"}`},
		{MessageId: "m5", Body: `{"topic":"fiscal"}`},
		{MessageId: "m6", Body: `{"topic":"fiscal","event":"x","orderNumber":"OLIE-BAD"}`},
	}})
	require.NoError(t, err)

	var failed []string
	for _, f := range resp.BatchItemFailures {
		failed = append(failed, f.ItemIdentifier)
	}
	assert.Equal(t, []string{"m2", "m3", "m4"}, failed)
	require.Len(t, rec.seen, 4)
	assert.Equal(t, reconcile.Event{Topic: "payments", Event: "paid", EventID: "e1", OrderNumber: "OLIE-1"}, rec.seen[0])
}
