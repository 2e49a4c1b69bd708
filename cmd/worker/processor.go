package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/olie-orders/internal/apperr"
	"github.com/imrishuroy/olie-orders/internal/reconcile"
)

// Reconciler is the part of reconcile.Reconciler the worker uses.
type Reconciler interface {
	Reconcile(ctx context.Context, ev reconcile.Event) (reconcile.Outcome, error)
}

// Processor feeds queued webhook events to the reconciler.
type Processor struct {
	rec Reconciler
	log *zap.Logger
}

// NewProcessor creates a worker processor.
func NewProcessor(rec Reconciler, log *zap.Logger) *Processor {
	return &Processor{rec: rec, log: log}
}

// Handle processes an SQS batch. Failed messages are reported as batch item
// failures so SQS redelivers them and eventually moves them to the DLQ.
// Events the reconciler rejects as invalid are logged and dropped.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.log.Error("worker error", zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg WebhookMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	log := p.log.With(
		zap.String("message_id", rec.MessageId),
		zap.String("topic", msg.Topic),
		zap.String("event", msg.Event),
		zap.String("order_number", msg.OrderNumber),
	)
	if msg.Topic == "" || msg.Event == "" || msg.OrderNumber == "" {
		// redelivery cannot fix a malformed event
		log.Warn("dropping incomplete webhook message")
		return nil
	}

	out, err := p.rec.Reconcile(ctx, reconcile.Event{
		Topic:       msg.Topic,
		Event:       msg.Event,
		EventID:     msg.EventID,
		ProviderRef: msg.ProviderRef,
		OrderNumber: msg.OrderNumber,
	})
	if err != nil {
		if apperr.Is(err, apperr.KindValidation) {
			log.Warn("dropping invalid webhook message", zap.Error(err))
			return nil
		}
		return err
	}
	log.Info("webhook message processed",
		zap.Bool("duplicate", out.Duplicate),
		zap.Bool("applied", out.Applied),
		zap.String("to", string(out.To)),
	)
	return nil
}
