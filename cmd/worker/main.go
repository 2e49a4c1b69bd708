package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/olie-orders/internal/app"
	"github.com/imrishuroy/olie-orders/internal/aws"
	"github.com/imrishuroy/olie-orders/internal/config"
	"github.com/imrishuroy/olie-orders/internal/logging"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		log.Fatal("failed to init aws clients", zap.Error(err))
	}
	a, err := app.New(ctx, cfg, clients, log)
	if err != nil {
		log.Fatal("failed to wire services", zap.Error(err))
	}
	defer func() { _ = a.Close() }()

	p := NewProcessor(a.Reconciler, log.Named("worker"))

	// RUN_LOCAL=true processes one message from LOCAL_SQS_BODY and exits.
	if cfg.App.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"topic":"payments","event":"paid","eventId":"local-1","orderNumber":"OLIE-000001"}`
		}
		resp, err := p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}})
		if err != nil || len(resp.BatchItemFailures) > 0 {
			log.Fatal("local handler error", zap.Error(err), zap.Int("failures", len(resp.BatchItemFailures)))
		}
		return
	}

	lambda.Start(p.Handle)
}
