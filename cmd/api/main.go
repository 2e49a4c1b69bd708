package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/olie-orders/internal/app"
	"github.com/imrishuroy/olie-orders/internal/aws"
	"github.com/imrishuroy/olie-orders/internal/config"
	"github.com/imrishuroy/olie-orders/internal/handlers"
	"github.com/imrishuroy/olie-orders/internal/logging"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
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

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

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

	if !cfg.App.RunLocal {
		gin.SetMode(gin.ReleaseMode)
	}
	r := handlers.NewRouter(a.HandlerConfig())

	// RUN_LOCAL=true serves plain HTTP for development.
	if cfg.App.RunLocal {
		log.Info("running local server", zap.String("addr", cfg.App.HTTPAddr))
		if err := r.Run(cfg.App.HTTPAddr); err != nil {
			log.Fatal("failed to run local server", zap.Error(err))
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
