// Package app wires configuration into the services shared by the API,
// the worker and the CLI.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/imrishuroy/olie-orders/internal/actions"
	"github.com/imrishuroy/olie-orders/internal/auth"
	"github.com/imrishuroy/olie-orders/internal/aws"
	"github.com/imrishuroy/olie-orders/internal/checkout"
	"github.com/imrishuroy/olie-orders/internal/config"
	"github.com/imrishuroy/olie-orders/internal/erp"
	"github.com/imrishuroy/olie-orders/internal/handlers"
	"github.com/imrishuroy/olie-orders/internal/idempotency"
	"github.com/imrishuroy/olie-orders/internal/orders"
	"github.com/imrishuroy/olie-orders/internal/reconcile"
)

// requestIdempotencyTTL is how long a checkout Idempotency-Key is honoured.
const requestIdempotencyTTL = 48 * time.Hour

// App holds the wired services.
type App struct {
	Config      *config.Config
	Log         *zap.Logger
	Orders      *orders.Store
	Ledger      idempotency.Ledger
	Reconciler  *reconcile.Reconciler
	Actions     *actions.Service
	Checkout    *checkout.Service
	Verifier    auth.Verifier
	Idempotency *idempotency.Store

	closers []func() error
}

// New builds every service from cfg on top of clients.
func New(ctx context.Context, cfg *config.Config, clients *aws.AWSClients, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	metrics := clients.Metrics(cfg.Metrics.Namespace)

	a.Orders = orders.NewStore(clients.DynamoDB, orders.Tables{
		Orders:       cfg.Tables.Orders,
		OrderNumbers: cfg.Tables.OrderNumbers,
		Counters:     cfg.Tables.Counters,
	})

	ledger, err := a.newLedger(ctx, clients)
	if err != nil {
		return nil, err
	}
	a.Ledger = ledger

	table := reconcile.DefaultTable()
	a.Reconciler = reconcile.New(table, a.Orders, ledger, reconcile.Options{Logger: log.Named("reconcile"), Metrics: metrics})

	client := erp.New(erp.Config{
		DryRun:  cfg.App.DryRun,
		BaseURL: cfg.ERP.BaseURL,
		Token:   cfg.ERP.Token,
		Timeout: cfg.ERP.Timeout,
	})
	a.Actions = actions.NewService(client, a.Orders, actions.Options{
		Logger:    log.Named("actions"),
		Metrics:   metrics,
		OriginCEP: cfg.Shipping.OriginCEP,
	})

	repo := checkout.NewRepository(clients.DynamoDB, checkout.Tables{
		Carts:              cfg.Tables.Carts,
		CartItems:          cfg.Tables.CartItems,
		BillOfMaterials:    cfg.Tables.BillOfMaterials,
		ProductionTasks:    cfg.Tables.ProductionTasks,
		InventoryMovements: cfg.Tables.InventoryMovements,
	})
	a.Checkout = checkout.NewService(repo, a.Orders, clients.Publisher(cfg.Queue.OrdersURL), log.Named("checkout"))
	a.Idempotency = idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, requestIdempotencyTTL)

	if cfg.Auth.SupabaseURL != "" {
		roles := auth.NewRoleStore(clients.DynamoDB, cfg.Tables.UserRoles)
		a.Verifier = auth.NewSupabaseVerifier(cfg.Auth.SupabaseURL, cfg.Auth.AnonKey, roles, &http.Client{Timeout: 10 * time.Second})
	} else {
		log.Warn("auth.supabase_url not set, every bearer token will be rejected")
		a.Verifier = auth.StaticVerifier{}
	}

	log.Info("services ready",
		zap.Bool("dry_run", cfg.App.DryRun),
		zap.String("ledger", cfg.Ledger.Backend),
		zap.Int("transition_rules", len(table.Rules())),
	)
	return a, nil
}

func (a *App) newLedger(ctx context.Context, clients *aws.AWSClients) (idempotency.Ledger, error) {
	cfg := a.Config
	switch cfg.Ledger.Backend {
	case "memory":
		l := idempotency.NewMemoryLedger(cfg.Ledger.TTL)
		janitorCtx, cancel := context.WithCancel(context.Background())
		go l.Run(janitorCtx, time.Minute)
		a.closers = append(a.closers, func() error { cancel(); return nil })
		return l, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		a.closers = append(a.closers, rdb.Close)
		return idempotency.NewRedisLedger(rdb, cfg.Ledger.TTL), nil
	case "dynamodb":
		return idempotency.NewEventLedger(clients.DynamoDB, cfg.Tables.ProcessedEvents, cfg.Ledger.TTL), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}

// HandlerConfig returns the HTTP surface configuration over the app's services.
func (a *App) HandlerConfig() handlers.Config {
	return handlers.Config{
		Actions:       a.Actions,
		Reconciler:    a.Reconciler,
		Checkout:      a.Checkout,
		Verifier:      a.Verifier,
		Idempotency:   a.Idempotency,
		WebhookSecret: a.Config.Webhook.Secret,
		Logger:        a.Log.Named("http"),
		ServiceName:   a.Config.App.Name,
	}
}

// Close releases background resources.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
