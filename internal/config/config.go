package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process configuration. Values come from an optional YAML
// file and are overridden by environment variables (app.dry_run <- DRY_RUN).
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	ERP      ERPConfig      `mapstructure:"erp"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Tables   TablesConfig   `mapstructure:"tables"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Shipping ShippingConfig `mapstructure:"shipping"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	DryRun   bool   `mapstructure:"dry_run"`
	RunLocal bool   `mapstructure:"run_local"`
	HTTPAddr string `mapstructure:"http_addr"`
}

type ERPConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	SupabaseURL string `mapstructure:"supabase_url"`
	AnonKey     string `mapstructure:"anon_key"`
}

type TablesConfig struct {
	Orders             string `mapstructure:"orders"`
	OrderNumbers       string `mapstructure:"order_numbers"`
	Counters           string `mapstructure:"counters"`
	Idempotency        string `mapstructure:"idempotency"`
	ProcessedEvents    string `mapstructure:"processed_events"`
	Carts              string `mapstructure:"carts"`
	CartItems          string `mapstructure:"cart_items"`
	BillOfMaterials    string `mapstructure:"bill_of_materials"`
	ProductionTasks    string `mapstructure:"production_tasks"`
	InventoryMovements string `mapstructure:"inventory_movements"`
	UserRoles          string `mapstructure:"user_roles"`
}

type LedgerConfig struct {
	Backend string        `mapstructure:"backend"` // memory | dynamodb | redis
	TTL     time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type WebhookConfig struct {
	Secret string `mapstructure:"secret"`
}

type QueueConfig struct {
	OrdersURL string `mapstructure:"orders_url"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

type ShippingConfig struct {
	OriginCEP string `mapstructure:"origin_cep"`
}

// env names that predate the nested keys.
var legacyEnv = map[string]string{
	"app.dry_run":             "DRY_RUN",
	"app.log_level":           "LOG_LEVEL",
	"app.run_local":           "RUN_LOCAL",
	"app.http_addr":           "HTTP_ADDR",
	"erp.token":               "TINY_API_TOKEN",
	"erp.base_url":            "TINY_BASE_URL",
	"auth.supabase_url":       "SUPABASE_URL",
	"auth.anon_key":           "SUPABASE_ANON_KEY",
	"tables.orders":           "ORDERS_TABLE",
	"tables.idempotency":      "IDEMPOTENCY_TABLE",
	"tables.processed_events": "PROCESSED_EVENTS_TABLE",
	"ledger.backend":          "LEDGER_BACKEND",
	"redis.addr":              "REDIS_ADDR",
	"webhook.secret":          "WEBHOOK_SECRET",
	"queue.orders_url":        "ORDERS_QUEUE_URL",
	"metrics.namespace":       "METRICS_NAMESPACE",
	"shipping.origin_cep":     "SHIPPING_ORIGIN_CEP",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "olie-orders")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.dry_run", true)
	v.SetDefault("app.run_local", false)
	v.SetDefault("app.http_addr", ":8080")

	v.SetDefault("erp.base_url", "https://api.tiny.com.br/api2")
	v.SetDefault("erp.timeout", 20*time.Second)

	v.SetDefault("tables.orders", "orders")
	v.SetDefault("tables.order_numbers", "order_numbers")
	v.SetDefault("tables.counters", "counters")
	v.SetDefault("tables.idempotency", "idempotency")
	v.SetDefault("tables.processed_events", "processed_events")
	v.SetDefault("tables.carts", "carts")
	v.SetDefault("tables.cart_items", "cart_items")
	v.SetDefault("tables.bill_of_materials", "bill_of_materials")
	v.SetDefault("tables.production_tasks", "production_tasks")
	v.SetDefault("tables.inventory_movements", "inventory_movements")
	v.SetDefault("tables.user_roles", "user_roles")

	v.SetDefault("ledger.backend", "dynamodb")
	v.SetDefault("ledger.ttl", 15*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("shipping.origin_cep", "01001000")
}

// Load reads configPath (if non-empty) and the environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, env, strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	if !c.App.DryRun && c.ERP.Token == "" {
		return fmt.Errorf("erp.token (TINY_API_TOKEN) is required when DRY_RUN is false")
	}
	switch c.Ledger.Backend {
	case "memory", "dynamodb":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis ledger")
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}
	if c.Ledger.TTL <= 0 {
		return fmt.Errorf("ledger.ttl must be positive")
	}
	if c.Tables.Orders == "" {
		return fmt.Errorf("tables.orders is required")
	}
	return nil
}
