package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/olie-orders/internal/auth"
	"github.com/imrishuroy/olie-orders/internal/aws"
	"github.com/imrishuroy/olie-orders/internal/config"
	"github.com/imrishuroy/olie-orders/internal/idempotency"
	"github.com/imrishuroy/olie-orders/internal/testutil/dynamotest"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Ledger.Backend = backend
	cfg.Ledger.TTL = time.Minute
	return cfg
}

func TestNewWiresLedgerBackend(t *testing.T) {
	clients := &aws.AWSClients{DynamoDB: dynamotest.New(nil)}

	a, err := New(context.Background(), testConfig(t, "memory"), clients, zap.NewNop())
	require.NoError(t, err)
	_, ok := a.Ledger.(*idempotency.MemoryLedger)
	assert.True(t, ok)
	assert.NoError(t, a.Close())

	a, err = New(context.Background(), testConfig(t, "dynamodb"), clients, zap.NewNop())
	require.NoError(t, err)
	_, ok = a.Ledger.(idempotency.TransactionalLedger)
	assert.True(t, ok)

	_, err = New(context.Background(), testConfig(t, "etcd"), clients, zap.NewNop())
	assert.Error(t, err)
}

func TestNewWithoutSupabaseRejectsTokens(t *testing.T) {
	cfg := testConfig(t, "dynamodb")
	cfg.Auth.SupabaseURL = ""
	a, err := New(context.Background(), cfg, &aws.AWSClients{DynamoDB: dynamotest.New(nil)}, zap.NewNop())
	require.NoError(t, err)

	_, err = a.Verifier.Verify(context.Background(), "anything")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	hc := a.HandlerConfig()
	assert.Equal(t, cfg.App.Name, hc.ServiceName)
	assert.NotNil(t, hc.Reconciler)
}
