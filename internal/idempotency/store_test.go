package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/olie-orders/internal/testutil/dynamotest"
)

func newFake() *dynamotest.Fake {
	return dynamotest.New(map[string][]string{
		"idempotency-table": {"idempotency_key"},
		"processed_events":  {"dedupe_key"},
	})
}

func TestCreateIfNotExists_Get_MarkDone_MarkFailed(t *testing.T) {
	mock := newFake()
	s := NewStore(mock, "idempotency-table", 24*time.Hour)

	ctx := context.Background()
	key := "user-1:test-key-1"

	created, err := s.CreateIfNotExists(ctx, key, "")
	require.NoError(t, err)
	require.True(t, created)

	// second create should return created=false (exists)
	created2, err := s.CreateIfNotExists(ctx, key, "")
	require.NoError(t, err)
	require.False(t, created2, "expected created=false on duplicate create")

	rec, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, StatusInProgress, rec.Status)

	require.NoError(t, s.MarkDone(ctx, key, "order-123", `{"ok":true}`, 200))

	// Read raw item from mock to assert updated fields
	item := mock.Lookup("idempotency-table", dynamotest.Item{"idempotency_key": &types.AttributeValueMemberS{Value: key}})
	require.NotNil(t, item)
	st, ok := item["status"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	require.Equal(t, StatusDone, st.Value)
	rb, ok := item["response_body"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	require.Equal(t, `{"ok":true}`, rb.Value)

	rec, err = s.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "order-123", rec.OrderID)
	require.Equal(t, 200, rec.ResponseStatus)

	// MarkFailed releases the key for the next attempt
	require.NoError(t, s.MarkFailed(ctx, key, "failed-reason"))
	item2 := mock.Lookup("idempotency-table", dynamotest.Item{"idempotency_key": &types.AttributeValueMemberS{Value: key}})
	n, ok := item2["note"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	require.Equal(t, "failed-reason", n.Value)

	created3, err := s.CreateIfNotExists(ctx, key, "")
	require.NoError(t, err)
	require.True(t, created3)
}

func TestGet_ExpiredRecordIsAbsent(t *testing.T) {
	mock := newFake()
	s := NewStore(mock, "idempotency-table", time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return now }

	_, err := s.CreateIfNotExists(context.Background(), "k", "")
	require.NoError(t, err)

	s.nowFunc = func() time.Time { return now.Add(2 * time.Hour) }
	rec, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestAttributevalueMarshal_Unmarshal(t *testing.T) {
	// ensure our types marshal/unmarshal cleanly
	rec := IdempotencyRecord{
		IdempotencyKey: "k1",
		Status:         StatusInProgress,
		OrderID:        "o1",
		CreatedAt:      time.Now().Round(time.Second),
		UpdatedAt:      time.Now().Round(time.Second),
		ExpiresAt:      time.Now().Add(24 * time.Hour).Unix(),
	}
	m, err := attributevalue.MarshalMap(rec)
	require.NoError(t, err)
	var out IdempotencyRecord
	require.NoError(t, attributevalue.UnmarshalMap(m, &out))
	require.Equal(t, rec.IdempotencyKey, out.IdempotencyKey)
}
