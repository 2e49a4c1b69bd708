package idempotency

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/olie-orders/internal/aws"
)

// EventLedger is the durable Ledger backed by the processed-events table.
// Keys are unique per table; expires_at drives DynamoDB TTL, and rows past it
// are treated as absent even before TTL deletes them.
type EventLedger struct {
	client    aws.DynamoDBAPI
	tableName string
	ttl       time.Duration
	nowFunc   func() time.Time
}

// NewEventLedger returns a ledger over tableName.
func NewEventLedger(client aws.DynamoDBAPI, tableName string, ttl time.Duration) *EventLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &EventLedger{client: client, tableName: tableName, ttl: ttl, nowFunc: time.Now}
}

// WithClock replaces the ledger's time source.
func (l *EventLedger) WithClock(now func() time.Time) *EventLedger {
	l.nowFunc = now
	return l
}

func (l *EventLedger) AlreadyProcessed(ctx context.Context, key string) (bool, error) {
	out, err := l.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &l.tableName,
		Key:            l.itemKey(key),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return false, fmt.Errorf("get processed event: %w", err)
	}
	if len(out.Item) == 0 {
		return false, nil
	}
	var ev ProcessedEvent
	if err := attributevalue.UnmarshalMap(out.Item, &ev); err != nil {
		return false, fmt.Errorf("unmarshal processed event: %w", err)
	}
	return ev.ExpiresAt >= l.nowFunc().Unix(), nil
}

func (l *EventLedger) MarkProcessed(ctx context.Context, key string) (bool, error) {
	put := l.put(key)
	_, err := l.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                 put.TableName,
		Item:                      put.Item,
		ConditionExpression:       put.ConditionExpression,
		ExpressionAttributeValues: put.ExpressionAttributeValues,
	})
	if err != nil {
		if isConditionalFailure(err) {
			return false, nil
		}
		return false, fmt.Errorf("put processed event: %w", err)
	}
	return true, nil
}

func (l *EventLedger) Forget(ctx context.Context, key string) error {
	_, err := l.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &l.tableName,
		Key:       l.itemKey(key),
	})
	if err != nil {
		return fmt.Errorf("delete processed event: %w", err)
	}
	return nil
}

// ClaimItem returns the conditional put that claims key inside a transaction.
func (l *EventLedger) ClaimItem(key string) types.TransactWriteItem {
	return types.TransactWriteItem{Put: l.put(key)}
}

func (l *EventLedger) put(key string) *types.Put {
	now := l.nowFunc()
	item := l.itemKey(key)
	item["received_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)}
	item["expires_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(l.ttl).Unix(), 10)}
	return &types.Put{
		TableName:           &l.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(dedupe_key) OR expires_at < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	}
}

func (l *EventLedger) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"dedupe_key": &types.AttributeValueMemberS{Value: key},
	}
}

func awsBool(b bool) *bool { return &b }
