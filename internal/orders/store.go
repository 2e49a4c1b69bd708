package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/olie-orders/internal/aws"
)

var (
	// ErrStatusMismatch means the order's status changed since it was read.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrOrderNotFound is returned by targeted updates on a missing order.
	ErrOrderNotFound = errors.New("order not found")
	// ErrDuplicateOrderNumber means the order number is already taken.
	ErrDuplicateOrderNumber = errors.New("order number already exists")
	// ErrGuardFailed means a caller-supplied transaction guard failed its condition.
	ErrGuardFailed = errors.New("transaction guard failed")
)

// Tables names the tables the store writes to.
type Tables struct {
	Orders       string
	OrderNumbers string
	Counters     string
}

// Store encapsulates operations on the orders table.
type Store struct {
	client  aws.DynamoDBAPI
	tables  Tables
	nowFunc func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tables Tables) *Store {
	return &Store{
		client:  client,
		tables:  tables,
		nowFunc: time.Now,
	}
}

// WithClock replaces the store's time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.nowFunc = now
	return s
}

// numberMarker enforces order_number uniqueness.
type numberMarker struct {
	OrderNumber string `dynamodbav:"order_number"`
	OrderID     string `dynamodbav:"order_id"`
}

// CreateItems returns the transact items that persist order: the order itself
// and its order-number marker, both guarded by attribute_not_exists.
func (s *Store) CreateItems(order Order) ([]types.TransactWriteItem, error) {
	now := s.nowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Payments == nil {
		order.Payments = []Payment{}
	}
	if order.Items == nil {
		order.Items = []Item{}
	}

	orderMap, err := aws.MarshalMap(order)
	if err != nil {
		return nil, fmt.Errorf("marshal order item: %w", err)
	}
	markerMap, err := aws.MarshalMap(numberMarker{OrderNumber: order.OrderNumber, OrderID: order.OrderID})
	if err != nil {
		return nil, fmt.Errorf("marshal order number: %w", err)
	}

	return []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &s.tables.Orders,
				Item:                orderMap,
				ConditionExpression: awsString("attribute_not_exists(order_id)"),
			},
		},
		{
			Put: &types.Put{
				TableName:           &s.tables.OrderNumbers,
				Item:                markerMap,
				ConditionExpression: awsString("attribute_not_exists(order_number)"),
			},
		},
	}, nil
}

// Create persists order together with extra in one transaction.
// A taken order number yields ErrDuplicateOrderNumber; a failing extra item
// yields ErrGuardFailed.
func (s *Store) Create(ctx context.Context, order Order, extra ...types.TransactWriteItem) error {
	items, err := s.CreateItems(order)
	if err != nil {
		return err
	}
	items = append(items, extra...)

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		switch failedIndex(err) {
		case -1:
			return fmt.Errorf("transact write: %w", err)
		case 0, 1:
			return ErrDuplicateOrderNumber
		default:
			return ErrGuardFailed
		}
	}
	return nil
}

// Discard deletes an order that never completed creation. The order-number
// marker stays, so the number is never handed out again.
func (s *Store) Discard(ctx context.Context, orderID string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tables.Orders,
		Key:       orderKey(orderID),
	})
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tables.Orders,
		Key:       orderKey(orderID),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := aws.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// GetByNumber fetches an order by its business key. Returns (nil, nil) if not found.
func (s *Store) GetByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tables.OrderNumbers,
		Key: map[string]types.AttributeValue{
			"order_number": &types.AttributeValueMemberS{Value: orderNumber},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get order number: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var m numberMarker
	if err := aws.UnmarshalMap(out.Item, &m); err != nil {
		return nil, fmt.Errorf("unmarshal order number: %w", err)
	}
	return s.Get(ctx, m.OrderID)
}

// NextOrderNumber draws the next value of the order-number counter.
func (s *Store) NextOrderNumber(ctx context.Context) (string, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tables.Counters,
		Key: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: "order_number"},
		},
		UpdateExpression:          awsString("ADD seq :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": &types.AttributeValueMemberN{Value: "1"}},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return "", fmt.Errorf("increment order counter: %w", err)
	}
	n, ok := out.Attributes["seq"].(*types.AttributeValueMemberN)
	if !ok {
		return "", errors.New("increment order counter: seq missing from response")
	}
	seq, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse order counter: %w", err)
	}
	return fmt.Sprintf("OLIE-%06d", seq), nil
}

// SetPayments replaces the payments list of an existing order.
func (s *Store) SetPayments(ctx context.Context, orderID string, payments []Payment) error {
	return s.setField(ctx, orderID, "payments", payments)
}

// SetFiscal replaces the fiscal sub-document of an existing order.
func (s *Store) SetFiscal(ctx context.Context, orderID string, f Fiscal) error {
	return s.setField(ctx, orderID, "fiscal", f)
}

// SetLogistics replaces the logistics sub-document of an existing order.
func (s *Store) SetLogistics(ctx context.Context, orderID string, l Logistics) error {
	return s.setField(ctx, orderID, "logistics", l)
}

// SetERPRef records the ERP-side identifiers of an existing order.
func (s *Store) SetERPRef(ctx context.Context, orderID, erpID, erpNumber string) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tables.Orders,
		Key:                 orderKey(orderID),
		UpdateExpression:    awsString("SET erp_id = :id, erp_number = :num, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(order_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id":  &types.AttributeValueMemberS{Value: erpID},
			":num": &types.AttributeValueMemberS{Value: erpNumber},
			":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	return mapUpdateErr(err)
}

func (s *Store) setField(ctx context.Context, orderID, field string, v interface{}) error {
	av, err := aws.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", field, err)
	}
	now := s.nowFunc()
	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tables.Orders,
		Key:                      orderKey(orderID),
		UpdateExpression:         awsString("SET #f = :v, updated_at = :ua"),
		ConditionExpression:      awsString("attribute_exists(order_id)"),
		ExpressionAttributeNames: map[string]string{"#f": field},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v":  av,
			":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	return mapUpdateErr(err)
}

// Patch is a single reconciled change to an order: at most one sub-document
// replacement and an optional status transition.
type Patch struct {
	Payments  []Payment
	Fiscal    *Fiscal
	Logistics *Logistics
	Status    Status // empty: leave unchanged
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Payments == nil && p.Fiscal == nil && p.Logistics == nil && p.Status == ""
}

// Apply writes p to the order in one update, conditioned on the order still
// having the status it had when p was computed. guards are written in the same
// transaction; ErrGuardFailed means one of them failed its condition.
func (s *Store) Apply(ctx context.Context, current *Order, p Patch, guards ...types.TransactWriteItem) error {
	if p.Status != "" && !CanTransition(current.Status, p.Status) {
		return &InvalidTransitionError{From: current.Status, To: p.Status}
	}

	now := s.nowFunc()
	expr := "SET updated_at = :ua"
	names := map[string]string{"#s": "status"}
	values := map[string]types.AttributeValue{
		":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		":expected": &types.AttributeValueMemberS{Value: string(current.Status)},
	}
	add := func(field string, v interface{}) error {
		av, err := aws.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", field, err)
		}
		expr += fmt.Sprintf(", #%s = :%s", field, field)
		names["#"+field] = field
		values[":"+field] = av
		return nil
	}
	if p.Payments != nil {
		if err := add("payments", p.Payments); err != nil {
			return err
		}
	}
	if p.Fiscal != nil {
		if err := add("fiscal", p.Fiscal); err != nil {
			return err
		}
	}
	if p.Logistics != nil {
		if err := add("logistics", p.Logistics); err != nil {
			return err
		}
	}
	if p.Status != "" {
		expr += ", #s = :new"
		values[":new"] = &types.AttributeValueMemberS{Value: string(p.Status)}
	}

	if len(guards) == 0 {
		_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
			TableName:                 &s.tables.Orders,
			Key:                       orderKey(current.OrderID),
			UpdateExpression:          &expr,
			ConditionExpression:       awsString("#s = :expected"),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		})
		if err != nil {
			var sc *types.ConditionalCheckFailedException
			if errors.As(err, &sc) {
				return ErrStatusMismatch
			}
			return fmt.Errorf("update item: %w", err)
		}
		return nil
	}

	items := append([]types.TransactWriteItem{{
		Update: &types.Update{
			TableName:                 &s.tables.Orders,
			Key:                       orderKey(current.OrderID),
			UpdateExpression:          &expr,
			ConditionExpression:       awsString("#s = :expected"),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		},
	}}, guards...)

	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		switch failedIndex(err) {
		case -1:
			return fmt.Errorf("transact write: %w", err)
		case 0:
			return ErrStatusMismatch
		default:
			return ErrGuardFailed
		}
	}
	return nil
}

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// Returns nil on success, ErrStatusMismatch if condition failed, and an
// *InvalidTransitionError for moves the lifecycle does not allow.
func (s *Store) UpdateStatus(ctx context.Context, orderID string, expectedStatus, newStatus Status) error {
	if !CanTransition(expectedStatus, newStatus) {
		return &InvalidTransitionError{From: expectedStatus, To: newStatus}
	}
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName:                &s.tables.Orders,
		Key:                      orderKey(orderID),
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: string(newStatus)},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":expected": &types.AttributeValueMemberS{Value: string(expectedStatus)},
		},
		ConditionExpression: awsString("#s = :expected"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// failedIndex returns the index of the first transact item whose condition
// failed, or -1 if err is not a conditional cancellation.
func failedIndex(err error) int {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return -1
	}
	for i, r := range tce.CancellationReasons {
		if r.Code != nil && *r.Code == "ConditionalCheckFailed" {
			return i
		}
	}
	return -1
}

func mapUpdateErr(err error) error {
	if err == nil {
		return nil
	}
	var sc *types.ConditionalCheckFailedException
	if errors.As(err, &sc) {
		return ErrOrderNotFound
	}
	return fmt.Errorf("update item: %w", err)
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func awsString(s string) *string { return &s }
