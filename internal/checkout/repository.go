package checkout

import (
	"context"
	"errors"
	"fmt"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/olie-orders/internal/aws"
)

// Repository reads carts and bills of materials and builds the transact
// items that persist tasks and reservations, along with the items that undo them.
type Repository struct {
	client aws.DynamoDBAPI
	tables Tables
}

func NewRepository(client aws.DynamoDBAPI, tables Tables) *Repository {
	return &Repository{client: client, tables: tables}
}

// Cart returns the cart, or nil when it does not exist.
func (r *Repository) Cart(ctx context.Context, cartID string) (*Cart, error) {
	out, err := r.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &r.tables.Carts,
		Key:            map[string]types.AttributeValue{"cart_id": &types.AttributeValueMemberS{Value: cartID}},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var c Cart
	if err := aws.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	return &c, nil
}

// Items returns the items of a cart.
func (r *Repository) Items(ctx context.Context, cartID string) ([]CartItem, error) {
	var items []CartItem
	err := r.query(ctx, r.tables.CartItems, "cart_id", cartID, &items)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	return items, nil
}

// BOM returns the bill of materials of a product.
func (r *Repository) BOM(ctx context.Context, productID string) ([]BOMLine, error) {
	var lines []BOMLine
	err := r.query(ctx, r.tables.BillOfMaterials, "product_id", productID, &lines)
	if err != nil {
		return nil, fmt.Errorf("query bill of materials: %w", err)
	}
	return lines, nil
}

// query reads every page of a partition into out.
func (r *Repository) query(ctx context.Context, table, attr, value string, out interface{}) error {
	var all []map[string]types.AttributeValue
	var start map[string]types.AttributeValue
	for {
		page, err := r.client.Query(ctx, &dyn.QueryInput{
			TableName:                 &table,
			KeyConditionExpression:    awsString("#k = :v"),
			ExpressionAttributeNames:  map[string]string{"#k": attr},
			ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: value}},
			ExclusiveStartKey:         start,
			ConsistentRead:            awsBool(true),
		})
		if err != nil {
			return err
		}
		all = append(all, page.Items...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		start = page.LastEvaluatedKey
	}
	return aws.UnmarshalListOfMaps(all, out)
}

// TaskItem builds the put of a production task.
func (r *Repository) TaskItem(t ProductionTask) (types.TransactWriteItem, error) {
	av, err := aws.MarshalMap(t)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal task: %w", err)
	}
	return types.TransactWriteItem{Put: &types.Put{
		TableName:           &r.tables.ProductionTasks,
		Item:                av,
		ConditionExpression: awsString("attribute_not_exists(task_id)"),
	}}, nil
}

// MovementItem builds the put of an inventory movement.
func (r *Repository) MovementItem(m InventoryMovement) (types.TransactWriteItem, error) {
	av, err := aws.MarshalMap(m)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal movement: %w", err)
	}
	return types.TransactWriteItem{Put: &types.Put{
		TableName:           &r.tables.InventoryMovements,
		Item:                av,
		ConditionExpression: awsString("attribute_not_exists(movement_id)"),
	}}, nil
}

// RemoveItem builds the delete of a cart item. The item must still exist, so
// a cart emptied concurrently fails the transaction.
func (r *Repository) RemoveItem(it CartItem) types.TransactWriteItem {
	return types.TransactWriteItem{Delete: &types.Delete{
		TableName: &r.tables.CartItems,
		Key: map[string]types.AttributeValue{
			"cart_id": &types.AttributeValueMemberS{Value: it.CartID},
			"item_id": &types.AttributeValueMemberS{Value: it.ItemID},
		},
		ConditionExpression: awsString("attribute_exists(item_id)"),
	}}
}

// RestoreItem builds the put that undoes RemoveItem.
func (r *Repository) RestoreItem(it CartItem) (types.TransactWriteItem, error) {
	av, err := aws.MarshalMap(it)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal cart item: %w", err)
	}
	return types.TransactWriteItem{Put: &types.Put{TableName: &r.tables.CartItems, Item: av}}, nil
}

// DropTask builds the delete that undoes TaskItem.
func (r *Repository) DropTask(taskID string) types.TransactWriteItem {
	return types.TransactWriteItem{Delete: &types.Delete{
		TableName: &r.tables.ProductionTasks,
		Key:       map[string]types.AttributeValue{"task_id": &types.AttributeValueMemberS{Value: taskID}},
	}}
}

// DropMovement builds the delete that undoes MovementItem.
func (r *Repository) DropMovement(movementID string) types.TransactWriteItem {
	return types.TransactWriteItem{Delete: &types.Delete{
		TableName: &r.tables.InventoryMovements,
		Key:       map[string]types.AttributeValue{"movement_id": &types.AttributeValueMemberS{Value: movementID}},
	}}
}

// ErrCartChanged means a guarded write failed its condition, typically because
// the cart was checked out or edited concurrently.
var ErrCartChanged = errors.New("cart changed during checkout")

// Commit writes items in one transaction.
func (r *Repository) Commit(ctx context.Context, items []types.TransactWriteItem) error {
	_, err := r.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return nil
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, reason := range tce.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return ErrCartChanged
			}
		}
	}
	return fmt.Errorf("transact write: %w", err)
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
