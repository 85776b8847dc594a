package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
)

// StockReader reports how many units of a product can be sold right now.
type StockReader interface {
	Available(ctx context.Context, productID uuid.UUID) (int, error)
}

// DynamoItemGetter is the part of the DynamoDB client the stock reader needs.
type DynamoItemGetter interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoStockReader reads the inventory table maintained by the inventory service.
type DynamoStockReader struct {
	client DynamoItemGetter
	table  string
}

func NewDynamoStockReader(client DynamoItemGetter, table string) *DynamoStockReader {
	return &DynamoStockReader{client: client, table: table}
}

type ddbInventory struct {
	ProductID string `dynamodbav:"product_id"`
	Available int    `dynamodbav:"available"`
	Reserved  int    `dynamodbav:"reserved"`
	Threshold int    `dynamodbav:"threshold"`
	UpdatedAt string `dynamodbav:"updated_at"`
}

// Available returns the unreserved units. Reservations are already
// subtracted from available by the inventory service. A product with no
// inventory record has none.
func (r *DynamoStockReader) Available(ctx context.Context, productID uuid.UUID) (int, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"product_id": productID.String()})
	if err != nil {
		return 0, fmt.Errorf("marshal key: %w", err)
	}

	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &r.table,
		Key:            key,
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return 0, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return 0, nil
	}

	var di ddbInventory
	if err := attributevalue.UnmarshalMap(out.Item, &di); err != nil {
		return 0, fmt.Errorf("unmarshal item: %w", err)
	}
	if di.Available < 0 {
		return 0, nil
	}
	return di.Available, nil
}

func boolPtr(b bool) *bool { return &b }
