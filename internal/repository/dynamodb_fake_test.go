package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo understands the two condition expressions the repositories issue.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	// beforeWrite runs once before the next conditional write, to simulate a racing writer.
	beforeWrite func(f *fakeDynamo)
	puts        int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func keyString(key map[string]types.AttributeValue) string {
	pk := key["PK"].(*types.AttributeValueMemberS).Value
	sk := key["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) checkCondition(existing map[string]types.AttributeValue, expr *string, values map[string]types.AttributeValue) error {
	if expr == nil {
		return nil
	}
	switch aws.ToString(expr) {
	case "Version = :v":
		want := values[":v"].(*types.AttributeValueMemberS).Value
		if existing == nil {
			break
		}
		if got, ok := existing["Version"].(*types.AttributeValueMemberS); ok && got.Value == want {
			return nil
		}
	case "attribute_not_exists(PK)":
		if existing == nil {
			return nil
		}
	default:
		return fmt.Errorf("unsupported condition %q", aws.ToString(expr))
	}
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func (f *fakeDynamo) runHook(expr *string) {
	if expr == nil || f.beforeWrite == nil {
		return
	}
	hook := f.beforeWrite
	f.beforeWrite = nil
	hook(f)
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[keyString(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	copied := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		copied[k] = v
	}
	return &dynamodb.GetItemOutput{Item: copied}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	f.runHook(in.ConditionExpression)
	defer f.mu.Unlock()

	key := keyString(in.Item)
	if err := f.checkCondition(f.items[key], in.ConditionExpression, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	f.items[key] = in.Item
	f.puts++
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	f.runHook(in.ConditionExpression)
	defer f.mu.Unlock()

	key := keyString(in.Key)
	if err := f.checkCondition(f.items[key], in.ConditionExpression, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	delete(f.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}
