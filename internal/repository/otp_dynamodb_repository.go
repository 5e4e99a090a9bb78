package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"github.com/voteverify/voteverify/internal/models"
)

// DynamoOTPStore keeps OTP records in the single service table under OTP#<phone>.
// Every write stamps a fresh Version so Mutate can use it as a compare-and-swap token.
type DynamoOTPStore struct {
	client    DynamoAPI
	tableName string
	retention time.Duration
	logger    *logrus.Logger
}

func NewDynamoOTPStore(client DynamoAPI, tableName string, retention time.Duration, logger *logrus.Logger) *DynamoOTPStore {
	return &DynamoOTPStore{
		client:    client,
		tableName: tableName,
		retention: retention,
		logger:    logger,
	}
}

func otpPK(phone string) string {
	return fmt.Sprintf("OTP#%s", phone)
}

func (s *DynamoOTPStore) marshal(phone string, rec *models.OTPRecord) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal OTP data: %w", err)
	}
	for k, v := range itemKey(otpPK(phone)) {
		item[k] = v
	}
	// TTL is the DynamoDB expiry attribute, in Unix seconds
	ttl := rec.ExpiresAt.Add(s.retention).Unix()
	item["TTL"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)}
	return item, nil
}

func (s *DynamoOTPStore) get(ctx context.Context, phone string) (*models.OTPRecord, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            itemKey(otpPK(phone)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var rec models.OTPRecord
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}
	return &rec, nil
}

func (s *DynamoOTPStore) Save(ctx context.Context, phone string, rec models.OTPRecord) error {
	rec.Version = uuid.NewString()
	item, err := s.marshal(phone, &rec)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to store OTP in DynamoDB")
		return fmt.Errorf("failed to store OTP: %w", err)
	}
	return nil
}

func (s *DynamoOTPStore) Get(ctx context.Context, phone string) (*models.OTPRecord, error) {
	rec, err := s.get(ctx, phone)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *DynamoOTPStore) Delete(ctx context.Context, phone string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       itemKey(otpPK(phone)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete OTP: %w", err)
	}
	return nil
}

func (s *DynamoOTPStore) Mutate(ctx context.Context, phone string, fn MutateFunc) error {
	err := retry.Do(ctx, conflictBackoff(), func(ctx context.Context) error {
		current, err := s.get(ctx, phone)
		if err != nil {
			return err
		}

		mutation := fn(current)
		if current == nil || mutation == Keep {
			return nil
		}

		condition := aws.String("Version = :v")
		values := map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: current.Version},
		}

		if mutation == Update {
			current.Version = uuid.NewString()
			item, err := s.marshal(phone, current)
			if err != nil {
				return err
			}
			_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
				TableName:                 aws.String(s.tableName),
				Item:                      item,
				ConditionExpression:       condition,
				ExpressionAttributeValues: values,
			})
			return s.classify(err)
		}

		_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:                 aws.String(s.tableName),
			Key:                       itemKey(otpPK(phone)),
			ConditionExpression:       condition,
			ExpressionAttributeValues: values,
		})
		return s.classify(err)
	})
	if isConditionalCheckFailed(err) {
		s.logger.WithField("phone", phone).Warn("Gave up updating OTP after repeated conflicts")
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (s *DynamoOTPStore) classify(err error) error {
	if err == nil {
		return nil
	}
	if isConditionalCheckFailed(err) {
		return retry.RetryableError(err)
	}
	return fmt.Errorf("failed to write OTP: %w", err)
}
