package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/sirupsen/logrus"
	"github.com/voteverify/voteverify/internal/models"
)

type DynamoChatLinkRepository struct {
	client    DynamoAPI
	tableName string
	logger    *logrus.Logger
}

func NewDynamoChatLinkRepository(client DynamoAPI, tableName string, logger *logrus.Logger) *DynamoChatLinkRepository {
	return &DynamoChatLinkRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// Link upserts the mapping; a phone re-linking from another chat replaces the old chat.
func (r *DynamoChatLinkRepository) Link(ctx context.Context, phone, chatID string) error {
	link := &models.ChatLink{
		Phone:    phone,
		ChatID:   chatID,
		LinkedAt: time.Now(),
	}

	item, err := attributevalue.MarshalMap(link)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal chat link for DynamoDB")
		return fmt.Errorf("failed to marshal chat link: %w", err)
	}
	for k, v := range itemKey(link.GetPK()) {
		item[k] = v
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store chat link in DynamoDB")
		return fmt.Errorf("failed to store chat link: %w", err)
	}
	return nil
}

func (r *DynamoChatLinkRepository) ChatID(ctx context.Context, phone string) (string, error) {
	link := &models.ChatLink{Phone: phone}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(link.GetPK()),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get chat link from DynamoDB")
		return "", fmt.Errorf("failed to get chat link: %w", err)
	}
	if result.Item == nil {
		return "", ErrNotFound
	}

	if err := attributevalue.UnmarshalMap(result.Item, link); err != nil {
		return "", fmt.Errorf("failed to unmarshal chat link: %w", err)
	}
	return link.ChatID, nil
}

func (r *DynamoChatLinkRepository) Unlink(ctx context.Context, phone string) error {
	link := &models.ChatLink{Phone: phone}
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(link.GetPK()),
	})
	if err != nil {
		return fmt.Errorf("failed to delete chat link: %w", err)
	}
	return nil
}
