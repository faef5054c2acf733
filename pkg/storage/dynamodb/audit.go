package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/classifieds-wallet/pkg/models"
)

// RecordDrift writes a drift record to the audit table.
func (s *Store) RecordDrift(ctx context.Context, record *models.DriftRecord) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal drift record: %w", err)
	}

	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.Tables.Audit),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put drift record: %w", err)
	}
	return nil
}

// ListDrift returns an account's drift records, oldest first.
func (s *Store) ListDrift(ctx context.Context, accountID string) ([]models.DriftRecord, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.Tables.Audit),
		KeyConditionExpression: aws.String("account_id = :account"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":account": &types.AttributeValueMemberS{Value: accountID},
		},
	}

	records := []models.DriftRecord{}
	err := s.eachQueryPage(ctx, input, func(items []map[string]types.AttributeValue) (bool, error) {
		var batch []models.DriftRecord
		if err := attributevalue.UnmarshalListOfMaps(items, &batch); err != nil {
			return false, fmt.Errorf("failed to unmarshal drift records: %w", err)
		}
		records = append(records, batch...)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query drift records: %w", err)
	}
	return records, nil
}
