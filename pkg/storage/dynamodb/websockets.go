package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// connectionLifetime matches the API Gateway cap on a websocket connection. Rows
// left behind by a missed $disconnect expire through the table TTL.
const connectionLifetime = 2 * time.Hour

// connectionItem is a row of the connections table, keyed by connection_id with
// a user_id index.
type connectionItem struct {
	ConnectionID string `dynamodbav:"connection_id"`
	UserID       string `dynamodbav:"user_id"`
	ConnectedAt  string `dynamodbav:"connected_at,omitempty"`
	ExpiresAt    int64  `dynamodbav:"expires_at,omitempty"`
}

// AddConnection stores a connection for the wallet owner who opened it.
func (s *Store) AddConnection(ctx context.Context, connectionID, userID string) error {
	now := time.Now().UTC()
	item, err := attributevalue.MarshalMap(connectionItem{
		ConnectionID: connectionID,
		UserID:       userID,
		ConnectedAt:  now.Format(time.RFC3339),
		ExpiresAt:    now.Add(connectionLifetime).Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal connection: %w", err)
	}

	if _, err := s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.Tables.Connections),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// RemoveConnection forgets a closed connection. Removing an unknown ID succeeds.
func (s *Store) RemoveConnection(ctx context.Context, connectionID string) error {
	if _, err := s.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.Tables.Connections),
		Key: map[string]types.AttributeValue{
			"connection_id": &types.AttributeValueMemberS{Value: connectionID},
		},
	}); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

// GetConnections lists the connection IDs a user has open, skipping rows whose
// TTL has passed but that DynamoDB has not swept yet.
func (s *Store) GetConnections(ctx context.Context, userID string) ([]string, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.Tables.Connections),
		IndexName:              aws.String(userConnectionsIndex),
		KeyConditionExpression: aws.String("user_id = :user"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":user": &types.AttributeValueMemberS{Value: userID},
		},
	}

	now := time.Now().Unix()
	var ids []string
	err := s.eachQueryPage(ctx, input, func(items []map[string]types.AttributeValue) (bool, error) {
		var page []connectionItem
		if err := attributevalue.UnmarshalListOfMaps(items, &page); err != nil {
			return false, fmt.Errorf("failed to unmarshal connections: %w", err)
		}
		for _, c := range page {
			if c.ExpiresAt != 0 && c.ExpiresAt <= now {
				continue
			}
			ids = append(ids, c.ConnectionID)
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query connections table: %w", err)
	}
	return ids, nil
}
