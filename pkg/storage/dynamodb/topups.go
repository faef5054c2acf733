package dynamodb

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage"
)

// topUpReference reserves a top-up idempotency key in the references table. The
// key is prefixed so it never collides with a transaction reference.
type topUpReference struct {
	AccountRef string `dynamodbav:"account_ref"`
	RequestID  string `dynamodbav:"request_id"`
}

func topUpReferenceKey(key string) string {
	return "topup#" + key
}

// CreateTopUp stores a new top-up request. A request with a reference also
// reserves its idempotency key in the same TransactWriteItems call.
func (s *Store) CreateTopUp(ctx context.Context, req *models.TopUpRequest) (*models.TopUpRequest, error) {
	item, err := attributevalue.MarshalMap(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal top-up request: %w", err)
	}

	key := storage.TopUpKey(req.AccountId, req.Method, req.Reference)
	if key == "" {
		_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.Tables.TopUps),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create top-up request in DynamoDB: %w", err)
		}
		return req, nil
	}

	refAV, err := attributevalue.MarshalMap(topUpReference{AccountRef: topUpReferenceKey(key), RequestID: req.Id})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal top-up reference: %w", err)
	}

	_, err = s.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(s.Tables.References),
					Item:                refAV,
					ConditionExpression: aws.String("attribute_not_exists(account_ref)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(s.Tables.TopUps),
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(id)"),
				},
			},
		},
	})
	if err != nil {
		if idx, ok := failedCondition(err); ok && idx == 0 {
			return nil, storage.ErrDuplicateReference
		}
		return nil, fmt.Errorf("failed to create top-up request in DynamoDB: %w", err)
	}

	return req, nil
}

// FindTopUpByReference resolves the idempotency key through the references table.
func (s *Store) FindTopUpByReference(ctx context.Context, accountID string, method models.TopUpMethod, reference string) (*models.TopUpRequest, error) {
	key := storage.TopUpKey(accountID, method, reference)
	if key == "" {
		return nil, storage.ErrTopUpNotFound
	}

	keyAV, err := attributevalue.MarshalMap(map[string]string{"account_ref": topUpReferenceKey(key)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal top-up reference key: %w", err)
	}

	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.Tables.References),
		Key:            keyAV,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get top-up reference from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, storage.ErrTopUpNotFound
	}

	var ref topUpReference
	if err := attributevalue.UnmarshalMap(result.Item, &ref); err != nil {
		return nil, fmt.Errorf("failed to unmarshal top-up reference: %w", err)
	}

	return s.GetTopUp(ctx, ref.RequestID)
}

// GetTopUp retrieves a top-up request by its ID.
func (s *Store) GetTopUp(ctx context.Context, requestID string) (*models.TopUpRequest, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"id": requestID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal top-up request ID: %w", err)
	}

	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.Tables.TopUps),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get top-up request from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, storage.ErrTopUpNotFound
	}

	var req models.TopUpRequest
	if err := attributevalue.UnmarshalMap(result.Item, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal top-up request: %w", err)
	}
	return &req, nil
}

// ListTopUps queries the account or status index when the filter allows it and
// scans otherwise.
func (s *Store) ListTopUps(ctx context.Context, filter storage.TopUpFilter) ([]models.TopUpRequest, error) {
	var (
		items []map[string]types.AttributeValue
		err   error
	)

	switch {
	case filter.AccountID != "":
		input := &dynamodb.QueryInput{
			TableName:              aws.String(s.Tables.TopUps),
			IndexName:              aws.String(accountTopUpsIndex),
			KeyConditionExpression: aws.String("account_id = :account"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":account": &types.AttributeValueMemberS{Value: filter.AccountID},
			},
			ScanIndexForward: aws.Bool(false),
		}
		if filter.Status != "" {
			input.FilterExpression = aws.String("#status = :status")
			input.ExpressionAttributeNames = map[string]string{"#status": "status"}
			input.ExpressionAttributeValues[":status"] = &types.AttributeValueMemberS{Value: string(filter.Status)}
		}
		items, err = s.queryAll(ctx, input)

	case filter.Status != "":
		items, err = s.queryAll(ctx, &dynamodb.QueryInput{
			TableName:                aws.String(s.Tables.TopUps),
			IndexName:                aws.String(statusTopUpsIndex),
			KeyConditionExpression:   aws.String("#status = :status"),
			ExpressionAttributeNames: map[string]string{"#status": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":status": &types.AttributeValueMemberS{Value: string(filter.Status)},
			},
			ScanIndexForward: aws.Bool(false),
		})

	default:
		items, err = s.scanAll(ctx, &dynamodb.ScanInput{TableName: aws.String(s.Tables.TopUps)})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list top-up requests: %w", err)
	}

	result := []models.TopUpRequest{}
	if err := attributevalue.UnmarshalListOfMaps(items, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal top-up requests: %w", err)
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Id > result[j].Id
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) queryAll(ctx context.Context, input *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var all []map[string]types.AttributeValue
	err := s.eachQueryPage(ctx, input, func(items []map[string]types.AttributeValue) (bool, error) {
		all = append(all, items...)
		return true, nil
	})
	return all, err
}

func (s *Store) scanAll(ctx context.Context, input *dynamodb.ScanInput) ([]map[string]types.AttributeValue, error) {
	var all []map[string]types.AttributeValue
	err := s.eachScanPage(ctx, input, func(items []map[string]types.AttributeValue) (bool, error) {
		all = append(all, items...)
		return true, nil
	})
	return all, err
}

// UpdateTopUp replaces the request, conditioned on the stored status and version.
func (s *Store) UpdateTopUp(ctx context.Context, req *models.TopUpRequest, expectedStatus models.TopUpStatus) error {
	next := *req
	next.Version = req.Version + 1
	item, err := attributevalue.MarshalMap(&next)
	if err != nil {
		return fmt.Errorf("failed to marshal top-up request: %w", err)
	}

	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.Tables.TopUps),
		Item:                item,
		ConditionExpression: aws.String("#status = :expected AND version = :version"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: string(expectedStatus)},
			":version":  versionAV(req.Version),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return storage.ErrStatusConflict
		}
		return fmt.Errorf("failed to update top-up request: %w", err)
	}

	req.Version = next.Version
	return nil
}
