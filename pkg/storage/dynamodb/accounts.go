package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage"
)

// CreateAccount creates a new account record in DynamoDB.
func (s *Store) CreateAccount(ctx context.Context, account *models.Account) (*models.Account, error) {
	accountAV, err := attributevalue.MarshalMap(account)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal account: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(s.Tables.Accounts),
		Item:                accountAV,
		ConditionExpression: aws.String("attribute_not_exists(id)"), // Prevent overwriting existing accounts.
	}

	_, err = s.Client.PutItem(ctx, input)
	if err != nil {
		if isConditionFailed(err) {
			return nil, storage.ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create account in DynamoDB: %w", err)
	}

	return account, nil
}

// GetAccount retrieves an account from DynamoDB by its ID.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"id": accountID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal account ID: %w", err)
	}

	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.Tables.Accounts),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get account from DynamoDB: %w", err)
	}

	if result.Item == nil {
		return nil, storage.ErrAccountNotFound
	}

	var account models.Account
	if err := attributevalue.UnmarshalMap(result.Item, &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}

	return &account, nil
}

// ListAccounts retrieves all accounts from DynamoDB.
func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	accounts := []models.Account{}
	err := s.eachScanPage(ctx, &dynamodb.ScanInput{TableName: aws.String(s.Tables.Accounts)}, func(items []map[string]types.AttributeValue) (bool, error) {
		var batch []models.Account
		if err := attributevalue.UnmarshalListOfMaps(items, &batch); err != nil {
			return false, fmt.Errorf("failed to unmarshal accounts: %w", err)
		}
		accounts = append(accounts, batch...)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan accounts table: %w", err)
	}

	return accounts, nil
}

// SaveReconciliation overwrites the cached balance, conditioned on the account version.
func (s *Store) SaveReconciliation(ctx context.Context, account *models.Account, expectedVersion int64) error {
	balanceAV, err := attributevalue.Marshal(account.Balance)
	if err != nil {
		return fmt.Errorf("failed to marshal balance: %w", err)
	}
	checkedAV, err := attributevalue.Marshal(account.CheckedAt)
	if err != nil {
		return fmt.Errorf("failed to marshal checked_at: %w", err)
	}
	updatedAV, err := attributevalue.Marshal(account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to marshal updated_at: %w", err)
	}

	_, err = s.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.Tables.Accounts),
		Key:                 map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: account.Id}},
		UpdateExpression:    aws.String("SET balance = :balance, checked_at = :checked, updated_at = :updated, version = version + :inc"),
		ConditionExpression: aws.String("attribute_exists(id) AND version = :version"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":balance": balanceAV,
			":checked": checkedAV,
			":updated": updatedAV,
			":version": versionAV(expectedVersion),
			":inc":     &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return storage.ErrVersionConflict
		}
		return fmt.Errorf("failed to save reconciliation: %w", err)
	}

	account.Version = expectedVersion + 1
	return nil
}

// accountUpdate sets the balance after a completed transaction, bumps the version and
// counts the transaction toward completed_count.
func (s *Store) accountUpdate(accountID string, balanceAfter int64, at time.Time, expectedVersion int64) (*types.Update, error) {
	balanceAV, err := attributevalue.Marshal(balanceAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal balance: %w", err)
	}
	atAV, err := attributevalue.Marshal(at)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal timestamp: %w", err)
	}

	return &types.Update{
		TableName:           aws.String(s.Tables.Accounts),
		Key:                 map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: accountID}},
		UpdateExpression:    aws.String("SET balance = :balance, updated_at = :now, version = version + :inc, completed_count = if_not_exists(completed_count, :zero) + :inc"),
		ConditionExpression: aws.String("attribute_exists(id) AND version = :version"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":balance": balanceAV,
			":now":     atAV,
			":version": versionAV(expectedVersion),
			":inc":     &types.AttributeValueMemberN{Value: "1"},
			":zero":    &types.AttributeValueMemberN{Value: "0"},
		},
	}, nil
}

func versionAV(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", v)}
}
