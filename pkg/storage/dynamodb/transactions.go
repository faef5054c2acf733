package dynamodb

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage"
)

// referenceItem reserves an (account, reference) pair for one transaction.
type referenceItem struct {
	AccountRef    string `dynamodbav:"account_ref"`
	TransactionID string `dynamodbav:"transaction_id"`
}

func referenceKey(accountID, reference string) string {
	return accountID + "#" + reference
}

// GetTransaction retrieves a transaction from DynamoDB by its ID.
func (s *Store) GetTransaction(ctx context.Context, txID string) (*models.Transaction, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"id": txID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction ID: %w", err)
	}

	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.Tables.Transactions),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction from DynamoDB: %w", err)
	}

	if result.Item == nil {
		return nil, storage.ErrTransactionNotFound
	}

	var tx models.Transaction
	if err := attributevalue.UnmarshalMap(result.Item, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}

	return &tx, nil
}

// FindByReference looks up the reference item, then the transaction it points to.
func (s *Store) FindByReference(ctx context.Context, accountID, reference string) (*models.Transaction, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"account_ref": referenceKey(accountID, reference)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reference key: %w", err)
	}

	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.Tables.References),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get reference from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, storage.ErrTransactionNotFound
	}

	var ref referenceItem
	if err := attributevalue.UnmarshalMap(result.Item, &ref); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reference: %w", err)
	}

	return s.GetTransaction(ctx, ref.TransactionID)
}

// ListTransactions queries the account index newest first. DynamoDB has no offset,
// so the first offset matches are read and dropped.
func (s *Store) ListTransactions(ctx context.Context, accountID string, filter storage.TransactionFilter, limit, offset int) ([]models.Transaction, error) {
	input := transactionQuery(s.Tables.Transactions, accountID, filter)

	result := []models.Transaction{}
	skipped := 0
	err := s.eachQueryPage(ctx, input, func(items []map[string]types.AttributeValue) (bool, error) {
		var batch []models.Transaction
		if err := attributevalue.UnmarshalListOfMaps(items, &batch); err != nil {
			return false, fmt.Errorf("failed to unmarshal transactions: %w", err)
		}
		for _, tx := range batch {
			if skipped < offset {
				skipped++
				continue
			}
			result = append(result, tx)
			if limit > 0 && len(result) == limit {
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	return result, nil
}

// SumCompleted adds up the signed amounts of every completed transaction of an account.
// The account index is eventually consistent, so the sum is only returned once the
// index holds as many completed transactions as the account has applied; until then
// it fails with storage.ErrLedgerBehind.
func (s *Store) SumCompleted(ctx context.Context, accountID string) (int64, error) {
	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}

	input := transactionQuery(s.Tables.Transactions, accountID, storage.TransactionFilter{Status: models.COMPLETED})
	input.ProjectionExpression = aws.String("#type, amount")
	input.ExpressionAttributeNames["#type"] = "type"
	var sum, count int64
	err = s.eachQueryPage(ctx, input, func(items []map[string]types.AttributeValue) (bool, error) {
		var batch []models.Transaction
		if err := attributevalue.UnmarshalListOfMaps(items, &batch); err != nil {
			return false, fmt.Errorf("failed to unmarshal transactions: %w", err)
		}
		for i := range batch {
			sum += batch[i].SignedAmount()
		}
		count += int64(len(batch))
		return true, nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query completed transactions: %w", err)
	}

	if count < acct.CompletedCount {
		return 0, fmt.Errorf("%w: index holds %d of %d completed transactions for %s",
			storage.ErrLedgerBehind, count, acct.CompletedCount, accountID)
	}
	return sum, nil
}

// transactionQuery builds a consistent-order query over the account index. Since
// narrows the key range on sort_key; type and status become filter expressions.
func transactionQuery(table, accountID string, filter storage.TransactionFilter) *dynamodb.QueryInput {
	names := map[string]string{}
	values := map[string]types.AttributeValue{
		":account": &types.AttributeValueMemberS{Value: accountID},
	}

	keyCond := "account_id = :account"
	if !filter.Since.IsZero() {
		keyCond += " AND sort_key >= :since"
		values[":since"] = &types.AttributeValueMemberS{Value: storage.SortTime(filter.Since)}
	}

	var conds []string
	if filter.Type != "" {
		names["#type"] = "type"
		values[":type"] = &types.AttributeValueMemberS{Value: string(filter.Type)}
		conds = append(conds, "#type = :type")
	}
	if filter.Status != "" {
		names["#status"] = "status"
		values[":status"] = &types.AttributeValueMemberS{Value: string(filter.Status)}
		conds = append(conds, "#status = :status")
	}

	if len(names) == 0 {
		names = nil
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		IndexName:                 aws.String(accountTransactionsIndex),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(false), // Newest first.
	}
	if len(conds) > 0 {
		input.FilterExpression = aws.String(strings.Join(conds, " AND "))
	}
	return input
}
