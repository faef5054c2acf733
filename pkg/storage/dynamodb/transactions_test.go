package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage"
	"github.com/chris/classifieds-wallet/pkg/storage/dynamodb/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func transactionItems(t *testing.T, txs ...models.Transaction) []map[string]types.AttributeValue {
	t.Helper()
	items := make([]map[string]types.AttributeValue, 0, len(txs))
	for _, tx := range txs {
		av, err := attributevalue.MarshalMap(tx)
		require.NoError(t, err)
		items = append(items, av)
	}
	return items
}

func TestGetTransaction(t *testing.T) {
	tx := models.Transaction{Id: "tx1", AccountId: "acct-1", Type: models.TOPUP, Amount: 100, Status: models.COMPLETED}

	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: transactionItems(t, tx)[0]}, nil)

		store := New(mockClient, testTables)
		result, err := store.GetTransaction(context.Background(), "tx1")

		assert.NoError(t, err)
		assert.Equal(t, "acct-1", result.AccountId)
		mockClient.AssertExpectations(t)
	})

	t.Run("Not Found", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

		store := New(mockClient, testTables)
		_, err := store.GetTransaction(context.Background(), "tx1")

		assert.ErrorIs(t, err, storage.ErrTransactionNotFound)
	})
}

func TestFindByReference(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		refAV, err := attributevalue.MarshalMap(referenceItem{AccountRef: "acct-1#r1", TransactionID: "tx1"})
		require.NoError(t, err)

		mockClient.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
			return aws.ToString(in.TableName) == "references"
		})).Return(&dynamodb.GetItemOutput{Item: refAV}, nil)
		mockClient.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
			return aws.ToString(in.TableName) == "transactions"
		})).Return(&dynamodb.GetItemOutput{Item: transactionItems(t, models.Transaction{Id: "tx1", Reference: "r1"})[0]}, nil)

		store := New(mockClient, testTables)
		result, err := store.FindByReference(context.Background(), "acct-1", "r1")

		assert.NoError(t, err)
		assert.Equal(t, "tx1", result.Id)
		mockClient.AssertExpectations(t)
	})

	t.Run("Not Found", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

		store := New(mockClient, testTables)
		_, err := store.FindByReference(context.Background(), "acct-1", "r1")

		assert.ErrorIs(t, err, storage.ErrTransactionNotFound)
		mockClient.AssertNumberOfCalls(t, "GetItem", 1)
	})
}

func TestListTransactions(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var txs []models.Transaction
	for i := 5; i > 0; i-- {
		txs = append(txs, models.Transaction{
			Id: fmt.Sprintf("tx%d", i), AccountId: "acct-1", Type: models.TOPUP, Amount: int64(i),
			Status: models.COMPLETED, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
			return aws.ToString(in.IndexName) == accountTransactionsIndex && !aws.ToBool(in.ScanIndexForward)
		})).Return(&dynamodb.QueryOutput{Items: transactionItems(t, txs...)}, nil)

		store := New(mockClient, testTables)
		result, err := store.ListTransactions(context.Background(), "acct-1", storage.TransactionFilter{}, 2, 1)

		assert.NoError(t, err)
		require.Len(t, result, 2)
		assert.Equal(t, "tx4", result[0].Id)
		assert.Equal(t, "tx3", result[1].Id)
		mockClient.AssertExpectations(t)
	})

	t.Run("Follows Pages", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		lastKey := map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "tx3"}}
		mockClient.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
			return in.ExclusiveStartKey == nil
		})).Once().Return(&dynamodb.QueryOutput{Items: transactionItems(t, txs[:3]...), LastEvaluatedKey: lastKey}, nil)
		mockClient.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
			return in.ExclusiveStartKey != nil
		})).Once().Return(&dynamodb.QueryOutput{Items: transactionItems(t, txs[3:]...)}, nil)

		store := New(mockClient, testTables)
		result, err := store.ListTransactions(context.Background(), "acct-1", storage.TransactionFilter{}, 10, 0)

		assert.NoError(t, err)
		assert.Len(t, result, 5)
		mockClient.AssertExpectations(t)
	})

	t.Run("Filters", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
			return aws.ToString(in.FilterExpression) == "#type = :type AND #status = :status" &&
				aws.ToString(in.KeyConditionExpression) == "account_id = :account AND sort_key >= :since"
		})).Return(&dynamodb.QueryOutput{}, nil)

		store := New(mockClient, testTables)
		result, err := store.ListTransactions(context.Background(), "acct-1", storage.TransactionFilter{
			Type: models.DEDUCTION, Status: models.COMPLETED, Since: base,
		}, 20, 0)

		assert.NoError(t, err)
		assert.NotNil(t, result)
		assert.Empty(t, result)
		mockClient.AssertExpectations(t)
	})

	t.Run("Storage Error", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("Query", mock.Anything, mock.Anything).Return(nil, errors.New("query failed"))

		store := New(mockClient, testTables)
		_, err := store.ListTransactions(context.Background(), "acct-1", storage.TransactionFilter{}, 20, 0)

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to query transactions")
	})
}

func TestSumCompleted(t *testing.T) {
	accountItem := func(t *testing.T, completed int64) *dynamodb.GetItemOutput {
		t.Helper()
		av, err := attributevalue.MarshalMap(models.Account{Id: "acct-1", Balance: 750, Version: 3, CompletedCount: completed})
		require.NoError(t, err)
		return &dynamodb.GetItemOutput{Item: av}
	}
	completedItems := func(t *testing.T) *dynamodb.QueryOutput {
		return &dynamodb.QueryOutput{Items: transactionItems(t,
			models.Transaction{Type: models.TOPUP, Amount: 1000},
			models.Transaction{Type: models.DEDUCTION, Amount: 300},
			models.Transaction{Type: models.BONUS, Amount: 50},
		)}
	}

	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
			return aws.ToString(in.TableName) == testTables.Accounts && aws.ToBool(in.ConsistentRead)
		})).Return(accountItem(t, 3), nil)
		mockClient.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
			return aws.ToString(in.ProjectionExpression) == "#type, amount"
		})).Return(completedItems(t), nil)

		store := New(mockClient, testTables)
		sum, err := store.SumCompleted(context.Background(), "acct-1")

		assert.NoError(t, err)
		assert.Equal(t, int64(750), sum)
		mockClient.AssertExpectations(t)
	})

	t.Run("Index Behind Account", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(accountItem(t, 4), nil)
		mockClient.On("Query", mock.Anything, mock.Anything).Return(completedItems(t), nil)

		store := New(mockClient, testTables)
		_, err := store.SumCompleted(context.Background(), "acct-1")

		assert.ErrorIs(t, err, storage.ErrLedgerBehind)
	})

	t.Run("Account Not Found", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

		store := New(mockClient, testTables)
		_, err := store.SumCompleted(context.Background(), "acct-1")

		assert.ErrorIs(t, err, storage.ErrAccountNotFound)
		mockClient.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
	})

	t.Run("Storage Error", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(accountItem(t, 0), nil)
		mockClient.On("Query", mock.Anything, mock.Anything).Return(nil, errors.New("query failed"))

		store := New(mockClient, testTables)
		_, err := store.SumCompleted(context.Background(), "acct-1")

		assert.Error(t, err)
	})
}
