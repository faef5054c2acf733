package dynamodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage/dynamodb/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestConnections(t *testing.T) {
	t.Run("Add", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
			_, hasTTL := in.Item["expires_at"]
			return *in.TableName == testTables.Connections && hasTTL
		})).Return(&dynamodb.PutItemOutput{}, nil)

		store := New(mockClient, testTables)
		assert.NoError(t, store.AddConnection(context.Background(), "conn1", "user1"))
		mockClient.AssertExpectations(t)
	})

	t.Run("Remove Storage Error", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("DeleteItem", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

		store := New(mockClient, testTables)
		err := store.RemoveConnection(context.Background(), "conn1")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to delete item")
	})

	t.Run("Get", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		a, _ := attributevalue.MarshalMap(connectionItem{ConnectionID: "conn1", UserID: "user1"})
		b, _ := attributevalue.MarshalMap(connectionItem{ConnectionID: "conn2", UserID: "user1", ExpiresAt: time.Now().Add(time.Hour).Unix()})
		expired, _ := attributevalue.MarshalMap(connectionItem{ConnectionID: "old", UserID: "user1", ExpiresAt: time.Now().Add(-time.Minute).Unix()})
		mockClient.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{a, b, expired}}, nil)

		store := New(mockClient, testTables)
		ids, err := store.GetConnections(context.Background(), "user1")

		assert.NoError(t, err)
		assert.Equal(t, []string{"conn1", "conn2"}, ids)
	})

	t.Run("Get Storage Error", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("Query", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

		store := New(mockClient, testTables)
		_, err := store.GetConnections(context.Background(), "user1")
		assert.ErrorContains(t, err, "failed to query connections table")
	})
}

func TestDriftRecords(t *testing.T) {
	t.Run("Record", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("PutItem", mock.Anything, mock.Anything).Return(&dynamodb.PutItemOutput{}, nil)

		store := New(mockClient, testTables)
		err := store.RecordDrift(context.Background(), &models.DriftRecord{AccountId: "acct-1", Cached: 10, Computed: 5, DetectedAt: time.Now()})
		assert.NoError(t, err)
		mockClient.AssertExpectations(t)
	})

	t.Run("List", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		rec, _ := attributevalue.MarshalMap(models.DriftRecord{AccountId: "acct-1", Cached: 10, Computed: 5})
		mockClient.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{rec}}, nil)

		store := New(mockClient, testTables)
		records, err := store.ListDrift(context.Background(), "acct-1")

		assert.NoError(t, err)
		assert.Len(t, records, 1)
		assert.Equal(t, int64(5), records[0].Computed)
	})
}
