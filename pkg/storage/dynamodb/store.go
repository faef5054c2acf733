package dynamodb

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/classifieds-wallet/pkg/storage"
)

//go:generate mockery --name=DynamoDBAPI --output=mocks

// DynamoDBAPI is the subset of the DynamoDB client used by Store.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Tables names the DynamoDB tables the store writes to.
type Tables struct {
	// Accounts is keyed by id.
	Accounts string
	// Transactions is keyed by id, with the account_id-sort_key-index GSI.
	Transactions string
	// References is keyed by account_ref and holds one item per live (account, reference) pair.
	References string
	// TopUps is keyed by id, with account_id-created_at-index and status-created_at-index GSIs.
	TopUps string
	// Audit is keyed by account_id and detected_at.
	Audit string
	// Connections is keyed by connection_id, with the user_id-index GSI.
	Connections string
}

const (
	accountTransactionsIndex = "account_id-sort_key-index"
	accountTopUpsIndex       = "account_id-created_at-index"
	statusTopUpsIndex        = "status-created_at-index"
	userConnectionsIndex     = "user_id-index"
)

// Store implements the Storage interface using AWS DynamoDB.
type Store struct {
	Client DynamoDBAPI
	Tables Tables
}

// New creates a new Store.
func New(client DynamoDBAPI, tables Tables) *Store {
	return &Store{
		Client: client,
		Tables: tables,
	}
}

// Make sure we conform to the interfaces
var _ storage.Storage = (*Store)(nil)
var _ storage.WebSocketManager = (*Store)(nil)

// failedCondition returns the index of the first item whose condition check
// cancelled a TransactWriteItems call.
func failedCondition(err error) (int, bool) {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return 0, false
	}
	for i, reason := range tce.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return i, true
		}
	}
	return 0, false
}

func isConditionFailed(err error) bool {
	var condCheckFailed *types.ConditionalCheckFailedException
	return errors.As(err, &condCheckFailed)
}

// eachQueryPage runs input page by page until the table is exhausted or fn
// returns false.
func (s *Store) eachQueryPage(ctx context.Context, input *dynamodb.QueryInput, fn func(items []map[string]types.AttributeValue) (bool, error)) error {
	for {
		out, err := s.Client.Query(ctx, input)
		if err != nil {
			return err
		}
		more, err := fn(out.Items)
		if err != nil {
			return err
		}
		if !more || len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// eachScanPage is the Scan counterpart of eachQueryPage.
func (s *Store) eachScanPage(ctx context.Context, input *dynamodb.ScanInput, fn func(items []map[string]types.AttributeValue) (bool, error)) error {
	for {
		out, err := s.Client.Scan(ctx, input)
		if err != nil {
			return err
		}
		more, err := fn(out.Items)
		if err != nil {
			return err
		}
		if !more || len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
