package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage"
)

// AppendTransaction writes the reference reservation, the transaction and, for a
// completed transaction, the new account balance in one TransactWriteItems call.
func (s *Store) AppendTransaction(ctx context.Context, tx *models.Transaction, expectedVersion int64) error {
	tx.SortKey = storage.SortKey(tx)

	refAV, err := attributevalue.MarshalMap(referenceItem{
		AccountRef:    referenceKey(tx.AccountId, tx.Reference),
		TransactionID: tx.Id,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal reference: %w", err)
	}
	txAV, err := attributevalue.MarshalMap(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	items := []types.TransactWriteItem{
		{
			// Operation 1: Reserve the (account, reference) pair.
			Put: &types.Put{
				TableName:           aws.String(s.Tables.References),
				Item:                refAV,
				ConditionExpression: aws.String("attribute_not_exists(account_ref)"),
			},
		},
		{
			// Operation 2: Create the transaction record.
			Put: &types.Put{
				TableName:           aws.String(s.Tables.Transactions),
				Item:                txAV,
				ConditionExpression: aws.String("attribute_not_exists(id)"),
			},
		},
	}

	if tx.Status == models.COMPLETED {
		// Operation 3: Move the cached balance with the transaction.
		update, err := s.accountUpdate(tx.AccountId, tx.BalanceAfter, tx.CreatedAt, expectedVersion)
		if err != nil {
			return err
		}
		items = append(items, types.TransactWriteItem{Update: update})
	}

	_, err = s.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if idx, ok := failedCondition(err); ok {
			switch idx {
			case 0:
				return storage.ErrDuplicateReference
			case 2:
				return storage.ErrVersionConflict
			}
		}
		return fmt.Errorf("failed to execute append transaction: %w", err)
	}

	return nil
}

// CompleteTransaction moves a pending transaction to completed and applies its
// balance in the same unit of work.
func (s *Store) CompleteTransaction(ctx context.Context, tx *models.Transaction, expectedVersion int64) error {
	if tx.CompletedAt == nil {
		return fmt.Errorf("transaction %s has no completion time", tx.Id)
	}

	completedAtAV, err := attributevalue.Marshal(*tx.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to marshal completion time: %w", err)
	}
	balanceAV, err := attributevalue.Marshal(tx.BalanceAfter)
	if err != nil {
		return fmt.Errorf("failed to marshal balance: %w", err)
	}
	update, err := s.accountUpdate(tx.AccountId, tx.BalanceAfter, *tx.CompletedAt, expectedVersion)
	if err != nil {
		return err
	}

	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				// Operation 1: Update the transaction status to COMPLETED.
				Update: &types.Update{
					TableName:           aws.String(s.Tables.Transactions),
					Key:                 map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: tx.Id}},
					UpdateExpression:    aws.String("SET #status = :completed, completed_at = :now, balance_after = :balance"),
					ConditionExpression: aws.String("#status = :pending"),
					ExpressionAttributeNames: map[string]string{
						"#status": "status",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":completed": &types.AttributeValueMemberS{Value: string(models.COMPLETED)},
						":pending":   &types.AttributeValueMemberS{Value: string(models.PENDING)},
						":now":       completedAtAV,
						":balance":   balanceAV,
					},
				},
			},
			{
				// Operation 2: Apply the balance.
				Update: update,
			},
		},
	}

	_, err = s.Client.TransactWriteItems(ctx, input)
	if err != nil {
		if idx, ok := failedCondition(err); ok {
			if idx == 0 {
				return storage.ErrStatusConflict
			}
			return storage.ErrVersionConflict
		}
		return fmt.Errorf("failed to execute completion transaction: %w", err)
	}

	return nil
}

// FailTransaction moves a pending transaction to failed and frees its reference so
// the same logical operation can be retried.
func (s *Store) FailTransaction(ctx context.Context, tx *models.Transaction) error {
	refKey, err := attributevalue.MarshalMap(map[string]string{"account_ref": referenceKey(tx.AccountId, tx.Reference)})
	if err != nil {
		return fmt.Errorf("failed to marshal reference key: %w", err)
	}
	reasonAV, err := attributevalue.Marshal(tx.FailureReason)
	if err != nil {
		return fmt.Errorf("failed to marshal failure reason: %w", err)
	}

	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				// Operation 1: Update the transaction status to FAILED.
				Update: &types.Update{
					TableName:           aws.String(s.Tables.Transactions),
					Key:                 map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: tx.Id}},
					UpdateExpression:    aws.String("SET #status = :failed, failure_reason = :reason"),
					ConditionExpression: aws.String("#status = :pending"),
					ExpressionAttributeNames: map[string]string{
						"#status": "status",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":failed":  &types.AttributeValueMemberS{Value: string(models.FAILED)},
						":pending": &types.AttributeValueMemberS{Value: string(models.PENDING)},
						":reason":  reasonAV,
					},
				},
			},
			{
				// Operation 2: Release the reference if this transaction still holds it.
				Delete: &types.Delete{
					TableName:           aws.String(s.Tables.References),
					Key:                 refKey,
					ConditionExpression: aws.String("attribute_not_exists(account_ref) OR transaction_id = :id"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":id": &types.AttributeValueMemberS{Value: tx.Id},
					},
				},
			},
		},
	}

	_, err = s.Client.TransactWriteItems(ctx, input)
	if err != nil {
		if idx, ok := failedCondition(err); ok && idx == 0 {
			return storage.ErrStatusConflict
		}
		return fmt.Errorf("failed to execute failure transaction: %w", err)
	}

	return nil
}

// AttachTransactionReceipt sets receipt_url on an existing transaction.
func (s *Store) AttachTransactionReceipt(ctx context.Context, txID, receiptURL string) error {
	_, err := s.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.Tables.Transactions),
		Key:                 map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: txID}},
		UpdateExpression:    aws.String("SET receipt_url = :url"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":url": &types.AttributeValueMemberS{Value: receiptURL},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return storage.ErrTransactionNotFound
		}
		return fmt.Errorf("failed to attach receipt: %w", err)
	}
	return nil
}
