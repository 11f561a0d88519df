// Package dynamo implements store.Store over Amazon DynamoDB.
//
// CAS uses DynamoDB conditional-write expressions: an UpdateItem guarded by
// "value must still equal the expected old value", or a PutItem guarded by
// attribute_not_exists. A ConditionalCheckFailedException is a CAS mismatch,
// never an error.
//
// Table schema (one table for entries, one for chains):
//   - Partition key: id (binary) - public index id bytes followed by the uid
//   - Attribute: value_bytes (binary) - 'value' is a reserved word in DynamoDB
//
// Create tables with:
//
//	aws dynamodb create-table \
//	  --table-name sealdex-entries \
//	  --attribute-definitions AttributeName=id,AttributeType=B \
//	  --key-schema AttributeName=id,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/sealdex/store"
)

// batchGetLimit is the DynamoDB BatchGetItem item cap.
const batchGetLimit = 100

const (
	idAttr    = "id"
	valueAttr = "value_bytes"
)

// Client is the interface for the DynamoDB operations the store uses.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Store implements store.Store backed by DynamoDB.
type Store struct {
	client       Client
	entriesTable string
	chainsTable  string
}

// Option configures a Store.
type Option func(*Store)

// WithTableNames overrides the default entries/chains table names.
func WithTableNames(entries, chains string) Option {
	return func(s *Store) {
		s.entriesTable = entries
		s.chainsTable = chains
	}
}

// New creates a DynamoDB-backed store.
func New(client Client, opts ...Option) *Store {
	s := &Store{
		client:       client,
		entriesTable: "sealdex_entries",
		chainsTable:  "sealdex_chains",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) tableName(table store.Table) string {
	if table == store.TableChains {
		return s.chainsTable
	}
	return s.entriesTable
}

// Rows are keyed by public index id bytes followed by the uid; the uid is
// recovered from the fixed-width tail.
func storedID(indexID string, uid store.UID) []byte {
	id := make([]byte, 0, len(indexID)+store.UIDLength)
	id = append(id, indexID...)
	id = append(id, uid[:]...)
	return id
}

func uidFromStoredID(id []byte) (store.UID, error) {
	if len(id) < store.UIDLength {
		return store.UID{}, fmt.Errorf("stored id too short (%d bytes)", len(id))
	}
	return store.UIDFromBytes(id[len(id)-store.UIDLength:])
}

// Fetch performs a batched point lookup via BatchGetItem.
func (s *Store) Fetch(ctx context.Context, indexID string, table store.Table, uids []store.UID) (map[store.UID][]byte, error) {
	out := make(map[store.UID][]byte, len(uids))

	for start := 0; start < len(uids); start += batchGetLimit {
		end := min(start+batchGetLimit, len(uids))

		keys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, uid := range uids[start:end] {
			keys = append(keys, map[string]types.AttributeValue{
				idAttr: &types.AttributeValueMemberB{Value: storedID(indexID, uid)},
			})
		}

		request := map[string]types.KeysAndAttributes{
			s.tableName(table): {Keys: keys},
		}
		for len(request) > 0 {
			resp, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: request,
			})
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", table, err)
			}

			for _, item := range resp.Responses[s.tableName(table)] {
				uid, value, err := decodeItem(item)
				if err != nil {
					return nil, fmt.Errorf("fetch %s: %w", table, err)
				}
				out[uid] = value
			}
			request = resp.UnprocessedKeys
		}
	}
	return out, nil
}

// UpsertEntries applies conditional writes to the entries table.
func (s *Store) UpsertEntries(ctx context.Context, indexID string, items []store.Upsert) ([]store.Record, error) {
	var rejected []store.Record

	for _, item := range items {
		var err error
		if item.OldValue == nil {
			_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
				TableName: aws.String(s.entriesTable),
				Item: map[string]types.AttributeValue{
					idAttr:    &types.AttributeValueMemberB{Value: storedID(indexID, item.UID)},
					valueAttr: &types.AttributeValueMemberB{Value: item.NewValue},
				},
				ConditionExpression: aws.String(fmt.Sprintf("attribute_not_exists(%s)", idAttr)),
			})
		} else {
			_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
				TableName: aws.String(s.entriesTable),
				Key: map[string]types.AttributeValue{
					idAttr: &types.AttributeValueMemberB{Value: storedID(indexID, item.UID)},
				},
				UpdateExpression:    aws.String(fmt.Sprintf("SET %s = :new", valueAttr)),
				ConditionExpression: aws.String(fmt.Sprintf("%s = :old", valueAttr)),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":old": &types.AttributeValueMemberB{Value: item.OldValue},
					":new": &types.AttributeValueMemberB{Value: item.NewValue},
				},
			})
		}

		if err != nil {
			var condErr *types.ConditionalCheckFailedException
			if !errors.As(err, &condErr) {
				return nil, fmt.Errorf("upsert entries: %w", err)
			}
			current, err := s.currentValue(ctx, indexID, item.UID)
			if err != nil {
				return nil, err
			}
			rejected = append(rejected, store.Record{UID: item.UID, Value: current})
		}
	}
	return rejected, nil
}

func (s *Store) currentValue(ctx context.Context, indexID string, uid store.UID) ([]byte, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.entriesTable),
		Key: map[string]types.AttributeValue{
			idAttr: &types.AttributeValueMemberB{Value: storedID(indexID, uid)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("read current value: %w", err)
	}
	if resp.Item == nil {
		return nil, nil
	}
	_, value, err := decodeItem(resp.Item)
	if err != nil {
		return nil, fmt.Errorf("read current value: %w", err)
	}
	return value, nil
}

// InsertChains inserts rows into the chains table. Each put is guarded by
// attribute_not_exists so an existing row is never overwritten.
func (s *Store) InsertChains(ctx context.Context, indexID string, items []store.Record) error {
	for _, item := range items {
		_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.chainsTable),
			Item: map[string]types.AttributeValue{
				idAttr:    &types.AttributeValueMemberB{Value: storedID(indexID, item.UID)},
				valueAttr: &types.AttributeValueMemberB{Value: item.Value},
			},
			ConditionExpression: aws.String(fmt.Sprintf("attribute_not_exists(%s)", idAttr)),
		})
		if err != nil {
			var condErr *types.ConditionalCheckFailedException
			if errors.As(err, &condErr) {
				continue // row already present, keep the stored value
			}
			return fmt.Errorf("insert chains: %w", err)
		}
	}
	return nil
}

// Sizes reports zero: DynamoDB offers no cheap per-index byte accounting.
func (s *Store) Sizes(_ context.Context, _ string) (entries, chains int64, err error) {
	return 0, 0, nil
}

// Close releases nothing: the SDK client is managed by the caller.
func (s *Store) Close() error {
	return nil
}

func decodeItem(item map[string]types.AttributeValue) (store.UID, []byte, error) {
	idVal, ok := item[idAttr].(*types.AttributeValueMemberB)
	if !ok {
		return store.UID{}, nil, fmt.Errorf("item has no binary %q attribute", idAttr)
	}
	uid, err := uidFromStoredID(idVal.Value)
	if err != nil {
		return store.UID{}, nil, err
	}
	valueVal, ok := item[valueAttr].(*types.AttributeValueMemberB)
	if !ok {
		return store.UID{}, nil, fmt.Errorf("item has no binary %q attribute", valueAttr)
	}
	return uid, valueVal.Value, nil
}
