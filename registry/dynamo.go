package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// DynamoClient is the interface for the DynamoDB operations the registry uses.
type DynamoClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoRegistry implements Registry over DynamoDB.
//
// DynamoDB has no unique secondary indexes, so public-id uniqueness is
// enforced at the application level: Create is a conditional put guarded by
// attribute_not_exists(public_id) and retries with a fresh id on failure.
//
// Table schemas:
//   - metadata: partition key public_id (string)
//   - stats: partition key public_id (string), sort key created_at (string)
type DynamoRegistry struct {
	client        DynamoClient
	metadataTable string
	statsTable    string
}

// DynamoRegistryOption configures a DynamoRegistry.
type DynamoRegistryOption func(*DynamoRegistry)

// WithDynamoTableNames overrides the default metadata/stats table names.
func WithDynamoTableNames(metadata, stats string) DynamoRegistryOption {
	return func(r *DynamoRegistry) {
		r.metadataTable = metadata
		r.statsTable = stats
	}
}

// NewDynamoRegistry creates a DynamoDB-backed registry.
func NewDynamoRegistry(client DynamoClient, opts ...DynamoRegistryOption) *DynamoRegistry {
	r := &DynamoRegistry{
		client:        client,
		metadataTable: "sealdex_metadata",
		statsTable:    "sealdex_stats",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create persists a new record, regenerating the public id on collision.
func (r *DynamoRegistry) Create(ctx context.Context, newIndex NewIndex) (*Index, error) {
	if err := newIndex.Keys.Validate(); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		publicID, err := newPublicID()
		if err != nil {
			return nil, err
		}

		index := &Index{
			ID:          uuid.NewString(),
			PublicID:    publicID,
			AuthzID:     newIndex.AuthzID,
			ProjectUUID: newIndex.ProjectUUID,
			Name:        newIndex.Name,
			Keys:        newIndex.Keys,
			CreatedAt:   time.Now().UTC(),
		}

		_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(r.metadataTable),
			Item:                encodeIndexItem(index),
			ConditionExpression: aws.String("attribute_not_exists(public_id)"),
		})
		if err == nil {
			return index, nil
		}
		var condErr *types.ConditionalCheckFailedException
		if !errors.As(err, &condErr) {
			return nil, fmt.Errorf("create index: %w", err)
		}
	}
	return nil, fmt.Errorf("create index: %w", ErrDuplicateID)
}

// Get returns the live record for the public id.
func (r *DynamoRegistry) Get(ctx context.Context, publicID string) (*Index, error) {
	resp, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.metadataTable),
		Key: map[string]types.AttributeValue{
			"public_id": &types.AttributeValueMemberS{Value: publicID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get index: %w", err)
	}
	if resp.Item == nil {
		return nil, ErrNotFound
	}

	index, err := decodeIndexItem(resp.Item)
	if err != nil {
		return nil, fmt.Errorf("get index: %w", err)
	}
	if index.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return index, nil
}

// List returns live records, newest first. DynamoDB cannot order a scan, so
// results are sorted in memory.
func (r *DynamoRegistry) List(ctx context.Context, projectUUID string) ([]*Index, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(r.metadataTable),
		FilterExpression: aws.String("attribute_not_exists(deleted_at)"),
	}
	if projectUUID != "" {
		input.FilterExpression = aws.String("attribute_not_exists(deleted_at) AND project_uuid = :project")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":project": &types.AttributeValueMemberS{Value: projectUUID},
		}
	}

	var indexes []*Index
	for {
		resp, err := r.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list indexes: %w", err)
		}
		for _, item := range resp.Items {
			index, err := decodeIndexItem(item)
			if err != nil {
				return nil, fmt.Errorf("list indexes: %w", err)
			}
			indexes = append(indexes, index)
		}
		if resp.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = resp.LastEvaluatedKey
	}

	sort.Slice(indexes, func(i, j int) bool {
		return indexes[i].CreatedAt.After(indexes[j].CreatedAt)
	})
	return indexes, nil
}

// SoftDelete marks the record deleted via a conditional update.
func (r *DynamoRegistry) SoftDelete(ctx context.Context, publicID, authzID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.metadataTable),
		Key: map[string]types.AttributeValue{
			"public_id": &types.AttributeValueMemberS{Value: publicID},
		},
		UpdateExpression: aws.String("SET deleted_at = :now"),
		ConditionExpression: aws.String(
			"attribute_exists(public_id) AND attribute_not_exists(deleted_at) AND authz_id = :authz",
		),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
			":authz": &types.AttributeValueMemberS{Value: authzID},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrNotFound
		}
		return fmt.Errorf("delete index: %w", err)
	}
	return nil
}

// AddStat appends one stat sample for a live index.
func (r *DynamoRegistry) AddStat(ctx context.Context, sample StatSample) error {
	// No conditional spanning two tables here; mirror the relational
	// backends by refusing samples for unknown or deleted indexes.
	if _, err := r.Get(ctx, sample.PublicID); err != nil {
		return err
	}

	createdAt := sample.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.statsTable),
		Item: map[string]types.AttributeValue{
			"public_id":    &types.AttributeValueMemberS{Value: sample.PublicID},
			"created_at":   &types.AttributeValueMemberS{Value: createdAt.Format(time.RFC3339Nano)},
			"entries_size": &types.AttributeValueMemberN{Value: strconv.FormatInt(sample.EntriesSize, 10)},
			"chains_size":  &types.AttributeValueMemberN{Value: strconv.FormatInt(sample.ChainsSize, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("add stat: %w", err)
	}
	return nil
}

// Stats returns the samples for an index, oldest first.
func (r *DynamoRegistry) Stats(ctx context.Context, publicID string) ([]StatSample, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.statsTable),
		KeyConditionExpression: aws.String("public_id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: publicID},
		},
		ScanIndexForward: aws.Bool(true),
	}

	var samples []StatSample
	for {
		resp, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
		for _, item := range resp.Items {
			sample := StatSample{PublicID: publicID}
			createdAt, err := extractString(item, "created_at")
			if err != nil {
				return nil, fmt.Errorf("stats: %w", err)
			}
			sample.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
			if err != nil {
				return nil, fmt.Errorf("stats: parse created_at: %w", err)
			}
			if sample.EntriesSize, err = extractNumber(item, "entries_size"); err != nil {
				return nil, fmt.Errorf("stats: %w", err)
			}
			if sample.ChainsSize, err = extractNumber(item, "chains_size"); err != nil {
				return nil, fmt.Errorf("stats: %w", err)
			}
			samples = append(samples, sample)
		}
		if resp.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = resp.LastEvaluatedKey
	}
	return samples, nil
}

// Close releases nothing: the SDK client is managed by the caller.
func (r *DynamoRegistry) Close() error {
	return nil
}

func encodeIndexItem(index *Index) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"id":                 &types.AttributeValueMemberS{Value: index.ID},
		"public_id":          &types.AttributeValueMemberS{Value: index.PublicID},
		"authz_id":           &types.AttributeValueMemberS{Value: index.AuthzID},
		"project_uuid":       &types.AttributeValueMemberS{Value: index.ProjectUUID},
		"name":               &types.AttributeValueMemberS{Value: index.Name},
		"fetch_entries_key":  &types.AttributeValueMemberB{Value: index.Keys.FetchEntries},
		"fetch_chains_key":   &types.AttributeValueMemberB{Value: index.Keys.FetchChains},
		"upsert_entries_key": &types.AttributeValueMemberB{Value: index.Keys.UpsertEntries},
		"insert_chains_key":  &types.AttributeValueMemberB{Value: index.Keys.InsertChains},
		"created_at":         &types.AttributeValueMemberS{Value: index.CreatedAt.Format(time.RFC3339Nano)},
	}
	if index.DeletedAt != nil {
		item["deleted_at"] = &types.AttributeValueMemberS{Value: index.DeletedAt.Format(time.RFC3339Nano)}
	}
	return item
}

func decodeIndexItem(item map[string]types.AttributeValue) (*Index, error) {
	var index Index
	var err error

	if index.ID, err = extractString(item, "id"); err != nil {
		return nil, err
	}
	if index.PublicID, err = extractString(item, "public_id"); err != nil {
		return nil, err
	}
	if index.AuthzID, err = extractString(item, "authz_id"); err != nil {
		return nil, err
	}
	if index.ProjectUUID, err = extractString(item, "project_uuid"); err != nil {
		return nil, err
	}
	if index.Name, err = extractString(item, "name"); err != nil {
		return nil, err
	}
	if index.Keys.FetchEntries, err = extractBytes(item, "fetch_entries_key"); err != nil {
		return nil, err
	}
	if index.Keys.FetchChains, err = extractBytes(item, "fetch_chains_key"); err != nil {
		return nil, err
	}
	if index.Keys.UpsertEntries, err = extractBytes(item, "upsert_entries_key"); err != nil {
		return nil, err
	}
	if index.Keys.InsertChains, err = extractBytes(item, "insert_chains_key"); err != nil {
		return nil, err
	}

	createdAt, err := extractString(item, "created_at")
	if err != nil {
		return nil, err
	}
	if index.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	if _, ok := item["deleted_at"]; ok {
		deletedAt, err := extractString(item, "deleted_at")
		if err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, deletedAt)
		if err != nil {
			return nil, fmt.Errorf("parse deleted_at: %w", err)
		}
		index.DeletedAt = &parsed
	}
	return &index, nil
}

func extractString(item map[string]types.AttributeValue, key string) (string, error) {
	attr, ok := item[key].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("item has no string %q attribute", key)
	}
	return attr.Value, nil
}

func extractBytes(item map[string]types.AttributeValue, key string) ([]byte, error) {
	attr, ok := item[key].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("item has no binary %q attribute", key)
	}
	return attr.Value, nil
}

func extractNumber(item map[string]types.AttributeValue, key string) (int64, error) {
	attr, ok := item[key].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("item has no number %q attribute", key)
	}
	n, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse number %q attribute: %w", key, err)
	}
	return n, nil
}
