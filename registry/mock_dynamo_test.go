package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamoClient emulates the handful of DynamoDB behaviors DynamoRegistry
// relies on: conditional puts on public_id, conditional soft-delete updates,
// filtered scans, and sort-key-ordered queries. It recognizes the exact
// condition expressions the registry issues rather than parsing the grammar.
type mockDynamoClient struct {
	mu sync.Mutex
	// metadata rows keyed by public_id.
	metadata map[string]map[string]types.AttributeValue
	// stats rows keyed by public_id, each a list of items with created_at.
	stats map[string][]map[string]types.AttributeValue
}

func newMockDynamoClient() *mockDynamoClient {
	return &mockDynamoClient{
		metadata: make(map[string]map[string]types.AttributeValue),
		stats:    make(map[string][]map[string]types.AttributeValue),
	}
}

func (m *mockDynamoClient) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	publicID, err := mockStringAttr(params.Key, "public_id")
	if err != nil {
		return nil, err
	}
	item, ok := m.metadata[publicID]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: mockCloneItem(item)}, nil
}

func (m *mockDynamoClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	publicID, err := mockStringAttr(params.Item, "public_id")
	if err != nil {
		return nil, err
	}

	// Stats items carry a created_at sort key; metadata items do not reach
	// this path without the uniqueness condition.
	if params.ConditionExpression == nil {
		m.stats[publicID] = append(m.stats[publicID], mockCloneItem(params.Item))
		return &dynamodb.PutItemOutput{}, nil
	}

	if *params.ConditionExpression != "attribute_not_exists(public_id)" {
		return nil, fmt.Errorf("unexpected condition expression %q", *params.ConditionExpression)
	}
	if _, exists := m.metadata[publicID]; exists {
		return nil, &types.ConditionalCheckFailedException{}
	}
	m.metadata[publicID] = mockCloneItem(params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoClient) UpdateItem(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	publicID, err := mockStringAttr(params.Key, "public_id")
	if err != nil {
		return nil, err
	}

	item, exists := m.metadata[publicID]
	if !exists {
		return nil, &types.ConditionalCheckFailedException{}
	}
	if _, deleted := item["deleted_at"]; deleted {
		return nil, &types.ConditionalCheckFailedException{}
	}
	authz, err := mockStringAttr(params.ExpressionAttributeValues, ":authz")
	if err != nil {
		return nil, err
	}
	owner, err := mockStringAttr(item, "authz_id")
	if err != nil {
		return nil, err
	}
	if owner != authz {
		return nil, &types.ConditionalCheckFailedException{}
	}

	item["deleted_at"] = params.ExpressionAttributeValues[":now"]
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamoClient) Scan(_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var project string
	if attr, ok := params.ExpressionAttributeValues[":project"].(*types.AttributeValueMemberS); ok {
		project = attr.Value
	}

	out := &dynamodb.ScanOutput{}
	for _, item := range m.metadata {
		if _, deleted := item["deleted_at"]; deleted {
			continue
		}
		if project != "" {
			itemProject, err := mockStringAttr(item, "project_uuid")
			if err != nil {
				return nil, err
			}
			if itemProject != project {
				continue
			}
		}
		out.Items = append(out.Items, mockCloneItem(item))
	}
	return out, nil
}

func (m *mockDynamoClient) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	publicID, err := mockStringAttr(params.ExpressionAttributeValues, ":id")
	if err != nil {
		return nil, err
	}

	items := make([]map[string]types.AttributeValue, 0, len(m.stats[publicID]))
	for _, item := range m.stats[publicID] {
		items = append(items, mockCloneItem(item))
	}
	// RFC3339Nano timestamps sort lexically within a single run.
	sort.Slice(items, func(i, j int) bool {
		a, _ := mockStringAttr(items[i], "created_at")
		b, _ := mockStringAttr(items[j], "created_at")
		return a < b
	})
	return &dynamodb.QueryOutput{Items: items}, nil
}

func mockStringAttr(item map[string]types.AttributeValue, key string) (string, error) {
	attr, ok := item[key].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("missing string attribute %q", key)
	}
	return attr.Value, nil
}

func mockCloneItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	clone := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		clone[k] = v
	}
	return clone
}
