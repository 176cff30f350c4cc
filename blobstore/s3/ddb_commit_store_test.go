package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/shmmap/blobstore"
)

// mockDDBClient is an in-memory DynamoDB mock for testing.
type mockDDBClient struct {
	mu    sync.RWMutex
	items map[string]map[string]types.AttributeValue // key -> item
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{
		items: make(map[string]map[string]types.AttributeValue),
	}
}

func itemVersion(item map[string]types.AttributeValue) uint64 {
	v, _ := strconv.ParseUint(item["version"].(*types.AttributeValueMemberN).Value, 10, 64)
	return v
}

func (m *mockDDBClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	baseURI := params.Item["base_uri"].(*types.AttributeValueMemberS).Value
	version := params.Item["version"].(*types.AttributeValueMemberN).Value
	key := baseURI + ":" + version

	// Check conditional expression
	if aws.ToString(params.ConditionExpression) == "attribute_not_exists(version)" {
		if _, exists := m.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}

	m.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDBClient) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	baseURI := params.ExpressionAttributeValues[":uri"].(*types.AttributeValueMemberS).Value

	var items []map[string]types.AttributeValue
	for _, item := range m.items {
		if item["base_uri"].(*types.AttributeValueMemberS).Value == baseURI {
			items = append(items, item)
		}
	}

	// Descending by version
	slices.SortFunc(items, func(a, b map[string]types.AttributeValue) int {
		va, vb := itemVersion(a), itemVersion(b)
		switch {
		case va > vb:
			return -1
		case va < vb:
			return 1
		}
		return 0
	})

	if params.Limit != nil && int(*params.Limit) < len(items) {
		items = items[:*params.Limit]
	}

	return &dynamodb.QueryOutput{Items: items}, nil
}

func (m *mockDDBClient) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	baseURI := params.Key["base_uri"].(*types.AttributeValueMemberS).Value
	version := params.Key["version"].(*types.AttributeValueMemberN).Value
	delete(m.items, baseURI+":"+version)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *mockDDBClient) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func newTestDDBCommitStore(ddb *mockDDBClient, baseURI string) (*DDBCommitStore, *MockS3Client) {
	client := new(MockS3Client)
	return NewDDBCommitStore(NewStore(client, "test-bucket", "test/"), ddb, "shmmap-commits", baseURI), client
}

func getCurrent(t *testing.T, store *DDBCommitStore) string {
	t.Helper()
	data, err := store.Get(context.Background(), CurrentName)
	require.NoError(t, err)
	return string(data)
}

func TestDDBCommitStore_FirstCommit(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestDDBCommitStore(newMockDDBClient(), "s3://test-bucket/test/")

	require.NoError(t, store.Put(ctx, CurrentName, []byte("snap-00001.bin")))
	assert.Equal(t, "snap-00001.bin", getCurrent(t, store))

	version, name, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
	assert.Equal(t, "snap-00001.bin", name)
}

func TestDDBCommitStore_MultipleCommits(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestDDBCommitStore(newMockDDBClient(), "s3://test-bucket/test/")

	for i := 1; i <= 12; i++ {
		v, err := store.Commit(ctx, fmt.Sprintf("snap-%05d.bin", i))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), v)
	}
	assert.Equal(t, "snap-00012.bin", getCurrent(t, store))
}

func TestDDBCommitStore_ConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestDDBCommitStore(newMockDDBClient(), "s3://test-bucket/test/")

	require.NoError(t, store.Put(ctx, CurrentName, []byte("snap-00001.bin")))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := range 5 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := store.Put(ctx, CurrentName, fmt.Appendf(nil, "snap-%05d.bin", id+2))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConcurrentModification):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Positive(t, successes, "at least one writer should succeed")
	version, _, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1+successes), version)
}

func TestDDBCommitStore_NotFoundBeforeCommit(t *testing.T) {
	store, _ := newTestDDBCommitStore(newMockDDBClient(), "s3://test-bucket/test/")

	_, err := store.Get(context.Background(), CurrentName)
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestDDBCommitStore_IsolatedNamespaces(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()

	store1, _ := newTestDDBCommitStore(ddb, "s3://bucket-a/path/")
	store2, _ := newTestDDBCommitStore(ddb, "s3://bucket-b/path/")

	require.NoError(t, store1.Put(ctx, CurrentName, []byte("snap-A.bin")))
	require.NoError(t, store2.Put(ctx, CurrentName, []byte("snap-B.bin")))

	assert.Equal(t, "snap-A.bin", getCurrent(t, store1))
	assert.Equal(t, "snap-B.bin", getCurrent(t, store2))
}

func TestDDBCommitStore_Prune(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()
	store, _ := newTestDDBCommitStore(ddb, "s3://test-bucket/test/")

	for i := 1; i <= 5; i++ {
		_, err := store.Commit(ctx, fmt.Sprintf("snap-%d", i))
		require.NoError(t, err)
	}

	require.NoError(t, store.Prune(ctx, 2))
	assert.Equal(t, 2, ddb.len())
	assert.Equal(t, "snap-5", getCurrent(t, store))

	require.NoError(t, store.Prune(ctx, 10))
	assert.Equal(t, 2, ddb.len())
}

func TestDDBCommitStore_BlobsGoToS3(t *testing.T) {
	ctx := context.Background()
	store, client := newTestDDBCommitStore(newMockDDBClient(), "s3://test-bucket/test/")

	client.On("PutObject", mock.Anything, mock.MatchedBy(func(input *s3.PutObjectInput) bool {
		return *input.Key == "test/snap-1"
	})).Return(&s3.PutObjectOutput{}, nil).Once()
	client.On("GetObject", mock.Anything, mock.MatchedBy(func(input *s3.GetObjectInput) bool {
		return *input.Key == "test/snap-1"
	})).Return(&s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("data"))}, nil).Once()

	require.NoError(t, store.Put(ctx, "snap-1", []byte("data")))
	data, err := store.Get(ctx, "snap-1")
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	_, err = store.Create(ctx, CurrentName)
	assert.Error(t, err)
	client.AssertExpectations(t)
}
