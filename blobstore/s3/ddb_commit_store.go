package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/shmmap/blobstore"
)

// CurrentName is the blob name DDBCommitStore serves from DynamoDB. Its
// content is the name of the latest committed snapshot.
const CurrentName = "CURRENT"

// DDBCommitStore implements blobstore.Store backed by S3 with DynamoDB
// for atomic "latest snapshot" commits.
//
// Snapshot blobs go to S3. Writing CurrentName instead appends a new
// version to DynamoDB with a conditional write, so two writers racing to
// publish never silently overwrite each other.
//
// Table schema:
//   - Partition key: base_uri (string) - the S3 prefix/path
//   - Sort key: version (number) - monotonically increasing version
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name shmmap-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	s3Store   *Store
	ddbClient DDBClient
	tableName string
	baseURI   string // S3 bucket/prefix used as partition key
}

var _ blobstore.Store = (*DDBCommitStore)(nil)

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// ErrConcurrentModification is returned when a concurrent commit is detected.
var ErrConcurrentModification = errors.New("s3: concurrent modification detected")

// NewDDBCommitStore creates a new S3+DynamoDB commit store.
// The baseURI should be "s3://bucket/prefix" format used as partition key.
func NewDDBCommitStore(s3Store *Store, ddbClient DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		s3Store:   s3Store,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Get reads a blob. CurrentName resolves to the latest committed snapshot name.
func (s *DDBCommitStore) Get(ctx context.Context, name string) ([]byte, error) {
	if name == CurrentName {
		version, snapshot, err := s.Latest(ctx)
		if err != nil {
			return nil, err
		}
		if version == 0 {
			return nil, blobstore.ErrNotFound
		}
		return []byte(snapshot), nil
	}
	return s.s3Store.Get(ctx, name)
}

// Put writes a blob. For CurrentName, it commits a new version instead.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name == CurrentName {
		_, err := s.Commit(ctx, string(data))
		return err
	}
	return s.s3Store.Put(ctx, name, data)
}

// Create starts a streaming write to S3.
func (s *DDBCommitStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	if name == CurrentName {
		return nil, fmt.Errorf("s3: %s cannot be streamed", CurrentName)
	}
	return s.s3Store.Create(ctx, name)
}

// Delete deletes a blob. Committed versions are kept.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	return s.s3Store.Delete(ctx, name)
}

// List lists blobs with prefix.
func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.s3Store.List(ctx, prefix)
}

// Latest returns the latest committed version and snapshot name.
// Version 0 means nothing was committed yet.
func (s *DDBCommitStore) Latest(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false), // Descending order
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("s3: query commits: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("s3: invalid version attribute in commit")
	}
	snapshotAttr, ok := item["snapshot"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("s3: invalid snapshot attribute in commit")
	}

	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("s3: parse commit version: %w", err)
	}
	return version, snapshotAttr.Value, nil
}

// Commit atomically publishes snapshot as the next version. It fails with
// ErrConcurrentModification when another writer took that version first.
func (s *DDBCommitStore) Commit(ctx context.Context, snapshot string) (uint64, error) {
	current, _, err := s.Latest(ctx)
	if err != nil {
		return 0, err
	}
	next := current + 1

	// Conditional put: only succeed if this version doesn't exist yet
	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: s.baseURI},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"snapshot": &types.AttributeValueMemberS{Value: snapshot},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return 0, ErrConcurrentModification
		}
		return 0, fmt.Errorf("s3: commit version %d: %w", next, err)
	}
	return next, nil
}

// Prune deletes committed versions older than keep versions behind the latest.
func (s *DDBCommitStore) Prune(ctx context.Context, keep uint64) error {
	latest, _, err := s.Latest(ctx)
	if err != nil {
		return err
	}
	if keep == 0 || latest <= keep {
		return nil
	}
	for v := latest - keep; v >= 1; v-- {
		_, err := s.ddbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"base_uri": &types.AttributeValueMemberS{Value: s.baseURI},
				"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(v, 10)},
			},
		})
		if err != nil {
			return fmt.Errorf("s3: prune version %d: %w", v, err)
		}
	}
	return nil
}
