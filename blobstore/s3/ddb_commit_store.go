package s3

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"

	"github.com/hupe1980/stablestate/blobstore"
)

// CurrentName is the blob name whose writes are routed through DynamoDB.
const CurrentName = "CURRENT"

// DDBCommitStore implements blobstore.BlobStore backed by S3, with DynamoDB
// holding the CURRENT pointer.
//
// Every write of CURRENT becomes a new item version; a conditional put on
// the version makes two archivers racing on the same prefix fail loudly
// instead of losing an archive.
//
// Table schema:
//   - Partition key: base_uri (string), the S3 bucket and prefix
//   - Sort key: version (number), monotonically increasing
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name stablestate-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	s3Store   *Store
	ddbClient DDBClient
	tableName string
	baseURI   string
}

var _ blobstore.BlobStore = (*DDBCommitStore)(nil)

// DDBClient is the subset of the DynamoDB API the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// ErrConcurrentModification is returned when a concurrent commit is detected.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// NewDDBCommitStore creates a new S3+DynamoDB commit store.
// The baseURI, usually "s3://bucket/prefix", is the partition key.
func NewDDBCommitStore(s3Store *Store, ddbClient DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		s3Store:   s3Store,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Open opens a blob for reading. CURRENT is served from DynamoDB.
func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name == CurrentName {
		version, content, err := s.latest(ctx)
		if err != nil {
			return nil, err
		}
		if version == 0 {
			return nil, blobstore.ErrNotFound
		}
		return blobstore.NewBytesBlob([]byte(content)), nil
	}
	return s.s3Store.Open(ctx, name)
}

// Put writes a blob. CURRENT is committed with a conditional write.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name == CurrentName {
		return s.commit(ctx, string(data))
	}
	return s.s3Store.Put(ctx, name, data)
}

// Delete deletes a blob. The CURRENT history is kept in DynamoDB.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	if name == CurrentName {
		return nil
	}
	return s.s3Store.Delete(ctx, name)
}

// List lists blobs with prefix. CURRENT only shows up once committed.
func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.s3Store.List(ctx, prefix)
}

// latest queries the newest committed version.
func (s *DDBCommitStore) latest(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", errors.Wrap(err, "query commit table")
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid version attribute in commit table")
	}
	contentAttr, ok := item["content"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("invalid content attribute in commit table")
	}
	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", errors.Wrap(err, "parse commit version")
	}
	return version, contentAttr.Value, nil
}

func (s *DDBCommitStore) commit(ctx context.Context, content string) error {
	current, _, err := s.latest(ctx)
	if err != nil {
		return err
	}

	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: s.baseURI},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(current+1, 10)},
			"content":  &types.AttributeValueMemberS{Value: content},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return errors.Wrap(err, "commit version")
	}
	return nil
}
