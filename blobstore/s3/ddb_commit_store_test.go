package s3

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stablestate/blobstore"
)

func newCommitStore(t *testing.T) (*DDBCommitStore, *MockS3Client, *mockDDBClient) {
	t.Helper()
	s3Client := new(MockS3Client)
	ddb := newMockDDBClient()
	store := NewDDBCommitStore(NewStore(s3Client, "bucket", "prefix"), ddb, "commits", "s3://bucket/prefix")
	return store, s3Client, ddb
}

func TestDDBCommitStore_CurrentMissing(t *testing.T) {
	store, _, _ := newCommitStore(t)

	_, err := store.Open(context.Background(), CurrentName)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestDDBCommitStore_CommitAndRead(t *testing.T) {
	ctx := context.Background()
	store, _, ddb := newCommitStore(t)

	require.NoError(t, store.Put(ctx, CurrentName, []byte("ARCHIVE-000001.bin")))
	require.NoError(t, store.Put(ctx, CurrentName, []byte("ARCHIVE-000002.bin")))

	data, err := blobstore.Get(ctx, store, CurrentName)
	require.NoError(t, err)
	assert.Equal(t, "ARCHIVE-000002.bin", string(data))
	assert.Len(t, ddb.items, 2)

	// Deleting CURRENT keeps the history.
	require.NoError(t, store.Delete(ctx, CurrentName))
	assert.Len(t, ddb.items, 2)
}

func TestDDBCommitStore_ConcurrentCommit(t *testing.T) {
	ctx := context.Background()
	store, _, ddb := newCommitStore(t)

	require.NoError(t, store.Put(ctx, CurrentName, []byte("ARCHIVE-000001.bin")))

	// Another writer claims version 2 between our read and our write.
	ddb.beforePut = func() {
		_, err := ddb.PutItem(ctx, &dynamodb.PutItemInput{
			Item: map[string]ddbtypes.AttributeValue{
				"base_uri": &ddbtypes.AttributeValueMemberS{Value: "s3://bucket/prefix"},
				"version":  &ddbtypes.AttributeValueMemberN{Value: "2"},
				"content":  &ddbtypes.AttributeValueMemberS{Value: "ARCHIVE-000099.bin"},
			},
		})
		require.NoError(t, err)
	}

	err := store.Put(ctx, CurrentName, []byte("ARCHIVE-000002.bin"))
	assert.ErrorIs(t, err, ErrConcurrentModification)

	data, err := blobstore.Get(ctx, store, CurrentName)
	require.NoError(t, err)
	assert.Equal(t, "ARCHIVE-000099.bin", string(data))
}

func TestDDBCommitStore_OtherBlobsGoToS3(t *testing.T) {
	ctx := context.Background()
	store, s3Client, _ := newCommitStore(t)

	s3Client.On("PutObject", mock.Anything, mock.MatchedBy(func(input *s3.PutObjectInput) bool {
		return *input.Key == "prefix/chunk"
	})).Return(&s3.PutObjectOutput{}, nil).Once()
	s3Client.On("HeadObject", mock.Anything, mock.Anything).
		Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(5)}, nil).Once()

	require.NoError(t, store.Put(ctx, "chunk", []byte("bytes")))
	b, err := store.Open(ctx, "chunk")
	require.NoError(t, err)
	assert.Equal(t, int64(5), b.Size())
	s3Client.AssertExpectations(t)
}
