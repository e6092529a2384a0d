package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/rodsnfs/pkg/content"
	contenttesting "github.com/marmos91/rodsnfs/pkg/content/testing"
)

// fakeClient is an in-memory stand-in for a bucket.
type fakeClient struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string][]byte)}
}

func (f *fakeClient) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}

	if in.Range != nil {
		var start, end int64
		if _, err := fmt.Sscanf(aws.ToString(in.Range), "bytes=%d-%d", &start, &end); err != nil {
			return nil, err
		}
		if start >= int64(len(data)) {
			return nil, &smithy.GenericAPIError{Code: "InvalidRange", Message: "range not satisfiable"}
		}
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		data = data[start : end+1]
	}

	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(append([]byte(nil), data...)))}, nil
}

func (f *fakeClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeClient) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3ContentStore(t *testing.T) {
	suite := &contenttesting.StoreTestSuite{
		NewStore: func(t *testing.T) content.Store {
			store, err := NewS3ContentStore(context.Background(), S3ContentStoreConfig{
				Client: newFakeClient(),
				Bucket: "rodsnfs-test",
			})
			require.NoError(t, err)
			return store
		},
	}

	suite.Run(t)
}

func TestS3ContentStoreKeyPrefix(t *testing.T) {
	client := newFakeClient()
	store, err := NewS3ContentStore(context.Background(), S3ContentStoreConfig{
		Client:    client,
		Bucket:    "rodsnfs-test",
		KeyPrefix: "data/",
	})
	require.NoError(t, err)

	_, err = store.WriteAt(context.Background(), "abc", []byte("x"), 0)
	require.NoError(t, err)

	_, ok := client.objects["data/abc"]
	assert.True(t, ok)
	assert.Equal(t, 1, client.puts)
}

func TestNewS3ContentStoreValidation(t *testing.T) {
	_, err := NewS3ContentStore(context.Background(), S3ContentStoreConfig{Bucket: "b"})
	assert.Error(t, err)

	_, err = NewS3ContentStore(context.Background(), S3ContentStoreConfig{Client: newFakeClient()})
	assert.Error(t, err)
}
