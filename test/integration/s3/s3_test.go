//go:build integration

package s3_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/rodsnfs/pkg/config"
	"github.com/marmos91/rodsnfs/pkg/content"
	contenttesting "github.com/marmos91/rodsnfs/pkg/content/testing"
)

func localstackEndpoint() string {
	if endpoint := os.Getenv("LOCALSTACK_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	return "http://localhost:4566"
}

// setupTestBucket creates bucketName on Localstack and removes it, with
// its objects, when the test ends.
func setupTestBucket(t *testing.T, bucketName string) {
	t.Helper()
	ctx := context.Background()

	cfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(localstackEndpoint())
		o.UsePathStyle = true
	})

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)})
	require.NoError(t, err, "is Localstack running at %s?", localstackEndpoint())

	t.Cleanup(func() {
		list, _ := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(bucketName)})
		if list != nil {
			for _, obj := range list.Contents {
				_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucketName), Key: obj.Key})
			}
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucketName)})
	})
}

// TestS3ContentStore_Integration runs the content store suite against
// Localstack through the configuration factory.
//
// Prerequisites:
//   - Localstack running on localhost:4566 (or LOCALSTACK_ENDPOINT)
//   - Run with: go test -tags=integration ./test/integration/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestS3ContentStore_Integration(t *testing.T) {
	const bucketName = "rodsnfs-test-bucket"
	setupTestBucket(t, bucketName)

	var counter atomic.Int32
	suite := &contenttesting.StoreTestSuite{
		NewStore: func(t *testing.T) content.Store {
			store, err := config.CreateContentStore(context.Background(), &config.ContentConfig{
				Type: "s3",
				S3: map[string]any{
					"region":            "us-east-1",
					"bucket":            bucketName,
					"key_prefix":        fmt.Sprintf("test-%d/", counter.Add(1)),
					"endpoint":          localstackEndpoint(),
					"access_key_id":     "test",
					"secret_access_key": "test",
					"max_retries":       3,
				},
			})
			require.NoError(t, err)
			return store
		},
	}
	suite.Run(t)
}

func TestS3ContentStore_MissingBucket(t *testing.T) {
	_, err := config.CreateContentStore(context.Background(), &config.ContentConfig{
		Type: "s3",
		S3: map[string]any{
			"region":            "us-east-1",
			"bucket":            "rodsnfs-no-such-bucket",
			"endpoint":          localstackEndpoint(),
			"access_key_id":     "test",
			"secret_access_key": "test",
			"max_retries":       1,
		},
	})
	require.Error(t, err)
}
