package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) S3Service {
	t.Helper()
	svc, err := NewS3Service(S3Config{
		Bucket:    "test-bucket",
		Endpoint:  "localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	})
	require.NoError(t, err)
	return svc
}

func TestNewS3Service_RequiresBucket(t *testing.T) {
	_, err := NewS3Service(S3Config{})
	assert.Error(t, err)
}

func TestGenerateUploadURL(t *testing.T) {
	svc := newTestService(t)

	url, err := svc.GenerateUploadURL(context.Background(), "datasets/abc.csv", "text/csv")
	require.NoError(t, err)
	assert.Contains(t, url, "http://localhost:9000/test-bucket/datasets/abc.csv")
	assert.Contains(t, url, "X-Amz-Expires=900")

	_, err = svc.GenerateUploadURL(context.Background(), "datasets/abc.csv", "application/csv")
	assert.NoError(t, err)

	_, err = svc.GenerateUploadURL(context.Background(), "datasets/abc.xlsx", "application/vnd.ms-excel")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid content type")
}

func TestGenerateDownloadURL(t *testing.T) {
	svc := newTestService(t)

	url, err := svc.GenerateDownloadURL(context.Background(), "reports/abc.csv")
	require.NoError(t, err)
	assert.Contains(t, url, "/test-bucket/reports/abc.csv")
	assert.Contains(t, url, "X-Amz-Expires=86400")
}
