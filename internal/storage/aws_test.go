package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// mockS3Client implements S3API for unit testing.
type mockS3Client struct {
	mu sync.Mutex
	// objects stores all objects keyed by their S3 key.
	objects map[string][]byte
	// pageSize caps ListObjectsV2 results to force pagination.
	pageSize int
	// listCalls counts ListObjectsV2 calls.
	listCalls int
	// missingBucket makes every call fail with NoSuchBucket.
	missingBucket bool
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte), pageSize: 1000}
}

func (m *mockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &mockAPIError{code: "NoSuchKey", message: "The specified key does not exist.", httpStatus: 404}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (m *mockS3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &mockAPIError{code: "NotFound", message: "Not Found", httpStatus: 404}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (m *mockS3Client) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if m.missingBucket {
		return nil, &mockAPIError{code: "NotFound", message: "Not Found", httpStatus: 404}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (m *mockS3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.missingBucket {
		return nil, &mockAPIError{code: "NoSuchBucket", message: "The specified bucket does not exist", httpStatus: 404}
	}

	prefix := aws.ToString(params.Prefix)
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.ToString(params.ContinuationToken); tok != "" {
		fmt.Sscanf(tok, "%d", &start)
	}
	end := start + m.pageSize
	if end > len(keys) {
		end = len(keys)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(fmt.Sprintf("%d", end))
	}
	return out, nil
}

type mockAPIError struct {
	code       string
	message    string
	httpStatus int
}

func (e *mockAPIError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *mockAPIError) ErrorCode() string {
	return e.code
}

func (e *mockAPIError) ErrorMessage() string {
	return e.message
}

func (e *mockAPIError) ErrorFault() smithy.ErrorFault {
	if e.httpStatus >= 500 {
		return smithy.FaultServer
	}
	return smithy.FaultClient
}

func TestAWSWriteReadDelete(t *testing.T) {
	mock := newMockS3Client()
	b := NewAWSGatewayBackendWithClient("upstream", "us-east-1", "galleria/", mock)
	ctx := context.Background()

	if err := b.Write(ctx, "/uploads/artist-1-1.png", []byte("png")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, ok := mock.objects["galleria/uploads/artist-1-1.png"]; !ok {
		t.Fatalf("upstream key not written, objects = %v", mock.objects)
	}

	data, err := b.Read(ctx, "uploads/artist-1-1.png")
	if err != nil || string(data) != "png" {
		t.Fatalf("Read = %q, %v", data, err)
	}

	ok, err := b.Exists(ctx, "uploads/artist-1-1.png")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}

	if err := b.Delete(ctx, "uploads/artist-1-1.png"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := b.Read(ctx, "uploads/artist-1-1.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read after delete error = %v, want ErrNotFound", err)
	}
	ok, err = b.Exists(ctx, "uploads/artist-1-1.png")
	if err != nil || ok {
		t.Errorf("Exists after delete = %v, %v", ok, err)
	}
}

func TestAWSWritePropagatesAsWriteError(t *testing.T) {
	b := NewAWSGatewayBackendWithClient("upstream", "us-east-1", "", newMockS3Client())
	err := b.Write(context.Background(), "", []byte("x"))
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("Write(\"\") error = %v, want *WriteError", err)
	}
}

func TestAWSWalkPaginates(t *testing.T) {
	mock := newMockS3Client()
	mock.pageSize = 2
	b := NewAWSGatewayBackendWithClient("upstream", "us-east-1", "p/", mock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b.Write(ctx, fmt.Sprintf("uploads/%d.png", i), []byte("x"))
	}
	// Outside the prefix; never listed.
	mock.objects["other/x.png"] = []byte("x")

	paths, errs := collectWalk(t, b)
	if len(errs) != 0 {
		t.Fatalf("Walk errors: %v", errs)
	}
	if len(paths) != 5 {
		t.Fatalf("Walk returned %d paths, want 5: %v", len(paths), paths)
	}
	if paths[0] != "uploads/0.png" {
		t.Errorf("paths[0] = %q, want prefix stripped", paths[0])
	}
	if mock.listCalls != 3 {
		t.Errorf("ListObjectsV2 called %d times, want 3", mock.listCalls)
	}
}

func TestAWSWalkMissingBucket(t *testing.T) {
	mock := newMockS3Client()
	mock.missingBucket = true
	b := NewAWSGatewayBackendWithClient("gone", "us-east-1", "", mock)

	_, errs := collectWalk(t, b)
	if len(errs) != 1 || !errors.Is(errs[0], ErrRootNotFound) {
		t.Errorf("Walk errors = %v, want ErrRootNotFound", errs)
	}
	if err := b.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck succeeded for missing bucket")
	}
}

func TestIsAWSNotFound(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&mockAPIError{code: "NoSuchKey"}, true},
		{&mockAPIError{code: "NotFound"}, true},
		{&types.NoSuchKey{}, true},
		{&mockAPIError{code: "AccessDenied", httpStatus: 403}, false},
		{errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := isAWSNotFound(tt.err); got != tt.want {
			t.Errorf("isAWSNotFound(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
