package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/phrazzld/medstock-api/internal/imagestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockObjectAPI struct {
	PutObjectFn    func(ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error)
	GetObjectFn    func(ctx context.Context, in *s3.GetObjectInput) (*s3.GetObjectOutput, error)
	DeleteObjectFn func(ctx context.Context, in *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error)
	HeadBucketFn   func(ctx context.Context, in *s3.HeadBucketInput) (*s3.HeadBucketOutput, error)
	CreateBucketFn func(ctx context.Context, in *s3.CreateBucketInput) (*s3.CreateBucketOutput, error)
}

func (m *mockObjectAPI) PutObject(
	ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options),
) (*s3.PutObjectOutput, error) {
	return m.PutObjectFn(ctx, in)
}

func (m *mockObjectAPI) GetObject(
	ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options),
) (*s3.GetObjectOutput, error) {
	return m.GetObjectFn(ctx, in)
}

func (m *mockObjectAPI) DeleteObject(
	ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options),
) (*s3.DeleteObjectOutput, error) {
	return m.DeleteObjectFn(ctx, in)
}

func (m *mockObjectAPI) HeadBucket(
	ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options),
) (*s3.HeadBucketOutput, error) {
	return m.HeadBucketFn(ctx, in)
}

func (m *mockObjectAPI) CreateBucket(
	ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options),
) (*s3.CreateBucketOutput, error) {
	return m.CreateBucketFn(ctx, in)
}

type mockPresigner struct {
	calls int
	err   error
}

func (m *mockPresigner) PresignGetObject(
	_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions),
) (*v4.PresignedHTTPRequest, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &v4.PresignedHTTPRequest{URL: "https://bucket.example.com/" + *in.Key + "?X-Amz-Signature=abc"}, nil
}

func TestResolveReferenceCachesPresignedURL(t *testing.T) {
	t.Parallel()

	presigner := &mockPresigner{}
	s := New(&mockObjectAPI{}, presigner, "photos", time.Minute, nil)
	ctx := context.Background()

	ref, err := s.ResolveReference(ctx, "batches/b/e/1.jpg", "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, imagestore.KindURL, ref.Kind)
	assert.Equal(t, "https://bucket.example.com/batches/b/e/1.jpg?X-Amz-Signature=abc", ref.URL)
	assert.Equal(t, "image/jpeg", ref.ContentType)

	_, err = s.ResolveReference(ctx, "batches/b/e/1.jpg", "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, 1, presigner.calls)
}

func TestResolveReferencePresignFailure(t *testing.T) {
	t.Parallel()

	s := New(&mockObjectAPI{}, &mockPresigner{err: errors.New("no credentials")}, "photos", time.Minute, nil)
	_, err := s.ResolveReference(context.Background(), "a.jpg", "image/jpeg")
	assert.ErrorIs(t, err, imagestore.ErrImageUnavailable)
}

func TestPutAndGetBytes(t *testing.T) {
	t.Parallel()

	stored := map[string][]byte{}
	api := &mockObjectAPI{
		PutObjectFn: func(_ context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			data, err := io.ReadAll(in.Body)
			if err != nil {
				return nil, err
			}
			stored[*in.Key] = data
			assert.Equal(t, "photos", *in.Bucket)
			assert.Equal(t, "image/png", *in.ContentType)
			return &s3.PutObjectOutput{}, nil
		},
		GetObjectFn: func(_ context.Context, in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			data, ok := stored[*in.Key]
			if !ok {
				return nil, &types.NoSuchKey{}
			}
			return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
		},
	}

	s := New(api, &mockPresigner{}, "photos", time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k.png", []byte("png"), "image/png"))
	data, err := s.GetBytes(ctx, "k.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	_, err = s.GetBytes(ctx, "missing.png")
	assert.ErrorIs(t, err, imagestore.ErrImageNotFound)
}

func TestDeleteInvalidatesCache(t *testing.T) {
	t.Parallel()

	deleted := 0
	api := &mockObjectAPI{
		DeleteObjectFn: func(_ context.Context, _ *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
			deleted++
			return &s3.DeleteObjectOutput{}, nil
		},
	}
	presigner := &mockPresigner{}
	s := New(api, presigner, "photos", time.Minute, nil)
	ctx := context.Background()

	_, err := s.ResolveReference(ctx, "k.jpg", "image/jpeg")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "k.jpg"))
	_, err = s.ResolveReference(ctx, "k.jpg", "image/jpeg")
	require.NoError(t, err)

	assert.Equal(t, 1, deleted)
	assert.Equal(t, 2, presigner.calls)
}

func TestEnsureBucket(t *testing.T) {
	t.Parallel()

	created := false
	api := &mockObjectAPI{
		HeadBucketFn: func(_ context.Context, _ *s3.HeadBucketInput) (*s3.HeadBucketOutput, error) {
			return nil, &types.NotFound{}
		},
		CreateBucketFn: func(_ context.Context, in *s3.CreateBucketInput) (*s3.CreateBucketOutput, error) {
			created = true
			assert.Equal(t, "photos", *in.Bucket)
			return &s3.CreateBucketOutput{}, nil
		},
	}

	s := New(api, &mockPresigner{}, "photos", time.Minute, nil)
	require.NoError(t, s.EnsureBucket(context.Background()))
	assert.True(t, created)
}
