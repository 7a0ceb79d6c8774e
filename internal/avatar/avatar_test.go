package avatar

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	bucket, object, contentType string
	body                        []byte
	err                         error
}

func (f *fakePutter) PutObject(_ context.Context, bucket, object string, r io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	f.bucket, f.object, f.contentType = bucket, object, opts.ContentType
	f.body, _ = io.ReadAll(r)
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: int64(len(f.body))}, nil
}

// smallest valid PNG header is enough for content sniffing
var png = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestUploadStoresUnderUsers(t *testing.T) {
	p := &fakePutter{}
	u := New(p, "avatars", "https://cdn.test/avatars/", nil)

	url, err := u.Upload(context.Background(), "u1", "me.PNG", png)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/avatars/users/u1.png", url)
	assert.Equal(t, "avatars", p.bucket)
	assert.Equal(t, "users/u1.png", p.object)
	assert.Equal(t, "image/png", p.contentType)
	assert.Equal(t, png, p.body)
}

func TestUploadRejects(t *testing.T) {
	u := New(&fakePutter{}, "avatars", "https://cdn.test", nil)
	ctx := context.Background()

	_, err := u.Upload(ctx, "u1", "a.png", nil)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = u.Upload(ctx, "u1", "a.txt", []byte("hello there"))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = u.Upload(ctx, "u1", "a.png", make([]byte, MaxSize+1))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestUploadPutError(t *testing.T) {
	u := New(&fakePutter{err: errors.New("bucket missing")}, "avatars", "https://cdn.test", nil)
	_, err := u.Upload(context.Background(), "u1", "a.png", png)
	assert.Error(t, err)
}
