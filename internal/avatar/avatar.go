// Package avatar stores profile pictures in an S3-compatible bucket and
// hands back their public URL.
package avatar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

const MaxSize = 5 << 20

var (
	ErrEmpty       = errors.New("avatar: empty image")
	ErrTooLarge    = errors.New("avatar: image too large")
	ErrUnsupported = errors.New("avatar: unsupported image type")
)

// ObjectPutter is the part of *minio.Client the uploader needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Uploader struct {
	client    ObjectPutter
	bucket    string
	publicURL string
	log       *zap.Logger
}

// New builds an uploader writing to bucket; publicURL is the prefix clients
// fetch objects from, e.g. https://cdn.example.com/avatars.
func New(client ObjectPutter, bucket, publicURL string, log *zap.Logger) *Uploader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Uploader{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		log:       log,
	}
}

// Upload stores data as users/{userID}{ext} and returns its public URL.
// The content type is sniffed; only images are accepted.
func (u *Uploader) Upload(ctx context.Context, userID, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if len(data) > MaxSize {
		return "", ErrTooLarge
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, contentType)
	}

	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	object := "users/" + userID + ext

	_, err := u.client.PutObject(ctx, u.bucket, object, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("avatar: put %s/%s: %w", u.bucket, object, err)
	}

	u.log.Info("avatar.Uploader.Upload stored",
		zap.String("bucket", u.bucket),
		zap.String("object", object),
		zap.Int("bytes", len(data)),
	)
	return u.publicURL + "/" + object, nil
}
