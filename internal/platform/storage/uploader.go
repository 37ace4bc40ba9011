package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alma-estilo/api/internal/services"
)

// Uploader adapts the signed URL client to the catalog upload contract.
type Uploader struct {
	client *Client
	bucket string
	clock  func() time.Time
}

// NewUploader constructs an Uploader bound to a bucket.
func NewUploader(client *Client, bucket string) (*Uploader, error) {
	if client == nil {
		return nil, errors.New("storage: uploader requires a client")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: uploader requires a bucket")
	}
	return &Uploader{
		client: client,
		bucket: bucket,
		clock:  time.Now,
	}, nil
}

// SignUpload issues a PUT signed URL for the object and returns the public
// object URL the caller can store once the upload finishes.
func (u *Uploader) SignUpload(ctx context.Context, object, contentType string, expiresAt time.Time) (string, string, error) {
	if u == nil || u.client == nil {
		return "", "", errors.New("storage: uploader not initialised")
	}

	expiresIn := time.Until(expiresAt)
	if expiresIn <= 0 {
		return "", "", errors.New("storage: upload expiry is in the past")
	}

	result, err := u.client.SignedURL(ctx, u.bucket, object, SignedURLOptions{
		Upload: &UploadOptions{
			Method:      "PUT",
			ContentType: contentType,
			ExpiresIn:   expiresIn,
		},
	})
	if err != nil {
		return "", "", err
	}

	objectURL := fmt.Sprintf("https://storage.googleapis.com/%s/%s", u.bucket, object)
	return result.URL, objectURL, nil
}

var _ services.UploadURLSigner = (*Uploader)(nil)
