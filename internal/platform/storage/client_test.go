package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alma-estilo/api/internal/platform/auth"
)

type fakeSigner struct {
	email    string
	signFunc func(ctx context.Context, payload []byte) ([]byte, error)
}

func (f *fakeSigner) Email() string { return f.email }

func (f *fakeSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if f.signFunc != nil {
		return f.signFunc(ctx, payload)
	}
	return []byte("signature"), nil
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(
		&fakeSigner{email: "uploads@alma-estilo.iam.gserviceaccount.com"},
		WithClock(func() time.Time {
			return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
		}),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRequiresSigner(t *testing.T) {
	if _, err := NewClient(nil); !errors.Is(err, errNoSigner) {
		t.Fatalf("expected errNoSigner, got %v", err)
	}
	if _, err := NewClient(&fakeSigner{email: "  "}); !errors.Is(err, errNoSigner) {
		t.Fatalf("expected errNoSigner for blank email, got %v", err)
	}
}

func TestSignedURLUpload(t *testing.T) {
	client := newTestClient(t)

	result, err := client.SignedURL(context.Background(), "alma-estilo-media", "catalog/products/prd_1/images/a.jpg", SignedURLOptions{
		Upload: &UploadOptions{
			Method:      "put",
			ContentType: "image/jpeg",
			MaxSize:     5 << 20,
			ExpiresIn:   10 * time.Minute,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Method != "PUT" {
		t.Fatalf("unexpected method %q", result.Method)
	}
	if !strings.Contains(result.URL, "alma-estilo-media/catalog/products/prd_1/images/a.jpg") {
		t.Fatalf("unexpected url %q", result.URL)
	}
	want := time.Date(2026, 8, 28, 12, 10, 0, 0, time.UTC)
	if !result.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, result.ExpiresAt)
	}
	if result.Headers["Content-Type"] != "image/jpeg" {
		t.Fatalf("unexpected headers %+v", result.Headers)
	}
	if result.Headers["x-goog-content-length-range"] != "0,5242880" {
		t.Fatalf("unexpected length range %+v", result.Headers)
	}
}

func TestSignedURLUploadValidation(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	cases := map[string]struct {
		bucket string
		object string
		opts   SignedURLOptions
		want   error
	}{
		"no intent": {
			bucket: "b", object: "o",
			opts: SignedURLOptions{},
			want: errInvalidOptions,
		},
		"both intents": {
			bucket: "b", object: "o",
			opts: SignedURLOptions{
				Upload:   &UploadOptions{ContentType: "image/png"},
				Download: &DownloadOptions{AllowAnonymous: true},
			},
			want: errBothIntents,
		},
		"blank bucket": {
			bucket: " ", object: "o",
			opts: SignedURLOptions{Upload: &UploadOptions{ContentType: "image/png"}},
			want: errInvalidBucket,
		},
		"blank object": {
			bucket: "b", object: " ",
			opts: SignedURLOptions{Upload: &UploadOptions{ContentType: "image/png"}},
			want: errInvalidObject,
		},
		"missing content type": {
			bucket: "b", object: "o",
			opts: SignedURLOptions{Upload: &UploadOptions{}},
			want: errContentTypeMissing,
		},
		"denied content type": {
			bucket: "b", object: "o",
			opts: SignedURLOptions{Upload: &UploadOptions{
				ContentType:         "application/zip",
				AllowedContentTypes: []string{"image/*"},
			}},
			want: errContentTypeDenied,
		},
		"bad method": {
			bucket: "b", object: "o",
			opts: SignedURLOptions{Upload: &UploadOptions{Method: "DELETE", ContentType: "image/png"}},
			want: errMethodNotAllowed,
		},
		"md5 required": {
			bucket: "b", object: "o",
			opts: SignedURLOptions{Upload: &UploadOptions{ContentType: "image/png", RequireMD5: true}},
			want: errMD5Required,
		},
		"md5 not base64": {
			bucket: "b", object: "o",
			opts: SignedURLOptions{Upload: &UploadOptions{ContentType: "image/png", ContentMD5: "%%%"}},
			want: errMD5Invalid,
		},
	}

	for name, tc := range cases {
		if _, err := client.SignedURL(ctx, tc.bucket, tc.object, tc.opts); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, err)
		}
	}
}

func TestSignedURLUploadAllowsWildcardContentType(t *testing.T) {
	client := newTestClient(t)

	_, err := client.SignedURL(context.Background(), "b", "o", SignedURLOptions{
		Upload: &UploadOptions{
			ContentType:         "image/webp",
			AllowedContentTypes: []string{"image/*"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSignedURLDownload(t *testing.T) {
	client := newTestClient(t)

	result, err := client.SignedURL(context.Background(), "alma-estilo-media", "catalog/products/prd_1/images/a.jpg", SignedURLOptions{
		Download: &DownloadOptions{
			AllowAnonymous: true,
			Disposition:    `attachment; filename="a.jpg"`,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Method != "GET" {
		t.Fatalf("unexpected method %q", result.Method)
	}
	if !strings.Contains(result.URL, "response-content-disposition") {
		t.Fatalf("expected disposition query parameter in %q", result.URL)
	}
}

func TestSignedURLDownloadValidation(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.SignedURL(ctx, "b", "o", SignedURLOptions{
		Download: &DownloadOptions{AllowAnonymous: true, ExpiresIn: time.Hour},
	})
	if !errors.Is(err, errExpiryTooLong) {
		t.Fatalf("expected errExpiryTooLong, got %v", err)
	}

	_, err = client.SignedURL(ctx, "b", "o", SignedURLOptions{
		Download: &DownloadOptions{AllowAnonymous: true, Method: "POST"},
	})
	if !errors.Is(err, errMethodNotAllowed) {
		t.Fatalf("expected errMethodNotAllowed, got %v", err)
	}

	_, err = client.SignedURL(ctx, "b", "o", SignedURLOptions{
		Download: &DownloadOptions{OwnerID: "user-1"},
	})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied without identity, got %v", err)
	}
}

func TestAuthorizeDownload(t *testing.T) {
	owner := &auth.Identity{UID: "user-1"}
	staff := &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleStaff}}
	intruder := &auth.Identity{UID: "user-2"}

	if err := AuthorizeDownload(nil, "user-1", true); err != nil {
		t.Fatalf("anonymous access should be allowed: %v", err)
	}
	if err := AuthorizeDownload(owner, "user-1", false); err != nil {
		t.Fatalf("owner should be allowed: %v", err)
	}
	if err := AuthorizeDownload(staff, "user-1", false); err != nil {
		t.Fatalf("staff should be allowed: %v", err)
	}
	if err := AuthorizeDownload(intruder, "user-1", false); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := AuthorizeDownload(nil, "user-1", false); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied for missing identity, got %v", err)
	}
}

func TestNewUploaderValidation(t *testing.T) {
	client := newTestClient(t)

	if _, err := NewUploader(nil, "bucket"); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewUploader(client, "  "); err == nil {
		t.Fatal("expected error for blank bucket")
	}
}

func TestUploaderSignUpload(t *testing.T) {
	client := newTestClient(t)
	uploader, err := NewUploader(client, "alma-estilo-media")
	if err != nil {
		t.Fatalf("new uploader: %v", err)
	}

	uploadURL, objectURL, err := uploader.SignUpload(
		context.Background(),
		"catalog/products/prd_1/images/a.jpg",
		"image/jpeg",
		time.Now().Add(15*time.Minute),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uploadURL == "" {
		t.Fatal("expected non-empty upload URL")
	}
	if objectURL != "https://storage.googleapis.com/alma-estilo-media/catalog/products/prd_1/images/a.jpg" {
		t.Fatalf("unexpected object URL %q", objectURL)
	}
}

func TestUploaderSignUploadPastExpiry(t *testing.T) {
	client := newTestClient(t)
	uploader, err := NewUploader(client, "alma-estilo-media")
	if err != nil {
		t.Fatalf("new uploader: %v", err)
	}

	_, _, err = uploader.SignUpload(context.Background(), "o", "image/jpeg", time.Now().Add(-time.Minute))
	if err == nil {
		t.Fatal("expected error for expiry in the past")
	}
}
