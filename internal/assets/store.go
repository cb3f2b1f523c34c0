package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/onnwee/panotour/internal/tracing"
)

// maxAssetSize bounds a single face or manifest read.
const maxAssetSize = 64 << 20

// Store fetches raw asset bytes by URL.
type Store interface {
	Get(ctx context.Context, assetURL string) ([]byte, error)
	// HealthCheck reports whether the store is reachable.
	HealthCheck(ctx context.Context) error
}

// HTTPStore reads assets from a static file server.
type HTTPStore struct {
	client  *http.Client
	baseURL string
}

// NewHTTPStore creates a store that GETs asset URLs. baseURL is only used
// for health checks.
func NewHTTPStore(client *http.Client, baseURL string) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPStore{client: client, baseURL: baseURL}
}

// Get fetches one asset. A 404 or 410 yields a NotFoundError.
func (s *HTTPStore) Get(ctx context.Context, assetURL string) (b []byte, err error) {
	ctx, endSpan := tracing.StartClientSpan(ctx, tracing.PeerAssetStore, "get", assetURL)
	defer func() { endSpan(err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", assetURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return nil, &NotFoundError{URL: assetURL}
	default:
		return nil, fmt.Errorf("failed to fetch %s: status %d", assetURL, resp.StatusCode)
	}

	b, err = io.ReadAll(io.LimitReader(resp.Body, maxAssetSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", assetURL, err)
	}
	return b, nil
}

// HealthCheck sends a HEAD request to the base URL. Any response counts as
// reachable.
func (s *HTTPStore) HealthCheck(ctx context.Context) error {
	if s.baseURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("asset store returned status %d", resp.StatusCode)
	}
	return nil
}

// S3StoreConfig holds configuration for the S3/R2 asset store.
type S3StoreConfig struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	// BaseURL is stripped from asset URLs to obtain object keys.
	BaseURL string
}

// S3Store reads assets from an S3-compatible bucket (Cloudflare R2).
// Object keys follow projects/<tourID>/<sceneID>/<face>.jpg.
type S3Store struct {
	client     *s3.Client
	bucketName string
	basePath   string
}

// NewS3Store creates an R2-backed asset store.
func NewS3Store(cfg S3StoreConfig) (*S3Store, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	client := s3.New(s3.Options{
		Region: "auto", // R2 uses auto region
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true, // R2 requires path-style addressing
	})

	basePath := ""
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}
		basePath = strings.Trim(u.Path, "/")
	}

	return &S3Store{client: client, bucketName: cfg.BucketName, basePath: basePath}, nil
}

// ObjectKey maps an asset URL (absolute or path-only) to its object key.
func (s *S3Store) ObjectKey(assetURL string) (string, error) {
	u, err := url.Parse(assetURL)
	if err != nil {
		return "", fmt.Errorf("invalid asset URL %q: %w", assetURL, err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if s.basePath != "" {
		key = strings.TrimPrefix(strings.TrimPrefix(key, s.basePath), "/")
	}
	if key == "" {
		return "", fmt.Errorf("invalid asset URL %q: empty object key", assetURL)
	}
	return key, nil
}

// Get fetches one object. A missing key yields a NotFoundError.
func (s *S3Store) Get(ctx context.Context, assetURL string) (b []byte, err error) {
	key, err := s.ObjectKey(assetURL)
	if err != nil {
		return nil, err
	}

	ctx, endSpan := tracing.StartClientSpan(ctx, tracing.PeerAssetStore, "get_object", key)
	defer func() { endSpan(err) }()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, &NotFoundError{URL: assetURL}
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer out.Body.Close()

	b, err = io.ReadAll(io.LimitReader(out.Body, maxAssetSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return b, nil
}

// HealthCheck verifies the bucket is reachable with the configured credentials.
func (s *S3Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucketName),
	})
	return err
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
