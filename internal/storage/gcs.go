package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS stores objects in a Google Cloud Storage bucket under a prefix.
type GCS struct {
	client        *storage.Client
	bucket        string
	prefix        string
	publicBaseURL string
	timeout       time.Duration
}

// GCSConfig configures a GCS sink. An empty CredentialsFile uses
// application default credentials.
type GCSConfig struct {
	Bucket          string
	Prefix          string
	CredentialsFile string
	PublicBaseURL   string
}

// NewGCS connects to the bucket.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCS{
		client:        client,
		bucket:        cfg.Bucket,
		prefix:        strings.Trim(cfg.Prefix, "/"),
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		timeout:       5 * time.Minute,
	}, nil
}

func (s *GCS) object(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Save uploads data and returns its public URL, or the object name when no
// public base URL is configured.
func (s *GCS) Save(ctx context.Context, name string, data []byte, mime string) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	obj := s.object(name)
	wc := s.client.Bucket(s.bucket).Object(obj).NewWriter(ctx)
	wc.ContentType = mime
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return "", fmt.Errorf("failed to upload %s: %w", obj, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer: %w", err)
	}

	if s.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s", s.publicBaseURL, obj), nil
	}
	return obj, nil
}

// Open returns a reader for a stored object.
func (s *GCS) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(s.bucket).Object(s.object(name)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return r, err
}

// List returns object names under the sink prefix that start with prefix,
// with the sink prefix removed.
func (s *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.object(prefix)})
	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error listing objects: %w", err)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		names = append(names, strings.TrimPrefix(attrs.Name, s.object("")))
	}
	return names, nil
}

// Close closes the GCS client.
func (s *GCS) Close() error {
	return s.client.Close()
}
