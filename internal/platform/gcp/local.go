package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type localBucketService struct {
	root string
}

// NewLocalBucketService serves buckets as directories under root. It backs
// the "local" storage mode used for development and the CLI.
func NewLocalBucketService(root string) (BucketService, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, &ObjectStorageConfigError{Code: ObjectStorageConfigErrorMissingLocalRoot, Mode: string(ObjectStorageModeLocal)}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve local root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create local root: %w", err)
	}
	return &localBucketService{root: abs}, nil
}

func (l *localBucketService) path(bucket, key string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("invalid bucket name %q", bucket)
	}
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	if clean == string(filepath.Separator) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(l.root, bucket, clean), nil
}

func (l *localBucketService) Download(ctx context.Context, bucket, key string, w io.Writer) (int64, error) {
	p, err := l.path(bucket, key)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return 0, err
	}
	defer f.Close()
	return io.Copy(w, f)
}

func (l *localBucketService) Upload(ctx context.Context, bucket, key string, r io.Reader, contentType string) error {
	p, err := l.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s/%s: %w", bucket, key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (l *localBucketService) GetObjectAttrs(ctx context.Context, bucket, key string) (*ObjectAttrs, error) {
	p, err := l.path(bucket, key)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return nil, err
	}
	return &ObjectAttrs{
		Size:        st.Size(),
		ContentType: contentTypeForKey(key),
		Generation:  st.ModTime().UnixNano(),
		Updated:     st.ModTime(),
	}, nil
}

func (l *localBucketService) Close() error { return nil }
