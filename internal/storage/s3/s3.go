// Package s3 implements the filesystem contract over S3-compatible object
// storage. Objects are addressed as s3://bucket/key; reads map to ranged
// GetObject calls, sizes to HeadObject, globs to prefix listings.
package s3

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cachefs/cachefs/internal/config"
	"github.com/cachefs/cachefs/internal/filesystem"
)

const scheme = "s3://"

// FileSystem serves s3:// paths.
type FileSystem struct {
	client *s3.Client
}

// New creates an S3 filesystem using the default AWS credential chain.
func New(ctx context.Context) (*FileSystem, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &FileSystem{client: s3.NewFromConfig(awsCfg)}, nil
}

// NewWithClient creates an S3 filesystem over an existing client.
func NewWithClient(client *s3.Client) *FileSystem {
	return &FileSystem{client: client}
}

// Name implements filesystem.FileSystem.
func (fs *FileSystem) Name() string { return "s3" }

// CanHandleFile implements filesystem.FileSystem.
func (fs *FileSystem) CanHandleFile(p string) bool {
	return strings.HasPrefix(p, scheme)
}

func splitPath(p string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(p, scheme)
	bucket, key, found := strings.Cut(trimmed, "/")
	if !found || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 path %q", p)
	}
	return bucket, key, nil
}

type handle struct {
	path         string
	bucket       string
	key          string
	flags        filesystem.OpenFlags
	size         int64
	lastModified time.Time
}

func (h *handle) Path() string                { return h.path }
func (h *handle) Flags() filesystem.OpenFlags { return h.flags }
func (h *handle) Close() error                { return nil }

// Reusable reports true: handles hold no connection state, the SDK pools
// underneath.
func (h *handle) Reusable() bool { return true }

// OpenFile implements filesystem.FileSystem. The object is stat'ed once so
// the handle carries its size and modification time.
func (fs *FileSystem) OpenFile(p string, flags filesystem.OpenFlags, _ *config.Opener) (filesystem.FileHandle, error) {
	if !flags.ForReading() {
		return nil, fmt.Errorf("s3 filesystem is read-only: %w", filesystem.ErrNotSupported)
	}
	bucket, key, err := splitPath(p)
	if err != nil {
		return nil, err
	}

	head, err := fs.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", p, err)
	}

	h := &handle{path: p, bucket: bucket, key: key, flags: flags}
	if head.ContentLength != nil {
		h.size = *head.ContentLength
	}
	if head.LastModified != nil {
		h.lastModified = *head.LastModified
	}
	return h, nil
}

// Read implements filesystem.FileSystem with a ranged GetObject.
func (fs *FileSystem) Read(fh filesystem.FileHandle, p []byte, location int64) error {
	h, err := fs.cast(fh)
	if err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}

	rangeHeader := fmt.Sprintf("bytes=%d-%d", location, location+int64(len(p))-1)
	out, err := fs.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: &h.bucket,
		Key:    &h.key,
		Range:  &rangeHeader,
	})
	if err != nil {
		return fmt.Errorf("failed to read %s at %d: %w", h.path, location, err)
	}
	defer out.Body.Close()

	if _, err := io.ReadFull(out.Body, p); err != nil {
		return fmt.Errorf("short body reading %s at %d: %w", h.path, location, err)
	}
	return nil
}

// FileSize implements filesystem.FileSystem from the open-time stat.
func (fs *FileSystem) FileSize(fh filesystem.FileHandle) (int64, error) {
	h, err := fs.cast(fh)
	if err != nil {
		return 0, err
	}
	return h.size, nil
}

// LastModifiedTime implements filesystem.FileSystem from the open-time stat.
func (fs *FileSystem) LastModifiedTime(fh filesystem.FileHandle) (time.Time, error) {
	h, err := fs.cast(fh)
	if err != nil {
		return time.Time{}, err
	}
	return h.lastModified, nil
}

// Glob implements filesystem.FileSystem by listing the longest literal
// prefix and matching keys against the pattern.
func (fs *FileSystem) Glob(pattern string, _ *config.Opener) ([]string, error) {
	bucket, keyPattern, err := splitPath(pattern)
	if err != nil {
		return nil, err
	}

	prefix := literalPrefix(keyPattern)
	paginator := s3.NewListObjectsV2Paginator(fs.client, &s3.ListObjectsV2Input{
		Bucket: &bucket,
		Prefix: &prefix,
	})

	var matches []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", pattern, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			ok, err := path.Match(keyPattern, *obj.Key)
			if err != nil {
				return nil, fmt.Errorf("bad glob pattern %q: %w", pattern, err)
			}
			if ok {
				matches = append(matches, scheme+bucket+"/"+*obj.Key)
			}
		}
	}
	return matches, nil
}

// literalPrefix returns the pattern's leading run without metacharacters.
func literalPrefix(pattern string) string {
	for i, r := range pattern {
		switch r {
		case '*', '?', '[', '\\':
			return pattern[:i]
		}
	}
	return pattern
}

// ListFiles implements filesystem.FileSystem over a prefix listing with
// delimiter, reporting common prefixes as directories.
func (fs *FileSystem) ListFiles(dir string, cb func(name string, isDir bool)) error {
	bucket, prefix, err := splitPath(strings.TrimSuffix(dir, "/") + "/")
	if err != nil {
		return err
	}
	delimiter := "/"
	paginator := s3.NewListObjectsV2Paginator(fs.client, &s3.ListObjectsV2Input{
		Bucket:    &bucket,
		Prefix:    &prefix,
		Delimiter: &delimiter,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for _, cp := range page.CommonPrefixes {
			if cp.Prefix != nil {
				cb(strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, prefix), "/"), true)
			}
		}
		for _, obj := range page.Contents {
			if obj.Key != nil && *obj.Key != prefix {
				cb(strings.TrimPrefix(*obj.Key, prefix), false)
			}
		}
	}
	return nil
}

// CreateDirectory implements filesystem.FileSystem; prefixes need no
// creation.
func (fs *FileSystem) CreateDirectory(string) error { return nil }

// RemoveDirectory implements filesystem.FileSystem.
func (fs *FileSystem) RemoveDirectory(string) error { return filesystem.ErrNotSupported }

// RemoveFile implements filesystem.FileSystem.
func (fs *FileSystem) RemoveFile(p string) error {
	bucket, key, err := splitPath(p)
	if err != nil {
		return err
	}
	if _, err := fs.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", p, err)
	}
	return nil
}

// MoveFile implements filesystem.FileSystem. S3 has no atomic rename.
func (fs *FileSystem) MoveFile(string, string) error { return filesystem.ErrNotSupported }

// FileExists implements filesystem.FileSystem.
func (fs *FileSystem) FileExists(p string) bool {
	bucket, key, err := splitPath(p)
	if err != nil {
		return false
	}
	_, err = fs.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	return err == nil
}

// DirectoryExists implements filesystem.FileSystem; any prefix exists.
func (fs *FileSystem) DirectoryExists(string) bool { return true }

// AvailableDiskSpace implements filesystem.FileSystem; object storage has no
// meaningful free-space notion.
func (fs *FileSystem) AvailableDiskSpace(string) (int64, bool) { return 0, false }

func (fs *FileSystem) cast(fh filesystem.FileHandle) (*handle, error) {
	h, ok := fh.(*handle)
	if !ok {
		return nil, fmt.Errorf("handle for %s does not belong to the s3 filesystem", fh.Path())
	}
	return h, nil
}
