// Package storage is a bucketed object store on the local filesystem.
// Objects are served read-only by the API under /storage/.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	BucketTaskPhotos         = "task-photos"
	BucketAvatars            = "avatars"
	BucketMessageAttachments = "message-attachments"
)

// MaxObjectSize bounds a single upload.
const MaxObjectSize = 20 << 20

var (
	ErrUnknownBucket = errors.New("unknown bucket")
	ErrInvalidName   = errors.New("invalid object name")
	ErrTooLarge      = errors.New("object too large")
)

type Object struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
}

type FSStore struct {
	root      string
	publicURL string
	buckets   map[string]bool
}

// NewFSStore creates root and the given buckets if they do not exist.
func NewFSStore(root, publicURL string, buckets ...string) (*FSStore, error) {
	s := &FSStore{root: root, publicURL: strings.TrimRight(publicURL, "/"), buckets: make(map[string]bool)}
	for _, b := range buckets {
		if err := s.EnsureBucket(b); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *FSStore) Root() string { return s.root }

func (s *FSStore) EnsureBucket(bucket string) error {
	if bucket == "" || strings.ContainsAny(bucket, `/\.`) {
		return fmt.Errorf("%w: %q", ErrUnknownBucket, bucket)
	}
	if err := os.MkdirAll(filepath.Join(s.root, bucket), 0o755); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	s.buckets[bucket] = true
	return nil
}

// Upload writes r to bucket/name, replacing any existing object. The write
// goes to a temp file first so readers never see a partial object.
func (s *FSStore) Upload(ctx context.Context, bucket, name, contentType string, r io.Reader) (*Object, error) {
	if !s.buckets[bucket] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBucket, bucket)
	}
	clean, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dst := filepath.Join(s.root, bucket, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(r, MaxObjectSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("write %s/%s: %w", bucket, clean, err)
	}
	if n > MaxObjectSize {
		return nil, fmt.Errorf("%w: %s/%s", ErrTooLarge, bucket, clean)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return nil, err
	}
	return &Object{Bucket: bucket, Name: clean, ContentType: contentType, Size: n, URL: s.PublicURL(bucket, clean)}, nil
}

func (s *FSStore) PublicURL(bucket, name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.publicURL + "/" + bucket + "/" + strings.Join(parts, "/")
}

func cleanName(name string) (string, error) {
	name = strings.ReplaceAll(strings.TrimSpace(name), `\`, "/")
	if name == "" || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, seg := range strings.Split(clean, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return clean, nil
}

// ObjectName builds "<prefix>/<id>-<base>" with the base reduced to safe characters.
func ObjectName(prefix, id, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	safe := strings.TrimLeft(b.String(), ".")
	if safe == "" {
		safe = "file"
	}
	return prefix + "/" + id + "-" + safe
}
