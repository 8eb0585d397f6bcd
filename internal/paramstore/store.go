// Package paramstore distributes verifier and prover key material.
package paramstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

const (
	DriverFile   = "file"
	DriverMemory = "memory"
	DriverS3     = "s3"

	// Proving keys for the deposit circuit are a few MiB; verifying keys are
	// well under a KiB.
	defaultMaxObjectSize int64 = 64 << 20

	metaParamsID = "params-id"
)

var (
	ErrInvalidConfig = errors.New("paramstore: invalid config")
	ErrInvalidKey    = errors.New("paramstore: invalid key")
	ErrNotFound      = errors.New("paramstore: not found")
	ErrTooLarge      = errors.New("paramstore: object too large")
)

// Store is a flat key/value store for key material.
type Store interface {
	Put(ctx context.Context, key string, data []byte, meta map[string]string) error
	Get(ctx context.Context, key string) (Object, error)
	Exists(ctx context.Context, key string) (bool, error)
}

type Object struct {
	Key  string
	Data []byte
	Meta map[string]string
}

type Config struct {
	Driver string
	Prefix string

	// MaxObjectSize bounds bytes returned by Get. Defaults to 64 MiB when <= 0.
	MaxObjectSize int64

	// Dir is the root for the file driver.
	Dir string

	Bucket   string
	S3Client S3Client
}

type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

func New(cfg Config) (Store, error) {
	maxSize := cfg.MaxObjectSize
	if maxSize <= 0 {
		maxSize = defaultMaxObjectSize
	}
	prefix := strings.Trim(strings.TrimSpace(cfg.Prefix), "/")

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverFile, "":
		dir := strings.TrimSpace(cfg.Dir)
		if dir == "" {
			return nil, fmt.Errorf("%w: file driver needs a directory", ErrInvalidConfig)
		}
		return &fileStore{root: filepath.Join(dir, filepath.FromSlash(prefix)), maxSize: maxSize}, nil
	case DriverMemory:
		return &memoryStore{prefix: prefix, objects: make(map[string]Object)}, nil
	case DriverS3:
		bucket := strings.TrimSpace(cfg.Bucket)
		if bucket == "" {
			return nil, fmt.Errorf("%w: s3 bucket is required", ErrInvalidConfig)
		}
		if cfg.S3Client == nil {
			return nil, fmt.Errorf("%w: s3 client is required", ErrInvalidConfig)
		}
		return &s3Store{client: cfg.S3Client, bucket: bucket, prefix: prefix, maxSize: maxSize}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

// checkKey accepts slash-separated relative keys without dot segments.
func checkKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" || key != strings.TrimSpace(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f || r == '\\' {
			return "", fmt.Errorf("%w: %q contains a forbidden character", ErrInvalidKey, key)
		}
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: %q has an empty or relative segment", ErrInvalidKey, key)
		}
	}
	return key, nil
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func copyMeta(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}

type memoryStore struct {
	mu      sync.RWMutex
	prefix  string
	objects map[string]Object
}

func (m *memoryStore) Put(_ context.Context, key string, data []byte, meta map[string]string) error {
	key, err := checkKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[join(m.prefix, key)] = Object{Key: key, Data: bytes.Clone(data), Meta: copyMeta(meta)}
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) (Object, error) {
	key, err := checkKey(key)
	if err != nil {
		return Object{}, err
	}
	m.mu.RLock()
	obj, ok := m.objects[join(m.prefix, key)]
	m.mu.RUnlock()
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return Object{Key: key, Data: bytes.Clone(obj.Data), Meta: copyMeta(obj.Meta)}, nil
}

func (m *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	key, err := checkKey(key)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	_, ok := m.objects[join(m.prefix, key)]
	m.mu.RUnlock()
	return ok, nil
}

// fileStore keeps objects under root. The params id, the only metadata the
// loaders rely on, is kept in a sidecar file.
type fileStore struct {
	root    string
	maxSize int64
}

func (f *fileStore) path(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key))
}

func (f *fileStore) Put(_ context.Context, key string, data []byte, meta map[string]string) error {
	key, err := checkKey(key)
	if err != nil {
		return err
	}
	p := f.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("paramstore/file: mkdir for %q: %w", key, err)
	}
	if err := writeFileAtomic(p, data); err != nil {
		return fmt.Errorf("paramstore/file: write %q: %w", key, err)
	}
	if id := copyMeta(meta)[metaParamsID]; id != "" {
		if err := writeFileAtomic(p+"."+metaParamsID, []byte(id+"\n")); err != nil {
			return fmt.Errorf("paramstore/file: write %q id: %w", key, err)
		}
	}
	return nil
}

func (f *fileStore) Get(_ context.Context, key string) (Object, error) {
	key, err := checkKey(key)
	if err != nil {
		return Object{}, err
	}
	p := f.path(key)
	fh, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Object{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Object{}, fmt.Errorf("paramstore/file: open %q: %w", key, err)
	}
	defer func() { _ = fh.Close() }()

	data, err := readLimited(fh, f.maxSize)
	if err != nil {
		return Object{}, fmt.Errorf("paramstore/file: %q: %w", key, err)
	}
	obj := Object{Key: key, Data: data}
	if id, err := os.ReadFile(p + "." + metaParamsID); err == nil {
		obj.Meta = map[string]string{metaParamsID: strings.TrimSpace(string(id))}
	}
	return obj, nil
}

func (f *fileStore) Exists(_ context.Context, key string) (bool, error) {
	key, err := checkKey(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(f.path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("paramstore/file: stat %q: %w", key, err)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}

type s3Store struct {
	client  S3Client
	bucket  string
	prefix  string
	maxSize int64
}

func (s *s3Store) Put(ctx context.Context, key string, data []byte, meta map[string]string) error {
	key, err := checkKey(key)
	if err != nil {
		return err
	}
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(join(s.prefix, key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	}
	if m := copyMeta(meta); len(m) > 0 {
		in.Metadata = m
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("paramstore/s3: put %q: %w", key, err)
	}
	return nil
}

func (s *s3Store) Get(ctx context.Context, key string) (Object, error) {
	key, err := checkKey(key)
	if err != nil {
		return Object{}, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(join(s.prefix, key)),
	})
	if err != nil {
		if isNotFound(err) {
			return Object{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Object{}, fmt.Errorf("paramstore/s3: get %q: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := readLimited(out.Body, s.maxSize)
	if err != nil {
		return Object{}, fmt.Errorf("paramstore/s3: %q: %w", key, err)
	}
	return Object{Key: key, Data: data, Meta: copyMeta(out.Metadata)}, nil
}

func (s *s3Store) Exists(ctx context.Context, key string) (bool, error) {
	key, err := checkKey(key)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(join(s.prefix, key)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("paramstore/s3: head %q: %w", key, err)
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, max)
	}
	return data, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound", "404":
		return true
	}
	return false
}
