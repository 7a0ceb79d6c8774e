package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("session: key not found")

// KV is durable key-value storage for small values.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

var validKey = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// FileKV keeps one file per key in a directory. Writes go through a temp
// file and rename, so a reader sees the old or the new value, never half.
type FileKV struct {
	dir string
}

func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: create %s: %w", dir, err)
	}
	return &FileKV{dir: dir}, nil
}

func (f *FileKV) path(key string) (string, error) {
	if !validKey.MatchString(key) || key == "." || key == ".." {
		return "", fmt.Errorf("session: invalid key %q", key)
	}
	return filepath.Join(f.dir, key), nil
}

func (f *FileKV) Get(_ context.Context, key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", key, err)
	}
	return b, nil
}

func (f *FileKV) Put(_ context.Context, key string, value []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, "."+key+".*")
	if err != nil {
		return fmt.Errorf("session: write %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("session: write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("session: sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("session: commit %s: %w", key, err)
	}
	return nil
}

func (f *FileKV) Delete(_ context.Context, key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: delete %s: %w", key, err)
	}
	return nil
}

// RedisKV keeps values as plain Redis strings without expiry.
type RedisKV struct {
	client *redis.Client
	prefix string
}

func NewRedisKV(client *redis.Client, prefix string) *RedisKV {
	return &RedisKV{client: client, prefix: prefix}
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", key, err)
	}
	return b, nil
}

func (r *RedisKV) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("session: set %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("session: delete %s: %w", key, err)
	}
	return nil
}
