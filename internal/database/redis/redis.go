// Package redis implements database.Store on Redis/Valkey via rueidis. It is
// the backend to pick when the requester and the background executor run as
// separate processes and must observe the same progress values.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kozaktomas/camflow/internal/database"
	"github.com/redis/rueidis"
)

const scanCount = 200

// Config holds connection parameters for a Redis store.
type Config struct {
	Addrs     []string
	Password  string
	KeyPrefix string
}

// Store implements database.Store via rueidis.
type Store struct {
	client rueidis.Client
	prefix string
}

var _ database.Store = (*Store)(nil)

// NewStore creates a Redis store via rueidis.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("addrs is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Password:     cfg.Password,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Store{client: client, prefix: cfg.KeyPrefix}, nil
}

// NewStoreForTest wraps an existing client (e.g. a rueidis mock).
func NewStoreForTest(client rueidis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	cmd := s.client.B().Get().Key(s.key(key)).Build()
	data, err := s.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	cmd := s.client.B().Set().Key(s.key(key)).Value(rueidis.BinaryString(value)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	cmd := s.client.B().Del().Key(s.key(key)).Build()
	n, err := s.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	return n > 0, nil
}

// List scans for matching keys and fetches them with MGET. Keys deleted
// between the scan and the fetch are skipped.
func (s *Store) List(ctx context.Context, prefix string) ([]database.Entry, error) {
	var keys []string
	var cursor uint64
	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(s.key(prefix) + "*").Count(scanCount).Build()
		entry, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", prefix, err)
		}
		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	values, err := s.client.Do(ctx, s.client.B().Mget().Key(keys...).Build()).ToArray()
	if err != nil {
		return nil, fmt.Errorf("mget %s: %w", prefix, err)
	}

	entries := make([]database.Entry, 0, len(keys))
	for i, v := range values {
		data, err := v.AsBytes()
		if err != nil {
			if rueidis.IsRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("mget %s: %w", keys[i], err)
		}
		entries = append(entries, database.Entry{
			Key:   strings.TrimPrefix(keys[i], s.prefix),
			Value: data,
		})
	}
	return entries, nil
}

func (s *Store) Close() error {
	s.client.Close()
	return nil
}
