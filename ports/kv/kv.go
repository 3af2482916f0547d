// Package kv is the storage port of the wallet. Account snapshots and the
// account index are stored as JSON documents under dotted keys such as
// "accounts.<id>".
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codewandler/walletrt-go/internal/codec"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidKey = errors.New("invalid key")
)

type Entry struct {
	Data []byte
	// Revision increases with every write to the key. Stores that don't
	// track revisions leave it zero.
	Revision uint64
}

type PutOptions struct {
	TTL time.Duration
}

type Store interface {
	Put(ctx context.Context, key string, entry Entry, opts PutOptions) error
	Get(ctx context.Context, key string) (Entry, error)
	Delete(ctx context.Context, key string) error
	// Keys lists the keys starting with prefix, in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Put stores v as JSON.
func Put[T any](ctx context.Context, store Store, key string, v T, opts PutOptions) error {
	data, err := codec.JSON.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return store.Put(ctx, key, Entry{Data: data}, opts)
}

// Get loads the JSON document stored under key into a T.
func Get[T any](ctx context.Context, store Store, key string) (out T, err error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err = codec.JSON.Unmarshal(entry.Data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

// ValidKey accepts keys usable by every store: non-empty dotted tokens of
// letters, digits, '-', '_' and '='.
func ValidKey(key string) error {
	if key == "" || key[0] == '.' || key[len(key)-1] == '.' {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '=':
		case c == '.' && key[i-1] != '.':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
