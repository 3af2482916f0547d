package nats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/walletrt-go/ports/kv"
)

// ErrPerKeyTTL is returned by Put when a TTL is requested. Expiry is a
// property of the whole bucket, see KvConfig.TTL.
var ErrPerKeyTTL = errors.New("nats kv: per-key ttl is not supported")

type KvConfig struct {
	Connect Connector
	Bucket  string
	// TTL expires every key of the bucket. Zero keeps keys forever.
	TTL time.Duration
	// History is the number of revisions kept per key (default 1).
	History uint8
	// MaxBytes caps the bucket size (default unlimited).
	MaxBytes int64
	Storage  jetstream.StorageType
}

// KvStore is a [kv.Store] on a JetStream key-value bucket.
type KvStore struct {
	kv      jetstream.KeyValue
	closeNc closeFunc
}

func NewKvStore(cfg KvConfig) (*KvStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}
	if cfg.History == 0 {
		cfg.History = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = -1
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		History:  cfg.History,
		TTL:      cfg.TTL,
		MaxBytes: cfg.MaxBytes,
		Storage:  cfg.Storage,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("create kv bucket %s: %w", cfg.Bucket, err)
	}

	return &KvStore{kv: bucket, closeNc: closeNc}, nil
}

func (k *KvStore) Put(ctx context.Context, key string, entry kv.Entry, opts kv.PutOptions) error {
	if err := kv.ValidKey(key); err != nil {
		return err
	}
	if opts.TTL > 0 {
		return ErrPerKeyTTL
	}
	if _, err := k.kv.Put(ctx, key, entry.Data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	if err := kv.ValidKey(key); err != nil {
		return kv.Entry{}, err
	}
	v, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return kv.Entry{}, fmt.Errorf("%w: %s", kv.ErrNotFound, key)
		}
		return kv.Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	return kv.Entry{Data: v.Value(), Revision: v.Revision()}, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	if err := kv.ValidKey(key); err != nil {
		return err
	}
	if err := k.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	lister, err := k.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for key := range lister.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close releases the connection.
func (k *KvStore) Close() { k.closeNc() }

var _ kv.Store = (*KvStore)(nil)
