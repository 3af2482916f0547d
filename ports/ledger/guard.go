package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/codewandler/walletrt-go/core/cache"
	"github.com/codewandler/walletrt-go/core/metrics"
	"github.com/codewandler/walletrt-go/core/sf"
)

type GuardOptions struct {
	Logger *slog.Logger
	// CacheSize is the number of confirmed transactions kept in memory
	// (default 4096). Negative disables the cache.
	CacheSize int
	CacheTTL  time.Duration
	// MaxFailures consecutive failures open the breaker (default 5).
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open (default 10s).
	OpenTimeout time.Duration
	// Timer measures ledger calls by operation name.
	Timer func(op string) metrics.Timer
}

// Guard wraps a Client with request deduplication for balance lookups, a
// cache of confirmed transactions and a circuit breaker. Business errors
// (unknown transaction, insufficient funds) don't trip the breaker.
type Guard struct {
	client   Client
	log      *slog.Logger
	timer    func(op string) metrics.Timer
	balances sf.Group[map[string]decimal.Decimal]
	lru      cache.Cache
	txs      cache.TypedCache[Transaction]
	ttl      time.Duration
	breaker  *gobreaker.CircuitBreaker
}

func NewGuard(client Client, opts GuardOptions) *Guard {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = 4096
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 10 * time.Second
	}
	if opts.Timer == nil {
		opts.Timer = func(string) metrics.Timer { return metrics.NopTimer() }
	}

	log := opts.Logger.With(slog.String("component", "ledger"))

	var lru cache.Cache = cache.NewNop()
	if opts.CacheSize > 0 {
		lru = cache.NewLRU(cache.LRUOpts{Size: opts.CacheSize})
	}

	maxFailures := opts.MaxFailures
	return &Guard{
		client: client,
		log:    log,
		timer:  opts.Timer,
		lru:    lru,
		txs:    cache.NewTyped[Transaction](lru),
		ttl:    opts.CacheTTL,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "ledger",
			Timeout: opts.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= maxFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil ||
					errors.Is(err, ErrUnknownTransaction) ||
					errors.Is(err, ErrInsufficientFunds) ||
					errors.Is(err, ErrInvalidTransfer) ||
					errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("ledger circuit breaker changed state",
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		}),
	}
}

func (g *Guard) Balances(ctx context.Context, addrs []string) (map[string]decimal.Decimal, error) {
	sorted := append([]string(nil), addrs...)
	sort.Strings(sorted)
	key := strings.Join(sorted, ",")

	shared, _, err := g.balances.Do(key, func() (map[string]decimal.Decimal, error) {
		return call(g, "balances", func() (map[string]decimal.Decimal, error) {
			return g.client.Balances(ctx, sorted)
		})
	})
	if err != nil {
		return nil, err
	}
	// callers sharing a result must not share the map
	out := make(map[string]decimal.Decimal, len(shared))
	for k, v := range shared {
		out[k] = v
	}
	return out, nil
}

func (g *Guard) Transactions(ctx context.Context, addrs []string) ([]Transaction, error) {
	txs, err := call(g, "transactions", func() ([]Transaction, error) {
		return g.client.Transactions(ctx, addrs)
	})
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		g.remember(tx)
	}
	return txs, nil
}

func (g *Guard) Transaction(ctx context.Context, hash string) (Transaction, error) {
	if tx, ok := g.txs.Get(hash); ok {
		return tx, nil
	}
	tx, err := call(g, "transaction", func() (Transaction, error) {
		return g.client.Transaction(ctx, hash)
	})
	if err != nil {
		return Transaction{}, err
	}
	g.remember(tx)
	return tx, nil
}

func (g *Guard) Broadcast(ctx context.Context, t Transfer) (Transaction, error) {
	return call(g, "broadcast", func() (Transaction, error) {
		return g.client.Broadcast(ctx, t)
	})
}

// State returns the breaker state: "closed", "half-open" or "open".
func (g *Guard) State() string { return g.breaker.State().String() }

func (g *Guard) Close() {
	if c, ok := g.lru.(interface{ Close() }); ok {
		c.Close()
	}
}

func (g *Guard) remember(tx Transaction) {
	if tx.Confirmed {
		g.txs.Put(tx.Hash, tx, cache.WithTTL(g.ttl))
	}
}

func call[T any](g *Guard, op string, fn func() (T, error)) (T, error) {
	defer g.timer(op).ObserveDuration()

	v, err := g.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %s", ErrUnavailable, err)
		}
		return zero, err
	}
	return v.(T), nil
}

var _ Client = (*Guard)(nil)
