package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/codewandler/walletrt-go/adapters/nats"
	"github.com/codewandler/walletrt-go/binding"
	"github.com/codewandler/walletrt-go/core/envelope"
	wrt "github.com/codewandler/walletrt-go/core/runtime"
	"github.com/codewandler/walletrt-go/ports/ledger"
)

// === Config ===

// NOTE: run nats: docker run -v "/tmp/nats/jetstream:/tmp/nats/jetstream" --net=host nats:latest -js

var (
	logLevel    = slog.LevelWarn
	N           = getEnvInt("N", 50_000)
	batchSize   = getEnvInt("B", 5_000)
	accounts    = getEnvInt("A", 16)
	concurrency = getEnvInt("C", 256)
	mailboxSize = getEnvInt("MAILBOX", 1024)
	backendType = getEnv("BACKEND", "memory")
	withLatency = getEnvBool("LATENCY", false)
)

func getEnvBool(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	return v == "1" || strings.ToLower(v) == "true"
}

func getEnv(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, fmt.Sprintf("%d", fallback)))
	if err != nil {
		return fallback
	}
	return v
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	fmt.Printf("Messages: %d\n", N)
	fmt.Printf("Accounts: %d\n", accounts)
	fmt.Printf("In flight: %d\n", concurrency)
	fmt.Printf("Backend: %s\n", backendType)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	var latency time.Duration
	if withLatency {
		latency = 2 * time.Millisecond
	}
	mem := ledger.NewMemLedger(ledger.MemLedgerOptions{Latency: latency})

	opts := []binding.Option{
		binding.WithLogger(log),
		binding.WithLedger(mem),
		binding.WithMailboxSize(mailboxSize),
	}
	if backendType == "nats" {
		store, err := nats.NewKvStore(nats.KvConfig{
			Connect: nats.ConnectDefault(),
			Bucket:  "loadtest_accounts",
			TTL:     5 * time.Minute,
		})
		checkErr(err)
		defer store.Close()
		opts = append(opts, binding.WithStore(store))
	}
	checkErr(binding.Init(opts...))

	// === accounts ===

	ids := make([]string, accounts)
	for i := range ids {
		resp, err := call(ctx, fmt.Sprintf(`{"type":"CreateAccount","payload":{"alias":"load-%d"}}`, i))
		checkErr(err)
		var view struct {
			ID        string `json:"id"`
			Addresses []struct {
				Address string `json:"address"`
			} `json:"addresses"`
		}
		checkErr(json.Unmarshal(resp.Payload, &view))
		mem.Fund(view.Addresses[0].Address, decimal.NewFromInt(1_000))
		ids[i] = view.ID
	}

	// === START ===

	log.Info("==================================")
	log.Info("Starting ...")

	var (
		ok, failed, rejected atomic.Int64
		startAt              = time.Now()
		lastTime             = startAt
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := 0; i < N; i++ {
		msg := messageFor(i, ids[i%len(ids)])
		g.Go(func() error {
			resp, err := call(gctx, msg)
			switch {
			case errors.Is(err, wrt.ErrBackpressure):
				rejected.Add(1)
				return nil
			case err != nil:
				return err
			case resp.Type == envelope.FrameTypeError:
				failed.Add(1)
			default:
				ok.Add(1)
			}
			return nil
		})

		if i > 0 && i%batchSize == 0 {
			mu := getMemUsage()

			n := time.Now()
			took := n.Sub(lastTime)
			fmt.Printf(" | %5d msgs | %6d ms |  %6d msgs/s | (%d / %d) MiB mem (sys) |\n", batchSize, took.Milliseconds(), int(float64(batchSize)/took.Seconds()), mu.Alloc/1024/1024, mu.Sys/1024/1024)
			lastTime = n
		}
	}
	checkErr(g.Wait())

	// === stats ===
	println("")
	println("==========================================")

	took := time.Since(startAt)
	runtime.GC()

	fmt.Printf("total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf("     answered: %d\n", ok.Load())
	fmt.Printf("       failed: %d\n", failed.Load())
	fmt.Printf("     rejected: %d\n", rejected.Load())
	fmt.Printf("  avg. msgs/s: %d\n", int(float64(N)/took.Seconds()))

	checkErr(binding.Shutdown(ctx))
}

// messageFor mixes reads, address generation and ledger syncs.
func messageFor(i int, accountID string) string {
	switch i % 10 {
	case 0:
		return fmt.Sprintf(`{"type":"SyncAccount","payload":{"accountId":%q}}`, accountID)
	case 1:
		return fmt.Sprintf(`{"type":"GenerateAddress","payload":{"accountId":%q}}`, accountID)
	default:
		return fmt.Sprintf(`{"type":"GetBalance","payload":{"accountId":%q}}`, accountID)
	}
}

func call(ctx context.Context, msg string) (envelope.Frame, error) {
	ch := make(chan string, 1)
	if err := binding.SendMessage(msg, func(resp string) { ch <- resp }); err != nil {
		return envelope.Frame{}, err
	}
	select {
	case resp := <-ch:
		return envelope.DecodeFrame([]byte(resp))
	case <-ctx.Done():
		return envelope.Frame{}, ctx.Err()
	}
}

// === stats helpers ===

type MemUsage struct {
	Alloc      uint64 // bytes allocated and not yet freed (heap)
	TotalAlloc uint64 // cumulative bytes allocated
	Sys        uint64 // total bytes obtained from OS
	NumGC      uint32 // gc cycles
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

// === Helpers ===

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}
