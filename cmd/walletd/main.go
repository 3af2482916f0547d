// Command walletd runs the wallet runtime as a service and talks to it.
//
//	walletd serve --config walletd.yaml
//	walletd send '{"type":"ListAccounts"}'
//	walletd version
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
