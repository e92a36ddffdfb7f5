// Command api serves the marketplace ledger HTTP API together with its
// outbox, reconciliation and order-event workers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ayo6706/marketplace-ledger/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "marketplace-ledger: %v\n", err)
		os.Exit(1)
	}
}
