// Package dblock serializes test packages that share one ledger database.
// `go test ./...` runs packages in parallel, and their fixtures truncate
// the same tables.
package dblock

import (
	"fmt"
	"net"
	"os"
	"time"
)

const (
	defaultAddr = "127.0.0.1:45433"
	pollEvery   = 50 * time.Millisecond
	giveUpAfter = 10 * time.Minute
)

// Acquire blocks until this process holds the lock and returns its release
// func. The lock is a listening socket, so it dies with the process.
func Acquire() func() {
	addr := os.Getenv("LEDGER_TEST_LOCK_ADDR")
	if addr == "" {
		addr = defaultAddr
	}

	deadline := time.Now().Add(giveUpAfter)
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { _ = ln.Close() }
		}
		if time.Now().After(deadline) {
			panic(fmt.Sprintf("dblock: %s still held after %s: %v", addr, giveUpAfter, err))
		}
		time.Sleep(pollEvery)
	}
}
