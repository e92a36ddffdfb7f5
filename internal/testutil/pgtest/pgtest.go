// Package pgtest provides a migrated, empty Postgres database for integration tests.
//
// DATABASE_URL wins when set. Otherwise LEDGER_TESTCONTAINERS=1 starts a
// throwaway postgres:16-alpine container shared by the test binary. With
// neither, tests are skipped.
package pgtest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/marketplace-ledger/internal/db"
	"github.com/ayo6706/marketplace-ledger/internal/testutil/dblock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var tables = []string{
	"outbox_events",
	"audit_log",
	"idempotency_keys",
	"clearing_legs",
	"order_timeline",
	"order_balance_credits",
	"orders",
	"payout_requests",
	"credit_transactions",
	"organization_balances",
	"organizations",
}

var (
	once       sync.Once
	sharedURL  string
	sharedErr  error
	migrateMu  sync.Mutex
	migratedTo = map[string]bool{}
	container  testcontainers.Container
)

// Run is the body of a TestMain for packages that touch the database. It
// holds the cross-package lock for the whole run and stops the container,
// if one was started, before returning the exit code.
//
//	func TestMain(m *testing.M) { os.Exit(pgtest.Run(m)) }
func Run(m *testing.M) int {
	release := dblock.Acquire()
	defer release()

	code := m.Run()
	if container != nil {
		if err := container.Terminate(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "pgtest: terminate container: %v\n", err)
		}
	}
	return code
}

func resolveURL() (string, error) {
	once.Do(func() {
		_ = godotenv.Load("../../.env")
		if url := os.Getenv("DATABASE_URL"); url != "" {
			sharedURL = url
			return
		}
		if os.Getenv("LEDGER_TESTCONTAINERS") != "1" {
			return
		}
		sharedURL, sharedErr = startContainer(context.Background())
	})
	return sharedURL, sharedErr
}

func startContainer(ctx context.Context) (string, error) {
	pg, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("ledger_test"),
		tcpostgres.WithUsername("ledger"),
		tcpostgres.WithPassword("ledger"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return "", fmt.Errorf("start postgres container: %w", err)
	}
	url, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pg.Terminate(ctx)
		return "", fmt.Errorf("postgres container connection string: %w", err)
	}
	container = pg
	return url, nil
}

// URL returns a migrated database URL or skips the test.
func URL(t testing.TB) string {
	t.Helper()

	url, err := resolveURL()
	if err != nil {
		t.Fatalf("pgtest: %v", err)
	}
	if url == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set and LEDGER_TESTCONTAINERS!=1")
	}

	migrateMu.Lock()
	defer migrateMu.Unlock()
	if !migratedTo[url] {
		if err := db.Migrate(context.Background(), url); err != nil {
			t.Fatalf("pgtest: migrate: %v", err)
		}
		migratedTo[url] = true
	}
	return url
}

// Open connects to a freshly truncated database. The pool is closed on cleanup.
func Open(t testing.TB) *pgxpool.Pool {
	t.Helper()

	pool, err := db.Connect(context.Background(), URL(t))
	if err != nil {
		t.Fatalf("pgtest: connect: %v", err)
	}
	t.Cleanup(pool.Close)

	for _, table := range tables {
		if _, err := pool.Exec(context.Background(), fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			t.Fatalf("pgtest: truncate %s: %v", table, err)
		}
	}
	return pool
}
