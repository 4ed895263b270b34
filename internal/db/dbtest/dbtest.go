// Package dbtest starts a throwaway CockroachDB for repository integration tests.
package dbtest

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"videodate-platform/internal/db"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// EnvFlag enables integration tests when set to 1.
const EnvFlag = "VIDEODATE_INTEGRATION"

// Open returns a migrated database, or skips the test when integration tests are disabled.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	if os.Getenv(EnvFlag) != "1" {
		t.Skipf("set %s=1 to run Postgres integration tests", EnvFlag)
	}

	server, err := testserver.NewTestServer()
	if err != nil {
		t.Fatalf("start cockroach test server: %v", err)
	}
	t.Cleanup(server.Stop)

	conn, err := sql.Open("pgx", server.PGURL().String())
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := db.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return conn
}

// Exec runs seed statements and fails the test on error.
func Exec(t *testing.T, conn *sql.DB, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		if _, err := conn.ExecContext(context.Background(), s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
}
