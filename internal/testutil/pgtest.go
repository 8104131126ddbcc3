// Package testutil provides shared test infrastructure for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/mbd888/jobads/migrations"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

var (
	containerOnce sync.Once
	containerURL  string
	containerErr  error
)

// PGTest opens a test database connection, applies the embedded migrations,
// and returns the *sql.DB plus a cleanup function.
//
// Tests should call this at the top:
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
//
// POSTGRES_URL selects an existing server. Otherwise a throwaway container
// is started once per test binary; if Docker is unavailable the test is
// skipped. The cleanup function truncates all application tables.
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		dbURL = startContainer(t)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("pgtest: open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: connect to database: %v", err)
	}

	ctx := context.Background()
	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: run migrations: %v", err)
	}
	truncateAll(ctx, db)

	cleanup := func() {
		truncateAll(ctx, db)
		_ = db.Close()
	}

	return db, cleanup
}

// startContainer runs postgres in Docker. The container lives for the rest
// of the test binary and is reaped by the testcontainers ryuk sidecar.
func startContainer(t *testing.T) string {
	t.Helper()

	containerOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		var ctr *tcpostgres.PostgresContainer
		ctr, containerErr = tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("jobads"),
			tcpostgres.WithUsername("jobads"),
			tcpostgres.WithPassword("jobads"),
			tcpostgres.BasicWaitStrategies(),
		)
		if containerErr != nil {
			if ctr != nil {
				_ = testcontainers.TerminateContainer(ctr)
			}
			return
		}
		containerURL, containerErr = ctr.ConnectionString(ctx, "sslmode=disable")
	})

	if containerErr != nil {
		t.Skipf("POSTGRES_URL not set and no Docker available: %v", containerErr)
	}
	return containerURL
}

// resetSQL empties every application table in one statement. The goose
// version table is kept so migrations are not replayed.
const resetSQL = `DO $$
DECLARE stmt text;
BEGIN
	SELECT 'TRUNCATE ' || string_agg(quote_ident(tablename), ', ') || ' RESTART IDENTITY CASCADE'
	  INTO stmt
	  FROM pg_tables
	 WHERE schemaname = 'public' AND tablename <> 'goose_db_version';
	IF stmt IS NOT NULL THEN
		EXECUTE stmt;
	END IF;
END $$`

func truncateAll(ctx context.Context, db *sql.DB) {
	_, _ = db.ExecContext(ctx, resetSQL)
}
