// Package testutil provides shared test infrastructure for integration tests
// that require a Postgres container with pgvector.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc := testutil.MustStartPostgres()
//	    defer tc.Terminate()
//	    testDB, _ = tc.NewTestDB(context.Background(), logger)
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/accordo-ai/accordo/internal/storage"
	"github.com/accordo-ai/accordo/migrations"
)

const pgImage = "pgvector/pgvector:pg17"

// TestContainer wraps a running Postgres container and its DSN.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "testutil: "+format+"\n", args...)
	os.Exit(1)
}

// MustStartPostgres starts a Postgres container with the pgvector extension
// pre-created. Exits the process on failure (suitable for TestMain).
func MustStartPostgres() *TestContainer {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        pgImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "accordo",
				"POSTGRES_PASSWORD": "accordo",
				"POSTGRES_DB":       "accordo",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fatalf("start container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fatalf("container port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://accordo:accordo@%s:%s/accordo?sslmode=disable", host, port.Port())

	// The extension must exist before any pool connects, or the pool's
	// AfterConnect hook cannot register the vector types.
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		fatalf("bootstrap connection: %v", err)
	}
	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		fatalf("create vector extension: %v", err)
	}
	_ = conn.Close(ctx)

	return &TestContainer{Container: container, DSN: dsn}
}

// NewTestDB opens a storage.DB against the container and applies all
// migrations.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger suitable for test output (warnings and up).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
