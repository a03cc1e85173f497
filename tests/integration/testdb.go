// Package integration runs the points services against a real PostgreSQL
// started with testcontainers.
package integration

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/loyalty/points/internal/infrastructure/migration"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// one container per package run, migrated once
var pg struct {
	mu        sync.Mutex
	container *tcpostgres.PostgresContainer
	dsn       string
}

// postgresDB connects to the package container, starting and migrating it on
// first use, and empties every points table so each test starts clean
func postgresDB(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dsn := containerDSN(t)
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), SkipDefaultTransaction: true}
	if os.Getenv("TEST_DB_DEBUG") != "" {
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}
	db, err := gorm.Open(gormpostgres.Open(dsn), cfg)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// enough connections for the concurrency tests to contend on row locks
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	t.Cleanup(func() { _ = sqlDB.Close() })

	truncateAll(t, db)
	return db
}

func containerDSN(t *testing.T) string {
	t.Helper()
	pg.mu.Lock()
	defer pg.mu.Unlock()
	if pg.container != nil {
		return pg.dsn
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("points_it"),
		tcpostgres.WithUsername("points"),
		tcpostgres.WithPassword("points"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err, "start postgres container")
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sqlDB, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer sqlDB.Close()
	m, err := migration.New(sqlDB, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up(), "apply embedded migrations")

	pg.container, pg.dsn = container, dsn
	return dsn
}

func truncateAll(t *testing.T, db *gorm.DB) {
	t.Helper()
	var tables []string
	require.NoError(t, db.Raw(`SELECT tablename FROM pg_tables
		WHERE schemaname = 'public' AND tablename <> 'schema_migrations'`).Scan(&tables).Error)
	if len(tables) == 0 {
		return
	}
	require.NoError(t, db.Exec("TRUNCATE TABLE "+strings.Join(tables, ", ")+" CASCADE").Error)
}

// terminatePostgres stops the package container; TestMain calls it after m.Run
func terminatePostgres() {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	if pg.container == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = pg.container.Terminate(ctx)
	pg.container, pg.dsn = nil, ""
}
