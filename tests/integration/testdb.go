// Package integration runs the migration service against real PostgreSQL and
// Redis instances started with testcontainers. Skipped with -short.
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/schema"
	"github.com/lukgber-glitch/operate-sub002/migrations"
)

var (
	pgOnce sync.Once
	pgDSN  string
	pgErr  error

	redisOnce sync.Once
	redisAddr string
	redisErr  error
)

// TestDB is a GORM connection to the shared, migrated PostgreSQL container
type TestDB struct {
	DB  *gorm.DB
	DSN string
	t   *testing.T
}

func skipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
}

// NewTestDB returns a connection to the shared container with every table emptied.
// The container is started and migrated once per package run.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	skipIfShort(t)

	pgOnce.Do(func() { pgDSN, pgErr = startPostgres() })
	require.NoError(t, pgErr, "start postgres container")

	db, err := gorm.Open(gormpostgres.Open(pgDSN), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	tdb := &TestDB{DB: db, DSN: pgDSN, t: t}
	tdb.CleanTables()
	return tdb
}

// CleanTables truncates every table except the schema bookkeeping
func (tdb *TestDB) CleanTables() {
	tdb.t.Helper()
	var tables []string
	require.NoError(tdb.t, tdb.DB.Raw(`
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public' AND tablename != 'schema_migrations'
	`).Scan(&tables).Error)
	for _, table := range tables {
		require.NoError(tdb.t, tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %q CASCADE", table)).Error)
	}
}

func startPostgres() (string, error) {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("operate_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return "", err
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", err
	}

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return "", err
	}
	m, err := schema.New(sqlDB, migrations.FS, zap.NewNop())
	if err != nil {
		_ = sqlDB.Close()
		return "", err
	}
	if err := m.Up(); err != nil {
		_ = m.Close()
		return "", err
	}
	return dsn, m.Close()
}

// NewTestRedis returns a client on the shared Redis container with the keyspace flushed
func NewTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	skipIfShort(t)

	redisOnce.Do(func() { redisAddr, redisErr = startRedis() })
	require.NoError(t, redisErr, "start redis container")

	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.FlushDB(context.Background()).Err())
	return client
}

func startRedis() (string, error) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return "", err
	}
	host, err := container.Host(ctx)
	if err != nil {
		return "", err
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}
