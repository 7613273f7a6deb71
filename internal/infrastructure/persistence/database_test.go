package persistence

import (
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockDatabase(t *testing.T) (*Database, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return &Database{DB: gormDB}, mock, mockDB
}

func TestDatabase_PingAndClose(t *testing.T) {
	db, mock, _ := newMockDatabase(t)

	mock.ExpectPing()
	require.NoError(t, db.Ping())

	mock.ExpectClose()
	require.NoError(t, db.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_Stats(t *testing.T) {
	db, _, mockDB := newMockDatabase(t)
	defer mockDB.Close()

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.OpenConnections, 0)
}

func TestMigrationJobRepository_FindByID_StoreErrors(t *testing.T) {
	selectJob := regexp.QuoteMeta(`SELECT * FROM "migration_jobs"`)

	t.Run("missing row maps to ErrJobNotFound", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()
		mock.ExpectQuery(selectJob).WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := NewGormMigrationJobRepository(db.DB).FindByID(t.Context(), uuid.New())
		assert.ErrorIs(t, err, migration.ErrJobNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("driver errors propagate", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()
		boom := errors.New("connection reset by peer")
		mock.ExpectQuery(selectJob).WillReturnError(boom)

		_, err := NewGormMigrationJobRepository(db.DB).FindByID(t.Context(), uuid.New())
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, isUniqueViolation(nil))
	assert.True(t, isUniqueViolation(gorm.ErrDuplicatedKey))
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.True(t, isUniqueViolation(errors.New("UNIQUE constraint failed: external_id_mappings.tenant_id")))
	assert.False(t, isUniqueViolation(errors.New("database is locked")))
}
