package database

import (
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withFastRetries(t *testing.T, retries int) {
	t.Helper()

	originalRetries := maxRetries
	originalInterval := retryInterval
	maxRetries = retries
	retryInterval = 50 * time.Millisecond
	t.Cleanup(func() {
		maxRetries = originalRetries
		retryInterval = originalInterval
	})
}

func TestNewMigrationRunner(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	runner := NewMigrationRunner(db)

	assert.NotNil(t, runner)
	assert.Equal(t, db, runner.db)
	assert.Equal(t, migrationsDir, runner.dir)
}

func TestEmbeddedMigrations_ArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir)
	require.NoError(t, err)

	var ups, downs []string
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups = append(ups, strings.TrimSuffix(name, ".up.sql"))
		case strings.HasSuffix(name, ".down.sql"):
			downs = append(downs, strings.TrimSuffix(name, ".down.sql"))
		}
	}
	sort.Strings(ups)
	sort.Strings(downs)

	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestEmbeddedMigrations_CreateLedgerTables(t *testing.T) {
	body, err := fs.ReadFile(migrationsFS, "migrations/000002_create_ledgers.up.sql")
	require.NoError(t, err)

	sql := string(body)
	assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS ledgers")
	assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS ledger_transactions")
	assert.Contains(t, sql, "chk_ledger_transactions_sign")
}

func TestWaitForDatabase_Success(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(nil)

	runner := NewMigrationRunner(db)
	err = runner.WaitForDatabase()

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitForDatabase_FailureThenSuccess(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	withFastRetries(t, 2)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectPing().WillReturnError(nil)

	runner := NewMigrationRunner(db)
	err = runner.WaitForDatabase()

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitForDatabase_AlwaysFails(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	withFastRetries(t, 2)

	for i := 0; i < maxRetries; i++ {
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	}

	runner := NewMigrationRunner(db)
	err = runner.WaitForDatabase()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database not ready after")
}

func TestMigrationsEnabled(t *testing.T) {
	original := os.Getenv("AUTO_MIGRATE")
	defer os.Setenv("AUTO_MIGRATE", original)

	os.Setenv("AUTO_MIGRATE", "false")
	assert.False(t, MigrationsEnabled())

	os.Setenv("AUTO_MIGRATE", "true")
	assert.True(t, MigrationsEnabled())
}

func TestSetupTestDB_CreatesLedgerTables(t *testing.T) {
	db := SetupTestDB(t)

	assert.True(t, db.Migrator().HasTable("ledgers"))
	assert.True(t, db.Migrator().HasTable("ledger_transactions"))
	assert.True(t, db.Migrator().HasTable("users"))
	assert.NoError(t, db.HealthCheck())
}
