package postgres

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/backend/test"
)

const testUser = "postgres"
const testPassword = "root"

// Creating and dropping databases is terribly inefficient, but easiest for complete test isolation. For
// the future consider nested transactions, or manually TRUNCATE-ing the tables in-between tests.

func setupDatabase() string {
	db, err := sql.Open("pgx", fmt.Sprintf("host=localhost port=5432 user=%s password=%s sslmode=disable", testUser, testPassword))
	if err != nil {
		panic(err)
	}
	defer db.Close()

	dbName := "test_" + strings.Replace(uuid.NewString(), "-", "", -1)
	if _, err := db.Exec("CREATE DATABASE " + dbName); err != nil {
		panic(fmt.Errorf("creating database: %w", err))
	}

	return dbName
}

func teardownDatabase(b backend.Backend, dbName string) {
	if err := b.Close(); err != nil {
		panic(err)
	}

	db, err := sql.Open("pgx", fmt.Sprintf("host=localhost port=5432 user=%s password=%s sslmode=disable", testUser, testPassword))
	if err != nil {
		panic(err)
	}
	defer db.Close()

	if _, err := db.Exec("DROP DATABASE IF EXISTS " + dbName + " WITH (FORCE)"); err != nil {
		panic(fmt.Errorf("dropping database: %w", err))
	}
}

func Test_PostgresBackend(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	var dbName string

	test.BackendTest(t, func(options ...backend.BackendOption) backend.Backend {
		dbName = setupDatabase()

		return NewPostgresBackend("localhost", 5432, testUser, testPassword, dbName, WithBackendOptions(options...))
	}, func(b backend.Backend) {
		teardownDatabase(b, dbName)
	})
}

func TestPostgresBackendE2E(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	var dbName string

	test.EndToEndBackendTest(t, func(options ...backend.BackendOption) backend.Backend {
		dbName = setupDatabase()

		return NewPostgresBackend("localhost", 5432, testUser, testPassword, dbName, WithBackendOptions(options...))
	}, func(b backend.Backend) {
		teardownDatabase(b, dbName)
	})
}
