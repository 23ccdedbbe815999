package mysql

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/backend/test"
)

const testUser = "root"
const testPassword = "root"

// Creating and dropping databases is terribly inefficient, but easiest for complete test isolation.

func setupDatabase() string {
	db, err := sql.Open("mysql", fmt.Sprintf("%s:%s@/?parseTime=true&interpolateParams=true", testUser, testPassword))
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

	db, err := sql.Open("mysql", fmt.Sprintf("%s:%s@/?parseTime=true&interpolateParams=true", testUser, testPassword))
	if err != nil {
		panic(err)
	}
	defer db.Close()

	if _, err := db.Exec("DROP DATABASE IF EXISTS " + dbName); err != nil {
		panic(fmt.Errorf("dropping database: %w", err))
	}
}

func Test_MysqlBackend(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	var dbName string

	test.BackendTest(t, func(options ...backend.BackendOption) backend.Backend {
		dbName = setupDatabase()

		return NewMysqlBackend("localhost", 3306, testUser, testPassword, dbName, WithBackendOptions(options...))
	}, func(b backend.Backend) {
		teardownDatabase(b, dbName)
	})
}

func Test_EndToEndMysqlBackend(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	var dbName string

	test.EndToEndBackendTest(t, func(options ...backend.BackendOption) backend.Backend {
		dbName = setupDatabase()

		return NewMysqlBackend("localhost", 3306, testUser, testPassword, dbName, WithBackendOptions(options...))
	}, func(b backend.Backend) {
		teardownDatabase(b, dbName)
	})
}
