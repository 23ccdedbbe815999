package postgres

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Options_DSN(t *testing.T) {
	o := newOptions(true, nil)
	require.Equal(t, "host=db port=5432 user=u password=p dbname=tasks sslmode=disable", o.dsn("db", 5432, "u", "p", "tasks"))

	o = newOptions(true, []option{WithSSLMode("verify-full")})
	require.Equal(t, "host=db port=5432 user=u password=p dbname=tasks sslmode=verify-full", o.dsn("db", 5432, "u", "p", "tasks"))
}

func Test_Options_ExistingPoolSkipsMigrations(t *testing.T) {
	require.False(t, newOptions(false, nil).ApplyMigrations)
	require.True(t, newOptions(false, []option{WithApplyMigrations(true)}).ApplyMigrations)
}

func Test_Options_Configure(t *testing.T) {
	o := newOptions(true, []option{WithMaxOpenConns(2)})

	// Opening does not connect
	db, err := sql.Open("pgx", o.dsn("localhost", 5432, "u", "p", "tasks"))
	require.NoError(t, err)
	defer db.Close()

	o.configure(db)
	require.Equal(t, 2, db.Stats().MaxOpenConnections)
}
