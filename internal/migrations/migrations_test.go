package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/require"
)

func TestDriverURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@db:5432/toko?sslmode=disable", DriverURL("postgres://u:p@db:5432/toko?sslmode=disable"))
	require.Equal(t, "pgx5://db/toko", DriverURL("postgresql://db/toko"))
	require.Equal(t, "pgx5://db/toko", DriverURL("pgx5://db/toko"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(files, "sql")
	require.NoError(t, err)
	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	require.Equal(t, 3, ups)
	require.Equal(t, ups, downs)

	src, err := iofs.New(files, "sql")
	require.NoError(t, err)
	first, err := src.First()
	require.NoError(t, err)
	require.Equal(t, uint(1), first)
	next, err := src.Next(first)
	require.NoError(t, err)
	require.Equal(t, uint(2), next)
	next, err = src.Next(next)
	require.NoError(t, err)
	require.Equal(t, uint(3), next)
}

func TestTransactionIDIsUnique(t *testing.T) {
	up, err := fs.ReadFile(files, "sql/000003_orders_transaction_unique.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(up), "CREATE UNIQUE INDEX")
	require.Contains(t, string(up), "orders (transaction_id)")
}
