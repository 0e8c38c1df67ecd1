//go:build integration

package logindb_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/silvematt/NECRO-MMO/internal/logindb"
	"github.com/silvematt/NECRO-MMO/internal/testutil"
)

func TestCatalogueStatementsRunAgainstRealSchema(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	ctx := context.Background()
	cat := logindb.Catalogue{}

	_, err := pool.Exec(ctx, `INSERT INTO users (username, password) VALUES ($1, $2)`, "matt", "124")
	require.NoError(t, err)

	sel, err := cat.SQL(logindb.SelAccountIDByName)
	require.NoError(t, err)
	var id int32
	require.NoError(t, pool.QueryRow(ctx, sel, "matt").Scan(&id))
	require.NotZero(t, id)

	chk, err := cat.SQL(logindb.CheckPassword)
	require.NoError(t, err)
	var password string
	require.NoError(t, pool.QueryRow(ctx, chk, id).Scan(&password))
	require.Equal(t, "124", password)

	insSession, err := cat.SQL(logindb.InsNewSession)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, insSession, id, []byte("0123456789abcdef"), "127.0.0.1:5555", []byte("fedcba9876543210"))
	require.NoError(t, err)

	delSessions, err := cat.SQL(logindb.DelPrevSessions)
	require.NoError(t, err)
	tag, err := pool.Exec(ctx, delSessions, id)
	require.NoError(t, err)
	require.Equal(t, int64(1), tag.RowsAffected())

	insLog, err := cat.SQL(logindb.InsLogWrongPassword)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, insLog, "127.0.0.1:5555", "matt", "WRONG_PASSWORD")
	require.NoError(t, err)

	keepAlive, err := cat.SQL(logindb.KeepAlive)
	require.NoError(t, err)
	var one int
	require.NoError(t, pool.QueryRow(ctx, keepAlive).Scan(&one))
	require.Equal(t, 1, one)
}
