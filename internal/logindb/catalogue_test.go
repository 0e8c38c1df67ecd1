package logindb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLReturnsStatementForEveryDefinedQuery(t *testing.T) {
	cat := Catalogue{}

	ids := []QueryID{
		SelAccountIDByName,
		CheckPassword,
		InsLogWrongPassword,
		DelPrevSessions,
		InsNewSession,
		KeepAlive,
	}
	for _, id := range ids {
		sql, err := cat.SQL(id)
		require.NoError(t, err, id)
		require.NotEmpty(t, sql, id)
	}
}

func TestSQLErrorsOnUnknownQuery(t *testing.T) {
	cat := Catalogue{}
	_, err := cat.SQL(QueryID(999))
	require.Error(t, err)
}

func TestQueryIDStringIsStable(t *testing.T) {
	require.Equal(t, "sel_account_id_by_name", SelAccountIDByName.String())
	require.Equal(t, "check_password", CheckPassword.String())
	require.Equal(t, "keep_alive", KeepAlive.String())
}
