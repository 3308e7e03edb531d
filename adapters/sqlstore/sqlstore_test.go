package sqlstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRebindDollar(t *testing.T) {
	require.Equal(t, "SELECT 1", RebindDollar("SELECT 1"))
	require.Equal(t, "a = $1 AND b = $2 LIMIT $3", RebindDollar("a = ? AND b = ? LIMIT ?"))
}

func TestNew_Validates(t *testing.T) {
	_, err := New(t.Context(), Config{})
	require.Error(t, err)
}
