package nats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestES_Checkpoint(t *testing.T) {
	connectNATS := NewTestContainer(t)

	_, err := NewCpStore(CpStoreConfig{Bucket: "cp", Connect: connectNATS})
	require.Error(t, err)

	cp, err := NewCpStore(CpStoreConfig{
		Bucket:   "cp",
		Consumer: "projection/company-index",
		Connect:  connectNATS,
	})
	require.NoError(t, err)

	lastSeq, err := cp.Get(t.Context())
	require.NoError(t, err)
	require.Equal(t, uint64(0), lastSeq)

	require.NoError(t, cp.Set(t.Context(), 123))

	lastSeq, err = cp.Get(t.Context())
	require.NoError(t, err)
	require.Equal(t, uint64(123), lastSeq)
}
