package postgres

import (
	"context"
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolScope/internal/checkpoint"
	"poolScope/internal/model"
)

var _ checkpoint.Store = (*CheckpointStore)(nil)

func TestNumeric(t *testing.T) {
	n := numeric(nil)
	assert.True(t, n.Valid)
	assert.Equal(t, 0, n.Int.Sign())

	value := big.NewInt(123456789)
	n = numeric(value)
	value.SetInt64(1)
	assert.Equal(t, 0, n.Int.Cmp(big.NewInt(123456789)), "numeric must copy its input")
	assert.Equal(t, int32(0), n.Exp)
}

func TestNewStoreRequiresDSN(t *testing.T) {
	_, err := NewStore(context.Background(), "")
	require.Error(t, err)
}

// TestCheckpointStoreRoundTrip runs against a live database when POOLSCOPE_TEST_PG_DSN is set.
func TestCheckpointStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("POOLSCOPE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("POOLSCOPE_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.EnsureSchema(ctx))

	pools := []model.Pool{{
		Address:  common.HexToAddress("0x0000000000000000000000000000000000001001"),
		TokenA:   common.HexToAddress("0x000000000000000000000000000000000000aaaa"),
		TokenB:   common.HexToAddress("0x000000000000000000000000000000000000bbbb"),
		Reserve0: big.NewInt(10),
		Reserve1: big.NewInt(20),
		Fee:      300,
	}}
	cp := model.Checkpoint{
		Timestamp:   1700000000,
		BlockNumber: 150,
		Factory:     model.NewFactory(common.HexToAddress("0x00000000000000000000000000000000000000fa"), 10, 300),
		Pools:       pools,
	}

	checkpoints := store.Checkpoints()
	require.NoError(t, checkpoints.Save(ctx, t.Name(), cp))
	got, ok, err := checkpoints.Load(ctx, t.Name())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, cp.Equal(got))

	require.NoError(t, store.WritePools(ctx, cp.BlockNumber, pools))
}
