package storage

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolScope/internal/model"
)

func samplePools() []model.Pool {
	huge, _ := new(big.Int).SetString("5192296858534827628530496329220095", 10)
	return []model.Pool{
		{
			Address:        common.HexToAddress("0x0000000000000000000000000000000000001001"),
			TokenA:         common.HexToAddress("0x000000000000000000000000000000000000aaaa"),
			TokenADecimals: 18,
			TokenB:         common.HexToAddress("0x000000000000000000000000000000000000bbbb"),
			TokenBDecimals: 6,
			Reserve0:       huge,
			Reserve1:       big.NewInt(42),
			Fee:            300,
		},
		{
			Address:  common.HexToAddress("0x0000000000000000000000000000000000001002"),
			TokenA:   common.HexToAddress("0x000000000000000000000000000000000000aaaa"),
			TokenB:   common.HexToAddress("0x000000000000000000000000000000000000cccc"),
			Reserve0: big.NewInt(7),
			Reserve1: big.NewInt(9),
			Fee:      250,
		},
	}
}

func TestJsonlStorageAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "pools.jsonl")
	sink := NewJsonlStorage(path)
	pools := samplePools()

	require.NoError(t, sink.WritePools(context.Background(), 100, pools))
	require.NoError(t, sink.WritePools(context.Background(), 150, pools[:1]))
	require.NoError(t, sink.WritePools(context.Background(), 200, nil))

	records, err := ReadJsonl(path)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, uint64(100), records[0].BlockNumber)
	assert.True(t, pools[0].Equal(records[0].Pool), "pool changed across encode/decode")
	assert.True(t, pools[1].Equal(records[1].Pool))
	assert.Equal(t, uint64(150), records[2].BlockNumber)
}

type failingSink struct{ err error }

func (f failingSink) WritePools(context.Context, uint64, []model.Pool) error { return f.err }

func TestMultiJoinsFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.jsonl")
	errSink := errors.New("sink down")
	multi := Multi{failingSink{err: errSink}, NewJsonlStorage(path), nil}

	err := multi.WritePools(context.Background(), 1, samplePools())
	assert.ErrorIs(t, err, errSink)

	records, readErr := ReadJsonl(path)
	require.NoError(t, readErr)
	assert.Len(t, records, 2, "later sinks still run after a failure")
}
