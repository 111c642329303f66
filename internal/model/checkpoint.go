package model

import "github.com/ethereum/go-ethereum/common"

// Checkpoint is the persisted result of a successful sync: every known pool of a
// factory as of BlockNumber.
type Checkpoint struct {
	Timestamp   int64   `json:"timestamp"`
	BlockNumber uint64  `json:"blockNumber"`
	Factory     Factory `json:"factory"`
	Pools       []Pool  `json:"pools"`
}

// Equal compares two checkpoints by value, including pool order.
func (c Checkpoint) Equal(other Checkpoint) bool {
	if c.Timestamp != other.Timestamp || c.BlockNumber != other.BlockNumber || c.Factory != other.Factory {
		return false
	}
	if len(c.Pools) != len(other.Pools) {
		return false
	}
	for i := range c.Pools {
		if !c.Pools[i].Equal(other.Pools[i]) {
			return false
		}
	}
	return true
}

// MergePools appends next to prev, de-duplicating by address. A pool present in both
// keeps its original position and takes the data from next.
func MergePools(prev, next []Pool) []Pool {
	index := make(map[common.Address]int, len(prev)+len(next))
	merged := make([]Pool, 0, len(prev)+len(next))
	for _, pools := range [][]Pool{prev, next} {
		for _, pool := range pools {
			if i, ok := index[pool.Address]; ok {
				merged[i] = pool
				continue
			}
			index[pool.Address] = len(merged)
			merged = append(merged, pool)
		}
	}
	return merged
}
