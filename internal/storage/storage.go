package storage

import (
	"context"
	"errors"

	"poolScope/internal/model"
)

// Sink receives the pool set of every saved checkpoint.
type Sink interface {
	WritePools(ctx context.Context, blockNumber uint64, pools []model.Pool) error
}

// PoolRecord is one pool as seen at a block.
type PoolRecord struct {
	BlockNumber uint64 `json:"blockNumber"`
	model.Pool
}

// Multi fans a write out to several sinks. Every sink is attempted; failures are joined.
type Multi []Sink

// WritePools writes pools to each sink in order.
func (m Multi) WritePools(ctx context.Context, blockNumber uint64, pools []model.Pool) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.WritePools(ctx, blockNumber, pools); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
