package chain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Caller is the read surface of Client.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// RetryClient retries transport failures of a Caller with exponential backoff.
// Oversized requests and cancelled contexts are returned immediately.
type RetryClient struct {
	next       Caller
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger
}

func NewRetryClient(next Caller, maxRetries int, baseDelay time.Duration, logger *zap.Logger) *RetryClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryClient{next: next, maxRetries: maxRetries, baseDelay: baseDelay, logger: logger}
}

func (r *RetryClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := withRetry(ctx, r.maxRetries, r.baseDelay, func(ctx context.Context) error {
		var err error
		out, err = r.next.CallContract(ctx, msg, blockNumber)
		if err != nil {
			r.logger.Warn("eth_call failed", zap.Error(err))
		}
		return err
	})
	return out, err
}

func (r *RetryClient) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, r.maxRetries, r.baseDelay, func(ctx context.Context) error {
		var err error
		logs, err = r.next.FilterLogs(ctx, fromBlock, toBlock, addresses, topic0)
		if err != nil {
			r.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
		}
		return err
	})
	return logs, err
}

func (r *RetryClient) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := withRetry(ctx, r.maxRetries, r.baseDelay, func(ctx context.Context) error {
		var err error
		number, err = r.next.LatestBlockNumber(ctx)
		return err
	})
	return number, err
}

func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := Classify(fn(ctx))
		if err == nil {
			return nil
		}
		if attempt >= maxRetries || !retryable(ctx, err) {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrTransport) && !IsOversized(err)
}
