package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type flakyCaller struct {
	failures int
	err      error
	calls    int
}

func (f *flakyCaller) next() error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyCaller) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	return []byte{0x01}, nil
}

func (f *flakyCaller) FilterLogs(context.Context, uint64, uint64, []common.Address, []common.Hash) ([]types.Log, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	return []types.Log{{BlockNumber: 7}}, nil
}

func (f *flakyCaller) LatestBlockNumber(context.Context) (uint64, error) {
	if err := f.next(); err != nil {
		return 0, err
	}
	return 42, nil
}

func TestRetryClientRecoversTransportErrors(t *testing.T) {
	caller := &flakyCaller{failures: 2, err: errors.New("connection reset")}
	client := NewRetryClient(caller, 3, time.Millisecond, nil)

	out, err := client.CallContract(context.Background(), ethereum.CallMsg{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || caller.calls != 3 {
		t.Fatalf("expected success on third call, got %d calls", caller.calls)
	}
}

func TestRetryClientGivesUp(t *testing.T) {
	caller := &flakyCaller{failures: 10, err: errors.New("connection reset")}
	client := NewRetryClient(caller, 2, time.Millisecond, nil)

	_, err := client.LatestBlockNumber(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if caller.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", caller.calls)
	}
}

func TestRetryClientDoesNotRetryOversized(t *testing.T) {
	caller := &flakyCaller{failures: 10, err: errors.New("query returned more than 10000 results")}
	client := NewRetryClient(caller, 5, time.Millisecond, nil)

	_, err := client.FilterLogs(context.Background(), 1, 2, nil, nil)
	if !IsOversized(err) {
		t.Fatalf("expected oversized error, got %v", err)
	}
	if caller.calls != 1 {
		t.Fatalf("oversized requests must not be retried, got %d calls", caller.calls)
	}
}

func TestRetryClientStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	caller := &flakyCaller{failures: 10, err: context.Canceled}
	client := NewRetryClient(caller, 5, time.Millisecond, nil)

	_, err := client.CallContract(ctx, ethereum.CallMsg{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if caller.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", caller.calls)
	}
}
