package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
)

type codedError struct {
	code int
	msg  string
}

func (e codedError) Error() string  { return e.msg }
func (e codedError) ErrorCode() int { return e.code }

func TestClassify(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		oversized bool
	}{
		{name: "out of gas", err: errors.New("execution reverted: out of gas"), oversized: true},
		{name: "gas allowance", err: errors.New("gas required exceeds allowance (30000000)"), oversized: true},
		{name: "log limit", err: errors.New("query returned more than 10000 results"), oversized: true},
		{name: "rpc limit code", err: codedError{code: -32005, msg: "slow down"}, oversized: true},
		{name: "http 413", err: fmt.Errorf("post: %w", httpError(413)), oversized: true},
		{name: "connection refused", err: errors.New("dial tcp 127.0.0.1:8545: connection refused")},
		{name: "other rpc code", err: codedError{code: -32000, msg: "header not found"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			classified := Classify(tc.err)
			assert.Equal(t, tc.oversized, IsOversized(classified))
			assert.Equal(t, !tc.oversized, errors.Is(classified, ErrTransport))
			assert.ErrorIs(t, classified, tc.err)
		})
	}
}

func TestClassifyKeepsContextAndIsIdempotent(t *testing.T) {
	assert.NoError(t, Classify(nil))

	classified := Classify(context.DeadlineExceeded)
	assert.ErrorIs(t, classified, context.DeadlineExceeded)
	assert.ErrorIs(t, classified, ErrTransport)

	oversized := Classify(errors.New("out of gas"))
	assert.Same(t, oversized, Classify(oversized))
}

func TestDecodeError(t *testing.T) {
	inner := errors.New("short buffer")
	err := &DecodeError{Address: common.HexToAddress("0x01"), Method: "getReserves", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "getReserves")
	assert.NotErrorIs(t, err, ErrOversized)
}

func httpError(status int) error {
	return rpc.HTTPError{StatusCode: status, Status: fmt.Sprintf("%d", status)}
}
