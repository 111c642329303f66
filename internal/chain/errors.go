package chain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrTransport marks failures reaching the endpoint or executing the request.
	ErrTransport = errors.New("chain transport error")
	// ErrOversized marks a request that exceeded the endpoint's gas or response size limits.
	// Such a request may succeed when split into smaller ones.
	ErrOversized = errors.New("request exceeds gas or response limit")
)

// limitExceededCode is the JSON-RPC code most providers use for range and size limits.
const limitExceededCode = -32005

var oversizedMessages = []string{
	"out of gas",
	"gas required exceeds",
	"exceeds block gas limit",
	"max code size",
	"response size",
	"response is too big",
	"query returned more than",
	"too many results",
	"block range",
	"limit exceeded",
	"request entity too large",
}

// DecodeError reports a response whose shape does not match the expected ABI.
type DecodeError struct {
	Address common.Address
	Method  string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("decode response for %s: %v", e.Address.Hex(), e.Err)
	}
	return fmt.Sprintf("decode %s response for %s: %v", e.Method, e.Address.Hex(), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Classify wraps err with ErrOversized or ErrTransport. The original error stays in
// the chain, so context cancellation is still detectable with errors.Is.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOversized) || errors.Is(err, ErrTransport) {
		return err
	}
	if isOversized(err) {
		return fmt.Errorf("%w: %w", ErrOversized, err)
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// IsOversized reports whether err was classified as too large to execute.
func IsOversized(err error) bool {
	return errors.Is(err, ErrOversized)
}

func isOversized(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == limitExceededCode {
		return true
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusRequestEntityTooLarge {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range oversizedMessages {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
