package batch

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// DecimalsCache caches token decimals by address. Decimals never change once a
// token is deployed, so entries are kept for the life of the client.
type DecimalsCache struct {
	mu   sync.RWMutex
	data map[common.Address]uint8
}

func NewDecimalsCache() *DecimalsCache {
	return &DecimalsCache{data: make(map[common.Address]uint8)}
}

func (c *DecimalsCache) Get(address common.Address) (uint8, bool) {
	c.mu.RLock()
	decimals, ok := c.data[address]
	c.mu.RUnlock()
	return decimals, ok
}

func (c *DecimalsCache) Set(address common.Address, decimals uint8) {
	c.mu.Lock()
	c.data[address] = decimals
	c.mu.Unlock()
}

// Len returns the number of cached tokens.
func (c *DecimalsCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
