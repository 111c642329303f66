package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// QuoteValues returns the value of each populated pool denominated in raw units of the
// quote token (for example WETH wei). A pool holding the quote token is worth twice its
// quote reserve. Other pools are converted through the deepest pool that pairs one of
// their tokens with the quote token. Pools with no such route are omitted.
func QuoteValues(pools []Pool, quote common.Address) map[common.Address]*big.Int {
	routes := make(map[common.Address]Pool)
	for _, pool := range pools {
		if !pool.IsPopulated() {
			continue
		}
		other, ok := pool.Other(quote)
		if !ok {
			continue
		}
		best, seen := routes[other]
		if !seen || pool.ReserveOf(quote).Cmp(best.ReserveOf(quote)) > 0 {
			routes[other] = pool
		}
	}

	values := make(map[common.Address]*big.Int, len(pools))
	for _, pool := range pools {
		if !pool.IsPopulated() {
			continue
		}
		if reserve := pool.ReserveOf(quote); reserve != nil {
			values[pool.Address] = new(big.Int).Lsh(reserve, 1)
			continue
		}
		for _, token := range []common.Address{pool.TokenA, pool.TokenB} {
			route, ok := routes[token]
			if !ok {
				continue
			}
			// reserve * quoteReserve / tokenReserve, doubled for both sides of the pool.
			value := new(big.Int).Mul(pool.ReserveOf(token), route.ReserveOf(quote))
			value.Quo(value, route.ReserveOf(token))
			values[pool.Address] = value.Lsh(value, 1)
			break
		}
	}
	return values
}
