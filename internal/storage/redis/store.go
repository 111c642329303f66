package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	goredis "github.com/go-redis/redis/v8"

	"poolScope/internal/model"
)

// Store mirrors pool state into Redis: one hash per pool and a set of pool addresses.
type Store struct {
	client *goredis.Client
	prefix string
}

// NewStore connects to addr. Keys are namespaced under prefix.
func NewStore(ctx context.Context, addr, password string, db int, prefix string) (*Store, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client, prefix: normalizePrefix(prefix)}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// WritePools sets every pool hash and the address set in one pipeline.
func (s *Store) WritePools(ctx context.Context, blockNumber uint64, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	members := make([]interface{}, 0, len(pools))
	for _, pool := range pools {
		pipe.HSet(ctx, PoolKey(s.prefix, pool), poolFields(blockNumber, pool)...)
		members = append(members, strings.ToLower(pool.Address.Hex()))
	}
	pipe.SAdd(ctx, s.prefix+"pools", members...)
	pipe.Set(ctx, s.prefix+"block", blockNumber, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Pool reads one pool hash back. ok is false when the pool is unknown.
func (s *Store) Pool(ctx context.Context, address string) (map[string]string, bool, error) {
	values, err := s.client.HGetAll(ctx, s.prefix+"pool:"+strings.ToLower(address)).Result()
	if err != nil {
		return nil, false, err
	}
	return values, len(values) > 0, nil
}

// PoolKey returns the hash key of a pool.
func PoolKey(prefix string, pool model.Pool) string {
	return normalizePrefix(prefix) + "pool:" + strings.ToLower(pool.Address.Hex())
}

func poolFields(blockNumber uint64, pool model.Pool) []interface{} {
	return []interface{}{
		"tokenA", pool.TokenA.Hex(),
		"tokenADecimals", strconv.Itoa(int(pool.TokenADecimals)),
		"tokenB", pool.TokenB.Hex(),
		"tokenBDecimals", strconv.Itoa(int(pool.TokenBDecimals)),
		"reserve0", bigString(pool.Reserve0),
		"reserve1", bigString(pool.Reserve1),
		"fee", strconv.FormatUint(uint64(pool.Fee), 10),
		"blockNumber", strconv.FormatUint(blockNumber, 10),
	}
}

func normalizePrefix(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, ":") {
		return prefix
	}
	return prefix + ":"
}

func bigString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}
