package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"poolScope/internal/checkpoint"
	"poolScope/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS pools (
	pool_address     TEXT PRIMARY KEY,
	token_a          TEXT NOT NULL,
	token_a_decimals SMALLINT NOT NULL,
	token_b          TEXT NOT NULL,
	token_b_decimals SMALLINT NOT NULL,
	reserve0         NUMERIC(78, 0) NOT NULL,
	reserve1         NUMERIC(78, 0) NOT NULL,
	fee              INTEGER NOT NULL,
	block_number     BIGINT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pool_checkpoints (
	name         TEXT PRIMARY KEY,
	block_number BIGINT NOT NULL,
	document     JSONB NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for pools and checkpoints.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// WritePools upserts pool state as of blockNumber. Rows already updated at a later
// block are left alone.
func (s *Store) WritePools(ctx context.Context, blockNumber uint64, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pool := range pools {
		batch.Queue(`
			INSERT INTO pools (
				pool_address, token_a, token_a_decimals, token_b, token_b_decimals,
				reserve0, reserve1, fee, block_number, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
			ON CONFLICT (pool_address)
			DO UPDATE SET
				token_a = EXCLUDED.token_a,
				token_a_decimals = EXCLUDED.token_a_decimals,
				token_b = EXCLUDED.token_b,
				token_b_decimals = EXCLUDED.token_b_decimals,
				reserve0 = EXCLUDED.reserve0,
				reserve1 = EXCLUDED.reserve1,
				fee = EXCLUDED.fee,
				block_number = EXCLUDED.block_number,
				updated_at = now()
			WHERE pools.block_number <= EXCLUDED.block_number
		`,
			pool.Address.Hex(),
			pool.TokenA.Hex(),
			int16(pool.TokenADecimals),
			pool.TokenB.Hex(),
			int16(pool.TokenBDecimals),
			numeric(pool.Reserve0),
			numeric(pool.Reserve1),
			int64(pool.Fee),
			int64(blockNumber),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for _, pool := range pools {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert pool %s: %w", pool.Address.Hex(), err)
		}
	}
	return nil
}

// CheckpointStore keeps checkpoints as JSONB documents in pool_checkpoints.
type CheckpointStore struct {
	store *Store
}

// Checkpoints returns a checkpoint store backed by s.
func (s *Store) Checkpoints() *CheckpointStore {
	return &CheckpointStore{store: s}
}

// Load returns the checkpoint saved under key.
func (c *CheckpointStore) Load(ctx context.Context, key string) (model.Checkpoint, bool, error) {
	if key == "" {
		return model.Checkpoint{}, false, &checkpoint.PersistenceError{Op: "load", Key: key, Err: fmt.Errorf("key required")}
	}
	var document []byte
	row := c.store.pool.QueryRow(ctx, `SELECT document FROM pool_checkpoints WHERE name=$1`, key)
	if err := row.Scan(&document); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Checkpoint{}, false, nil
		}
		return model.Checkpoint{}, false, &checkpoint.PersistenceError{Op: "load", Key: key, Err: err}
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(document, &cp); err != nil {
		return model.Checkpoint{}, false, &checkpoint.PersistenceError{Op: "parse", Key: key, Err: err}
	}
	return cp, true, nil
}

// Save upserts the checkpoint under key in a single statement.
func (c *CheckpointStore) Save(ctx context.Context, key string, cp model.Checkpoint) error {
	if key == "" {
		return &checkpoint.PersistenceError{Op: "save", Key: key, Err: fmt.Errorf("key required")}
	}
	document, err := json.Marshal(cp)
	if err != nil {
		return &checkpoint.PersistenceError{Op: "marshal", Key: key, Err: err}
	}
	_, err = c.store.pool.Exec(ctx, `
		INSERT INTO pool_checkpoints (name, block_number, document, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (name) DO UPDATE
		SET block_number = EXCLUDED.block_number, document = EXCLUDED.document, updated_at = now()
	`, key, int64(cp.BlockNumber), document)
	if err != nil {
		return &checkpoint.PersistenceError{Op: "save", Key: key, Err: err}
	}
	return nil
}

func numeric(value *big.Int) pgtype.Numeric {
	if value == nil {
		return pgtype.Numeric{Int: new(big.Int), Valid: true}
	}
	return pgtype.Numeric{Int: new(big.Int).Set(value), Valid: true}
}
