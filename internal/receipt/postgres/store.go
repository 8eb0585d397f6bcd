package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zkledger/anondeposit/internal/deposit"
	"github.com/zkledger/anondeposit/internal/receipt"
)

var ErrInvalidConfig = errors.New("receipt/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

var _ receipt.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("receipt/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, r receipt.Receipt) (receipt.Receipt, bool, error) {
	if s == nil || s.pool == nil {
		return receipt.Receipt{}, false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := r.Validate(); err != nil {
		return receipt.Receipt{}, false, err
	}
	if r.Requests > math.MaxInt32 || r.Gas > math.MaxInt64 {
		return receipt.Receipt{}, false, fmt.Errorf("%w: batch too large to store", receipt.ErrInvalidReceipt)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO deposit_receipts (
			batch_id,
			params_id,
			requests,
			gas,
			code,
			failed_index,
			verified_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (batch_id) DO NOTHING
	`, r.BatchID[:], r.ParamsID[:], int32(r.Requests), int64(r.Gas), int16(r.Kind), int32(r.FailedIndex), r.VerifiedAt.UTC())
	if err != nil {
		return receipt.Receipt{}, false, fmt.Errorf("receipt/postgres: insert: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return r, true, nil
	}

	existing, err := s.Get(ctx, r.BatchID)
	if err != nil {
		return receipt.Receipt{}, false, err
	}
	if !existing.Same(r) {
		return receipt.Receipt{}, false, receipt.ErrReceiptMismatch
	}
	return existing, false, nil
}

func (s *Store) Get(ctx context.Context, batchID common.Hash) (receipt.Receipt, error) {
	if s == nil || s.pool == nil {
		return receipt.Receipt{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	var (
		batchRaw    []byte
		paramsRaw   []byte
		requests    int32
		gas         int64
		code        int16
		failedIndex int32
		verifiedAt  time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT batch_id, params_id, requests, gas, code, failed_index, verified_at
		FROM deposit_receipts
		WHERE batch_id = $1
	`, batchID[:]).Scan(&batchRaw, &paramsRaw, &requests, &gas, &code, &failedIndex, &verifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return receipt.Receipt{}, receipt.ErrNotFound
		}
		return receipt.Receipt{}, fmt.Errorf("receipt/postgres: get: %w", err)
	}
	if len(batchRaw) != common.HashLength || len(paramsRaw) != common.HashLength {
		return receipt.Receipt{}, fmt.Errorf("receipt/postgres: corrupt row for %s", batchID.Hex())
	}
	if code < 0 || gas < 0 {
		return receipt.Receipt{}, fmt.Errorf("receipt/postgres: corrupt row for %s", batchID.Hex())
	}

	r := receipt.Receipt{
		BatchID:     common.BytesToHash(batchRaw),
		ParamsID:    common.BytesToHash(paramsRaw),
		Requests:    int(requests),
		Gas:         uint64(gas),
		Kind:        deposit.Kind(code),
		FailedIndex: int(failedIndex),
		VerifiedAt:  verifiedAt.UTC(),
	}
	if err := r.Validate(); err != nil {
		return receipt.Receipt{}, fmt.Errorf("receipt/postgres: stored receipt: %w", err)
	}
	return r, nil
}

// CountByCode returns how many receipts exist per outcome code.
func (s *Store) CountByCode(ctx context.Context) (map[deposit.Kind]int64, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	rows, err := s.pool.Query(ctx, `SELECT code, count(*) FROM deposit_receipts GROUP BY code`)
	if err != nil {
		return nil, fmt.Errorf("receipt/postgres: count: %w", err)
	}
	defer rows.Close()

	out := make(map[deposit.Kind]int64)
	for rows.Next() {
		var (
			code int16
			n    int64
		)
		if err := rows.Scan(&code, &n); err != nil {
			return nil, fmt.Errorf("receipt/postgres: scan count: %w", err)
		}
		out[deposit.Kind(code)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("receipt/postgres: count rows: %w", err)
	}
	return out, nil
}
