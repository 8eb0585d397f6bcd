// Package receipt records the outcome of verifying one deposit batch.
package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/zkledger/anondeposit/internal/deposit"
	"github.com/zkledger/anondeposit/internal/gateway"
)

const Version = "deposits.receipt.v1"

var (
	ErrInvalidReceipt  = errors.New("receipt: invalid receipt")
	ErrReceiptMismatch = errors.New("receipt: receipt mismatch")
	ErrNotFound        = errors.New("receipt: not found")
)

type Receipt struct {
	BatchID  common.Hash
	ParamsID common.Hash

	Requests    int
	Gas         uint64
	Kind        deposit.Kind
	FailedIndex int

	VerifiedAt time.Time
}

// BatchID identifies a payload by its keccak256.
func BatchID(payload []byte) common.Hash {
	return crypto.Keccak256Hash(payload)
}

func New(batchID, paramsID common.Hash, out gateway.Outcome, at time.Time) Receipt {
	return Receipt{
		BatchID:     batchID,
		ParamsID:    paramsID,
		Requests:    out.Requests,
		Gas:         out.Gas,
		Kind:        out.Kind,
		FailedIndex: out.FailedIndex,
		VerifiedAt:  at.UTC().Truncate(time.Microsecond),
	}
}

func (r Receipt) OK() bool {
	return r.Kind == deposit.KindOK
}

func (r Receipt) Validate() error {
	if (r.BatchID == common.Hash{}) {
		return fmt.Errorf("%w: missing batch_id", ErrInvalidReceipt)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown code %d", ErrInvalidReceipt, r.Kind)
	}
	if r.Requests < 0 {
		return fmt.Errorf("%w: negative request count", ErrInvalidReceipt)
	}
	if r.Gas != deposit.PerProofGas*uint64(r.Requests) {
		return fmt.Errorf("%w: gas %d does not match %d requests", ErrInvalidReceipt, r.Gas, r.Requests)
	}
	if r.FailedIndex < -1 || (r.FailedIndex != -1 && r.FailedIndex >= r.Requests) {
		return fmt.Errorf("%w: failed_index %d out of range", ErrInvalidReceipt, r.FailedIndex)
	}
	if r.OK() && r.FailedIndex != -1 {
		return fmt.Errorf("%w: successful receipt names a failed request", ErrInvalidReceipt)
	}
	if r.VerifiedAt.IsZero() {
		return fmt.Errorf("%w: missing verified_at", ErrInvalidReceipt)
	}
	return nil
}

// Same reports whether two receipts describe the same verification result,
// ignoring when it was produced.
func (r Receipt) Same(o Receipt) bool {
	return r.BatchID == o.BatchID &&
		r.ParamsID == o.ParamsID &&
		r.Requests == o.Requests &&
		r.Gas == o.Gas &&
		r.Kind == o.Kind &&
		r.FailedIndex == o.FailedIndex
}

type wireReceipt struct {
	Version     string `json:"version"`
	BatchID     string `json:"batch_id"`
	ParamsID    string `json:"params_id"`
	Requests    int    `json:"requests"`
	Gas         uint64 `json:"gas"`
	Code        uint32 `json:"code"`
	Status      string `json:"status"`
	FailedIndex int    `json:"failed_index"`
	VerifiedAt  string `json:"verified_at"`
}

func Encode(r Receipt) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(wireReceipt{
		Version:     Version,
		BatchID:     r.BatchID.Hex(),
		ParamsID:    r.ParamsID.Hex(),
		Requests:    r.Requests,
		Gas:         r.Gas,
		Code:        r.Kind.Code(),
		Status:      r.Kind.String(),
		FailedIndex: r.FailedIndex,
		VerifiedAt:  r.VerifiedAt.UTC().Format(time.RFC3339Nano),
	})
}

func Decode(payload []byte) (Receipt, error) {
	var w wireReceipt
	if err := json.Unmarshal(payload, &w); err != nil {
		return Receipt{}, fmt.Errorf("%w: decode payload: %v", ErrInvalidReceipt, err)
	}
	if strings.TrimSpace(w.Version) != Version {
		return Receipt{}, fmt.Errorf("%w: unsupported version %q", ErrInvalidReceipt, w.Version)
	}
	batchID, err := decodeHash(w.BatchID)
	if err != nil {
		return Receipt{}, err
	}
	paramsID, err := decodeHash(w.ParamsID)
	if err != nil {
		return Receipt{}, err
	}
	kind := deposit.Kind(w.Code)
	if uint32(kind) != w.Code || !kind.Valid() {
		return Receipt{}, fmt.Errorf("%w: unknown code %d", ErrInvalidReceipt, w.Code)
	}
	if w.Status != "" && w.Status != kind.String() {
		return Receipt{}, fmt.Errorf("%w: status %q does not match code %d", ErrInvalidReceipt, w.Status, w.Code)
	}
	at, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(w.VerifiedAt))
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: invalid verified_at", ErrInvalidReceipt)
	}
	r := Receipt{
		BatchID:     batchID,
		ParamsID:    paramsID,
		Requests:    w.Requests,
		Gas:         w.Gas,
		Kind:        kind,
		FailedIndex: w.FailedIndex,
		VerifiedAt:  at.UTC(),
	}
	if err := r.Validate(); err != nil {
		return Receipt{}, err
	}
	return r, nil
}

func decodeHash(v string) (common.Hash, error) {
	s := strings.TrimSpace(v)
	if !strings.HasPrefix(s, "0x") || len(s) != 2+2*common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: hash must be 32-byte 0x hex", ErrInvalidReceipt)
	}
	var h common.Hash
	if err := h.UnmarshalText([]byte(s)); err != nil {
		return common.Hash{}, fmt.Errorf("%w: invalid hash", ErrInvalidReceipt)
	}
	return h, nil
}

// Store persists receipts keyed by batch id.
type Store interface {
	// Put inserts r. It returns the stored receipt and whether it was newly
	// created; an existing receipt that is not Same as r yields
	// ErrReceiptMismatch.
	Put(ctx context.Context, r Receipt) (Receipt, bool, error)
	Get(ctx context.Context, batchID common.Hash) (Receipt, error)
}
