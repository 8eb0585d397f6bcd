package verifierservice

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/zkledger/anondeposit/internal/deposit"
	"github.com/zkledger/anondeposit/internal/depositabi"
	"github.com/zkledger/anondeposit/internal/dispatch"
	"github.com/zkledger/anondeposit/internal/gateway"
	"github.com/zkledger/anondeposit/internal/noteverify"
	"github.com/zkledger/anondeposit/internal/receipt"
)

// countingOracle accepts every note unless rejectAll is set.
type countingOracle struct {
	mu        sync.Mutex
	calls     int
	rejectAll bool
}

func (o *countingOracle) Verify(_ *noteverify.Params, _ *noteverify.Note, _ []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.rejectAll {
		return errors.New("rejected")
	}
	return nil
}

func (o *countingOracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func newGateway(t *testing.T, o noteverify.Oracle) *gateway.Verifier {
	t.Helper()

	var buf bytes.Buffer
	if _, err := groth16.NewVerifyingKey(ecc.BN254).WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	p, err := noteverify.ParseParams(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	gw, err := gateway.NewVerifier(gateway.Config{
		Params:   noteverify.FixedParams(p),
		Oracle:   o,
		Strategy: dispatch.Sequential{},
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return gw
}

// payloadOf encodes an n-request batch whose requests differ by seed.
func payloadOf(t *testing.T, n int, seed byte) []byte {
	t.Helper()

	_, _, g1, g2 := bn254.Generators()
	proof, err := noteverify.MarshalProof(&groth16bn254.Proof{Ar: g1, Bs: g2, Krs: g1})
	if err != nil {
		t.Fatalf("MarshalProof: %v", err)
	}
	b := deposit.Batch{
		Outputs:       make([][32]byte, n),
		Assets:        make([][32]byte, n),
		Amounts:       make([]*uint256.Int, n),
		Proofs:        make([][]byte, n),
		Memos:         make([][]byte, n),
		BindingHashes: make([][32]byte, n),
	}
	for i := 0; i < n; i++ {
		b.Outputs[i][30] = seed
		b.Outputs[i][31] = byte(i)
		b.Assets[i][31] = 0x01
		b.Amounts[i] = uint256.NewInt(uint64(1000 + i))
		b.Proofs[i] = proof
		b.Memos[i] = []byte{seed}
		b.BindingHashes[i][0] = seed
	}
	data, err := depositabi.Encode(b)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func requestOf(payload []byte) Request {
	return Request{BatchID: receipt.BatchID(payload), Payload: payload}
}

// flakyStore fails every call with err while err is set.
type flakyStore struct {
	*receipt.MemoryStore

	mu  sync.Mutex
	err error
}

func (s *flakyStore) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *flakyStore) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *flakyStore) Put(ctx context.Context, r receipt.Receipt) (receipt.Receipt, bool, error) {
	if err := s.failure(); err != nil {
		return receipt.Receipt{}, false, err
	}
	return s.MemoryStore.Put(ctx, r)
}

func (s *flakyStore) Get(ctx context.Context, id common.Hash) (receipt.Receipt, error) {
	if err := s.failure(); err != nil {
		return receipt.Receipt{}, err
	}
	return s.MemoryStore.Get(ctx, id)
}
