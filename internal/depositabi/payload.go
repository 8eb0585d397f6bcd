package depositabi

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/holiman/uint256"
	"github.com/zkledger/anondeposit/internal/deposit"
)

var ErrInvalidInput = errors.New("depositabi: invalid input")

// Argument order of the deposit payload:
//
//	(bytes32[] outputs, bytes32[] assets, uint256[] amounts,
//	 bytes[] proofs, bytes[] memos, bytes32[] bindingHashes)
var argSpec = []struct {
	name string
	typ  string
}{
	{"outputs", "bytes32[]"},
	{"assets", "bytes32[]"},
	{"amounts", "uint256[]"},
	{"proofs", "bytes[]"},
	{"memos", "bytes[]"},
	{"bindingHashes", "bytes32[]"},
}

var (
	initOnce sync.Once
	initErr  error

	batchArgs abi.Arguments
)

func initABI() error {
	initOnce.Do(func() {
		args := make(abi.Arguments, 0, len(argSpec))
		for _, a := range argSpec {
			ty, err := abi.NewType(a.typ, "", nil)
			if err != nil {
				initErr = fmt.Errorf("depositabi: build %s type: %w", a.name, err)
				return
			}
			args = append(args, abi.Argument{Name: a.name, Type: ty})
		}
		batchArgs = args
	})
	return initErr
}

// Decode parses an ABI payload into a validated batch. Every malformed input
// fails with deposit.ErrParse; a length mismatch between the six sequences
// fails with deposit.ErrWrongLengthOfArguments.
func Decode(data []byte) (b deposit.Batch, err error) {
	if err := initABI(); err != nil {
		return deposit.Batch{}, err
	}
	// The abi package has panicked on hostile offsets in past releases.
	defer func() {
		if r := recover(); r != nil {
			b, err = deposit.Batch{}, deposit.ErrParse
		}
	}()

	vals, err := batchArgs.Unpack(data)
	if err != nil || len(vals) != len(argSpec) {
		return deposit.Batch{}, deposit.ErrParse
	}

	outputs, ok := vals[0].([][32]byte)
	if !ok {
		return deposit.Batch{}, deposit.ErrParse
	}
	assets, ok := vals[1].([][32]byte)
	if !ok {
		return deposit.Batch{}, deposit.ErrParse
	}
	rawAmounts, ok := vals[2].([]*big.Int)
	if !ok {
		return deposit.Batch{}, deposit.ErrParse
	}
	amounts := make([]*uint256.Int, len(rawAmounts))
	for i, a := range rawAmounts {
		if a == nil || a.Sign() < 0 {
			return deposit.Batch{}, deposit.ErrParse
		}
		v, overflow := uint256.FromBig(a)
		if overflow {
			return deposit.Batch{}, deposit.ErrParse
		}
		amounts[i] = v
	}
	proofs, ok := vals[3].([][]byte)
	if !ok {
		return deposit.Batch{}, deposit.ErrParse
	}
	memos, ok := vals[4].([][]byte)
	if !ok {
		return deposit.Batch{}, deposit.ErrParse
	}
	hashes, ok := vals[5].([][32]byte)
	if !ok {
		return deposit.Batch{}, deposit.ErrParse
	}

	// Unpacked bytes alias the input buffer, which the host may reuse.
	b = deposit.Batch{
		Outputs:       outputs,
		Assets:        assets,
		Amounts:       amounts,
		Proofs:        cloneAll(proofs),
		Memos:         cloneAll(memos),
		BindingHashes: hashes,
	}
	if err := b.Validate(); err != nil {
		return deposit.Batch{}, err
	}
	return b, nil
}

// Encode packs a batch into the payload layout accepted by Decode. Sequences
// of different lengths are encoded as given; Decode rejects them.
func Encode(b deposit.Batch) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	amounts := make([]*big.Int, len(b.Amounts))
	for i, a := range b.Amounts {
		if a == nil {
			return nil, fmt.Errorf("%w: amounts[%d] is nil", ErrInvalidInput, i)
		}
		amounts[i] = a.ToBig()
	}
	out, err := batchArgs.Pack(
		nonNil32(b.Outputs),
		nonNil32(b.Assets),
		amounts,
		nonNilBytes(b.Proofs),
		nonNilBytes(b.Memos),
		nonNil32(b.BindingHashes),
	)
	if err != nil {
		return nil, fmt.Errorf("depositabi: pack batch: %w", err)
	}
	return out, nil
}

// ParseHex decodes a 0x-prefixed (or bare) hex payload, ignoring surrounding
// whitespace.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("%w: odd-length hex", ErrInvalidInput)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex", ErrInvalidInput)
	}
	return b, nil
}

func cloneAll(in [][]byte) [][]byte {
	out := make([][]byte, len(in))
	for i, v := range in {
		out[i] = append([]byte{}, v...)
	}
	return out
}

func nonNil32(v [][32]byte) [][32]byte {
	if v == nil {
		return [][32]byte{}
	}
	return v
}

func nonNilBytes(v [][]byte) [][]byte {
	if v == nil {
		return [][]byte{}
	}
	out := make([][]byte, len(v))
	for i := range v {
		if v[i] == nil {
			out[i] = []byte{}
			continue
		}
		out[i] = v[i]
	}
	return out
}
