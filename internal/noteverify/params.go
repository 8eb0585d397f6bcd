package noteverify

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidParams     = errors.New("noteverify: invalid params")
	ErrParamsUnavailable = errors.New("noteverify: params unavailable")
)

// Params is the immutable verifier parameter set for deposit proofs.
type Params struct {
	vk groth16.VerifyingKey
	id common.Hash
}

// NewParams wraps a verifying key. The key must not be modified afterwards.
func NewParams(vk groth16.VerifyingKey) (*Params, error) {
	if vk == nil {
		return nil, fmt.Errorf("%w: nil verifying key", ErrInvalidParams)
	}
	if vk.CurveID() != ecc.BN254 {
		return nil, fmt.Errorf("%w: verifying key curve %s, want %s", ErrInvalidParams, vk.CurveID(), ecc.BN254)
	}
	var buf bytes.Buffer
	if _, err := vk.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("%w: serialize verifying key: %v", ErrInvalidParams, err)
	}
	return &Params{vk: vk, id: crypto.Keccak256Hash(buf.Bytes())}, nil
}

// ParseParams reads a serialized BN254 Groth16 verifying key. Trailing bytes
// are rejected.
func ParseParams(b []byte) (*Params, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty verifying key", ErrInvalidParams)
	}
	vk := groth16.NewVerifyingKey(ecc.BN254)
	n, err := vk.ReadFrom(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: read verifying key: %v", ErrInvalidParams, err)
	}
	if n != int64(len(b)) {
		return nil, fmt.Errorf("%w: %d trailing bytes after verifying key", ErrInvalidParams, int64(len(b))-n)
	}
	return &Params{vk: vk, id: crypto.Keccak256Hash(b)}, nil
}

func (p *Params) VerifyingKey() groth16.VerifyingKey {
	return p.vk
}

// ID is the keccak256 of the serialized verifying key.
func (p *Params) ID() common.Hash {
	return p.id
}

// Loader produces the parameter set. It is called at most once per cell.
type Loader func() (*Params, error)

// ParamsCell initializes Params exactly once. Concurrent first callers block
// until the single load finishes; a failed load is remembered and returned to
// every caller, and no partially built value is ever handed out.
type ParamsCell struct {
	once sync.Once
	load Loader

	params *Params
	err    error
}

func NewParamsCell(load Loader) *ParamsCell {
	return &ParamsCell{load: load}
}

// FixedParams returns a cell that is already resolved to p.
func FixedParams(p *Params) *ParamsCell {
	return NewParamsCell(func() (*Params, error) { return p, nil })
}

func (c *ParamsCell) Get() (*Params, error) {
	c.once.Do(c.init)
	return c.params, c.err
}

func (c *ParamsCell) init() {
	defer func() {
		if r := recover(); r != nil {
			c.params = nil
			c.err = fmt.Errorf("%w: loader panicked: %v", ErrParamsUnavailable, r)
		}
	}()
	if c.load == nil {
		c.err = fmt.Errorf("%w: nil loader", ErrParamsUnavailable)
		return
	}
	p, err := c.load()
	if err != nil {
		c.err = fmt.Errorf("%w: %w", ErrParamsUnavailable, err)
		return
	}
	if p == nil || p.vk == nil {
		c.err = fmt.Errorf("%w: loader returned no params", ErrParamsUnavailable)
		return
	}
	c.params = p
}
