// Package gateway is the host-facing surface of deposit batch verification:
// decode a payload, charge gas, and check every request in it.
package gateway

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/zkledger/anondeposit/internal/deposit"
	"github.com/zkledger/anondeposit/internal/depositabi"
	"github.com/zkledger/anondeposit/internal/dispatch"
	"github.com/zkledger/anondeposit/internal/noteverify"
)

var (
	ErrInvalidConfig = errors.New("gateway: invalid config")

	// ErrBatchConsumed is returned by a second Check on the same call. It is
	// host misuse and not part of the deposit error taxonomy.
	ErrBatchConsumed = errors.New("gateway: batch already checked")
)

type Config struct {
	Params *noteverify.ParamsCell
	Oracle noteverify.Oracle

	// Strategy defaults to dispatch.Default().
	Strategy dispatch.Strategy

	Log *slog.Logger
}

// Verifier is safe for concurrent use. Its parameters are resolved once, at
// construction.
type Verifier struct {
	nv       *noteverify.Verifier
	strategy dispatch.Strategy
	log      *slog.Logger
}

func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Params == nil {
		return nil, fmt.Errorf("%w: missing params", ErrInvalidConfig)
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("%w: missing oracle", ErrInvalidConfig)
	}
	if cfg.Strategy == nil {
		cfg.Strategy = dispatch.Default()
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	params, err := cfg.Params.Get()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	nv, err := noteverify.NewVerifier(params, cfg.Oracle, cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &Verifier{nv: nv, strategy: cfg.Strategy, log: cfg.Log}, nil
}

func (v *Verifier) Params() *noteverify.Params {
	return v.nv.Params()
}

// Call is one decoded batch. Gas may be read at any time; Check runs once.
type Call struct {
	v       *Verifier
	batch   deposit.Batch
	checked atomic.Bool
}

// Decode parses and validates a payload. Errors are *deposit.Error values
// of kind ParseError or WrongLengthOfArguments.
func (v *Verifier) Decode(data []byte) (*Call, error) {
	b, err := depositabi.Decode(data)
	if err != nil {
		return nil, err
	}
	return &Call{v: v, batch: b}, nil
}

func (c *Call) Len() int {
	return c.batch.Len()
}

func (c *Call) Gas() uint64 {
	return c.batch.Gas()
}

// Check verifies every request in the batch. It returns nil if all pass,
// otherwise the *deposit.Error of the lowest failing index.
func (c *Call) Check() error {
	if !c.checked.CompareAndSwap(false, true) {
		return ErrBatchConsumed
	}
	b := &c.batch
	return c.v.strategy.Run(b.Len(), func(i int) error {
		return c.v.nv.Verify(b.Request(i))
	})
}

// Outcome is the host-visible result of Run.
type Outcome struct {
	Requests int
	Gas      uint64
	Kind     deposit.Kind

	// FailedIndex is the request that failed, or -1 for success and for
	// batch-level failures.
	FailedIndex int
}

func (o Outcome) OK() bool {
	return o.Kind == deposit.KindOK
}

// Err returns the outcome as a *deposit.Error, or nil on success.
func (o Outcome) Err() error {
	if o.OK() {
		return nil
	}
	return &deposit.Error{Kind: o.Kind, Index: o.FailedIndex}
}

// Run decodes and checks a payload in one step. Gas is charged whenever
// decoding succeeds, whatever Check returns; a payload that fails to decode
// charges nothing.
func (v *Verifier) Run(data []byte) Outcome {
	call, err := v.Decode(data)
	if err != nil {
		v.log.Debug("deposit batch rejected", "kind", deposit.KindOf(err).String(), "payload_bytes", len(data))
		return Outcome{Kind: deposit.KindOf(err), FailedIndex: -1}
	}
	err = call.Check()
	out := Outcome{
		Requests:    call.Len(),
		Gas:         call.Gas(),
		Kind:        deposit.KindOf(err),
		FailedIndex: deposit.IndexOf(err),
	}
	if err != nil {
		v.log.Debug("deposit batch rejected", "kind", out.Kind.String(), "index", out.FailedIndex, "requests", out.Requests)
	}
	return out
}
