// Package depositcircuit holds the Groth16 deposit circuit over BN254, its
// prover, and the oracle the gateway verifies proofs with.
package depositcircuit

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/zkledger/anondeposit/internal/noteverify"
)

// Circuit proves knowledge of the owner and blinding behind a commitment
//
//	Commitment = MiMC(Asset, Amount, Owner, Blinding)
//
// and binds the proof to a non-zero Binding element derived from the
// request's binding hash.
type Circuit struct {
	Asset      frontend.Variable `gnark:",public"`
	Amount     frontend.Variable `gnark:",public"`
	Commitment frontend.Variable `gnark:",public"`
	Binding    frontend.Variable `gnark:",public"`

	Owner    frontend.Variable
	Blinding frontend.Variable
}

func (c *Circuit) Define(api frontend.API) error {
	api.ToBinary(c.Amount, noteverify.MaxAmountBits)

	// Binding must appear in a constraint or the proof would not depend on it.
	api.AssertIsDifferent(c.Binding, 0)

	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Asset, c.Amount, c.Owner, c.Blinding)
	api.AssertIsEqual(c.Commitment, h.Sum())
	return nil
}

// Compile builds the R1CS for Circuit. The result is deterministic.
func Compile() (constraint.ConstraintSystem, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &Circuit{})
	if err != nil {
		return nil, fmt.Errorf("depositcircuit: compile: %w", err)
	}
	return ccs, nil
}
