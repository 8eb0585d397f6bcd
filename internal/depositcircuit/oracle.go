package depositcircuit

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/zkledger/anondeposit/internal/noteverify"
)

// Oracle verifies deposit notes with gnark's Groth16 verifier.
type Oracle struct{}

var _ noteverify.Oracle = Oracle{}

func (Oracle) Verify(params *noteverify.Params, note *noteverify.Note, digest []byte) error {
	if params == nil || params.VerifyingKey() == nil {
		return errors.New("depositcircuit: nil params")
	}
	if note == nil || note.Proof == nil || note.Amount == nil {
		return errors.New("depositcircuit: incomplete note")
	}
	if len(digest) != noteverify.DigestSize {
		return fmt.Errorf("depositcircuit: digest is %d bytes, want %d", len(digest), noteverify.DigestSize)
	}

	assignment := &Circuit{
		Asset:      bigOf(note.Asset),
		Amount:     note.Amount.ToBig(),
		Commitment: bigOf(note.Commitment),
		Binding:    bigOf(BindingElement(digest)),
	}
	public, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("depositcircuit: public witness: %w", err)
	}
	return groth16.Verify(note.Proof, params.VerifyingKey(), public)
}
