package depositcircuit

import (
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/holiman/uint256"
	"github.com/zkledger/anondeposit/internal/deposit"
	"github.com/zkledger/anondeposit/internal/noteverify"
)

var ErrInvalidWitness = errors.New("depositcircuit: invalid witness")

// Witness is the prover's view of one deposit.
type Witness struct {
	Asset       fr.Element
	Amount      *uint256.Int
	Owner       fr.Element
	Blinding    fr.Element
	BindingHash [32]byte
	Memo        []byte
}

// RandomWitness draws fresh owner and blinding secrets.
func RandomWitness(asset fr.Element, amount *uint256.Int, bindingHash [32]byte) (Witness, error) {
	w := Witness{Asset: asset, Amount: amount, BindingHash: bindingHash}
	if _, err := w.Owner.SetRandom(); err != nil {
		return Witness{}, fmt.Errorf("depositcircuit: draw owner: %w", err)
	}
	if _, err := w.Blinding.SetRandom(); err != nil {
		return Witness{}, fmt.Errorf("depositcircuit: draw blinding: %w", err)
	}
	return w, nil
}

// Commit computes the note commitment natively, matching the in-circuit hash.
func Commit(asset fr.Element, amount *uint256.Int, owner, blinding fr.Element) fr.Element {
	var amt fr.Element
	amt.SetBigInt(amount.ToBig())

	h := mimc.NewMiMC()
	for _, e := range []fr.Element{asset, amt, owner, blinding} {
		b := e.Bytes()
		h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// BindingElement reduces a binding digest into the scalar field.
func BindingElement(digest []byte) fr.Element {
	var e fr.Element
	e.SetBytes(digest)
	return e
}

// Deposit is one proven request, ready to be placed in a batch.
type Deposit struct {
	Output      [32]byte
	Asset       [32]byte
	Amount      *uint256.Int
	Proof       []byte
	Memo        []byte
	BindingHash [32]byte
}

type Prover struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
}

func NewProver(ccs constraint.ConstraintSystem, pk groth16.ProvingKey) (*Prover, error) {
	if ccs == nil || pk == nil {
		return nil, errors.New("depositcircuit: nil constraint system or proving key")
	}
	return &Prover{ccs: ccs, pk: pk}, nil
}

// Setup compiles the circuit and runs a fresh Groth16 setup. The randomness
// is local; production keys come from a ceremony and are loaded with
// LoadProver and noteverify.ParseParams.
func Setup() (*Prover, groth16.VerifyingKey, error) {
	ccs, err := Compile()
	if err != nil {
		return nil, nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, fmt.Errorf("depositcircuit: setup: %w", err)
	}
	return &Prover{ccs: ccs, pk: pk}, vk, nil
}

// LoadProver recompiles the circuit and reads a serialized proving key.
func LoadProver(r io.Reader) (*Prover, error) {
	ccs, err := Compile()
	if err != nil {
		return nil, err
	}
	pk := groth16.NewProvingKey(ecc.BN254)
	if _, err := pk.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("depositcircuit: read proving key: %w", err)
	}
	return &Prover{ccs: ccs, pk: pk}, nil
}

func (p *Prover) WriteProvingKey(w io.Writer) error {
	if _, err := p.pk.WriteTo(w); err != nil {
		return fmt.Errorf("depositcircuit: write proving key: %w", err)
	}
	return nil
}

func WriteVerifyingKey(w io.Writer, vk groth16.VerifyingKey) error {
	if vk == nil {
		return errors.New("depositcircuit: nil verifying key")
	}
	if _, err := vk.WriteTo(w); err != nil {
		return fmt.Errorf("depositcircuit: write verifying key: %w", err)
	}
	return nil
}

func (p *Prover) Prove(w Witness) (Deposit, error) {
	if w.Amount == nil || w.Amount.BitLen() > noteverify.MaxAmountBits {
		return Deposit{}, fmt.Errorf("%w: amount must fit %d bits", ErrInvalidWitness, noteverify.MaxAmountBits)
	}
	commitment := Commit(w.Asset, w.Amount, w.Owner, w.Blinding)
	binding := BindingElement(noteverify.BindingDigest(w.BindingHash))
	if binding.IsZero() {
		return Deposit{}, fmt.Errorf("%w: binding hash reduces to zero", ErrInvalidWitness)
	}

	assignment := &Circuit{
		Asset:      bigOf(w.Asset),
		Amount:     w.Amount.ToBig(),
		Commitment: bigOf(commitment),
		Binding:    bigOf(binding),
		Owner:      bigOf(w.Owner),
		Blinding:   bigOf(w.Blinding),
	}
	full, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return Deposit{}, fmt.Errorf("depositcircuit: build witness: %w", err)
	}
	proof, err := groth16.Prove(p.ccs, p.pk, full)
	if err != nil {
		return Deposit{}, fmt.Errorf("depositcircuit: prove: %w", err)
	}
	bp, ok := proof.(*groth16bn254.Proof)
	if !ok {
		return Deposit{}, fmt.Errorf("depositcircuit: unexpected proof type %T", proof)
	}
	raw, err := noteverify.MarshalProof(bp)
	if err != nil {
		return Deposit{}, err
	}

	return Deposit{
		Output:      commitment.Bytes(),
		Asset:       w.Asset.Bytes(),
		Amount:      new(uint256.Int).Set(w.Amount),
		Proof:       raw,
		Memo:        append([]byte{}, w.Memo...),
		BindingHash: w.BindingHash,
	}, nil
}

// ProveBatch proves every witness and lays the results out as a batch in
// witness order.
func (p *Prover) ProveBatch(ws []Witness) (deposit.Batch, error) {
	b := deposit.Batch{
		Outputs:       make([][32]byte, 0, len(ws)),
		Assets:        make([][32]byte, 0, len(ws)),
		Amounts:       make([]*uint256.Int, 0, len(ws)),
		Proofs:        make([][]byte, 0, len(ws)),
		Memos:         make([][]byte, 0, len(ws)),
		BindingHashes: make([][32]byte, 0, len(ws)),
	}
	for i, w := range ws {
		d, err := p.Prove(w)
		if err != nil {
			return deposit.Batch{}, fmt.Errorf("depositcircuit: deposit %d: %w", i, err)
		}
		b.Outputs = append(b.Outputs, d.Output)
		b.Assets = append(b.Assets, d.Asset)
		b.Amounts = append(b.Amounts, d.Amount)
		b.Proofs = append(b.Proofs, d.Proof)
		b.Memos = append(b.Memos, d.Memo)
		b.BindingHashes = append(b.BindingHashes, d.BindingHash)
	}
	return b, nil
}

func bigOf(e fr.Element) *big.Int {
	return e.BigInt(new(big.Int))
}
