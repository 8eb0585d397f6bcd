package noteverify

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/holiman/uint256"
	"github.com/zkledger/anondeposit/internal/deposit"
	"golang.org/x/crypto/sha3"
)

const (
	// MaxAmountBits bounds the value a single deposit may carry.
	MaxAmountBits = 128

	// ProofSize is the wire size of a proof: compressed Ar (G1), Bs (G2), Krs (G1).
	ProofSize = bn254.SizeOfG1AffineCompressed*2 + bn254.SizeOfG2AffineCompressed

	// DigestSize is the length of the binding digest handed to the oracle.
	DigestSize = 64
)

var (
	ErrInvalidProof   = errors.New("noteverify: invalid proof")
	ErrInvalidElement = errors.New("noteverify: invalid field element")
	ErrNilOracle      = errors.New("noteverify: nil oracle")
)

// Note is the verifier's view of one deposit.
type Note struct {
	Asset      fr.Element
	Amount     *uint256.Int
	Commitment fr.Element
	Proof      *groth16bn254.Proof

	// Memo is always empty on the verify path; the request memo is not bound.
	Memo []byte
}

// Oracle decides whether a note's proof is valid under params for the given
// binding digest. A nil error means accept.
type Oracle interface {
	Verify(params *Params, note *Note, digest []byte) error
}

// DecodeAsset reads a big-endian canonical BN254 scalar.
func DecodeAsset(b [32]byte) (fr.Element, error) {
	return decodeScalar(b)
}

// DecodeCommitment reads a big-endian canonical BN254 scalar.
func DecodeCommitment(b [32]byte) (fr.Element, error) {
	return decodeScalar(b)
}

func decodeScalar(b [32]byte) (fr.Element, error) {
	var e fr.Element
	if err := e.SetBytesCanonical(b[:]); err != nil {
		return fr.Element{}, fmt.Errorf("%w: %v", ErrInvalidElement, err)
	}
	return e, nil
}

// UnmarshalProof decodes exactly ProofSize bytes. Every point must be on the
// curve and in the prime-order subgroup.
func UnmarshalProof(b []byte) (*groth16bn254.Proof, error) {
	if len(b) != ProofSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidProof, len(b), ProofSize)
	}
	var p groth16bn254.Proof
	off := 0
	if _, err := p.Ar.SetBytes(b[off : off+bn254.SizeOfG1AffineCompressed]); err != nil {
		return nil, fmt.Errorf("%w: Ar: %v", ErrInvalidProof, err)
	}
	off += bn254.SizeOfG1AffineCompressed
	if _, err := p.Bs.SetBytes(b[off : off+bn254.SizeOfG2AffineCompressed]); err != nil {
		return nil, fmt.Errorf("%w: Bs: %v", ErrInvalidProof, err)
	}
	off += bn254.SizeOfG2AffineCompressed
	if _, err := p.Krs.SetBytes(b[off : off+bn254.SizeOfG1AffineCompressed]); err != nil {
		return nil, fmt.Errorf("%w: Krs: %v", ErrInvalidProof, err)
	}
	return &p, nil
}

// MarshalProof is the inverse of UnmarshalProof. Commitment extensions are
// not representable and are rejected.
func MarshalProof(p *groth16bn254.Proof) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil proof", ErrInvalidProof)
	}
	if len(p.Commitments) != 0 {
		return nil, fmt.Errorf("%w: proof carries %d commitments", ErrInvalidProof, len(p.Commitments))
	}
	out := make([]byte, 0, ProofSize)
	ar := p.Ar.Bytes()
	bs := p.Bs.Bytes()
	krs := p.Krs.Bytes()
	out = append(out, ar[:]...)
	out = append(out, bs[:]...)
	out = append(out, krs[:]...)
	return out, nil
}

// BindingDigest is SHA3-512 over the request's binding hash.
func BindingDigest(bindingHash [32]byte) []byte {
	h := sha3.New512()
	h.Write(bindingHash[:])
	return h.Sum(nil)
}

// BuildNote runs the decode steps for one request. The returned error is
// always a *deposit.Error for the request index.
func BuildNote(req deposit.Request) (*Note, error) {
	if req.Amount == nil || req.Amount.BitLen() > MaxAmountBits {
		return nil, deposit.RequestError(deposit.KindProofVerificationFailed, req.Index)
	}
	asset, err := DecodeAsset(req.Asset)
	if err != nil {
		return nil, deposit.RequestError(deposit.KindAssetDecodeError, req.Index)
	}
	commitment, err := DecodeCommitment(req.Output)
	if err != nil {
		return nil, deposit.RequestError(deposit.KindParseError, req.Index)
	}
	proof, err := UnmarshalProof(req.Proof)
	if err != nil {
		return nil, deposit.RequestError(deposit.KindProofDecodeError, req.Index)
	}
	return &Note{
		Asset:      asset,
		Amount:     new(uint256.Int).Set(req.Amount),
		Commitment: commitment,
		Proof:      proof,
		Memo:       []byte{},
	}, nil
}

// VerifyRequest verifies one deposit request against params.
func VerifyRequest(params *Params, oracle Oracle, req deposit.Request) error {
	_, err := verify(params, oracle, req)
	return err
}

// Verifier is VerifyRequest bound to a parameter set and oracle, with oracle
// diagnostics logged at debug level.
type Verifier struct {
	params *Params
	oracle Oracle
	log    *slog.Logger
}

func NewVerifier(params *Params, oracle Oracle, log *slog.Logger) (*Verifier, error) {
	if params == nil || params.vk == nil {
		return nil, fmt.Errorf("%w: nil params", ErrInvalidParams)
	}
	if oracle == nil {
		return nil, ErrNilOracle
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Verifier{params: params, oracle: oracle, log: log}, nil
}

func (v *Verifier) Params() *Params { return v.params }

func (v *Verifier) Verify(req deposit.Request) error {
	detail, err := verify(v.params, v.oracle, req)
	if err != nil {
		attrs := []any{"index", req.Index, "kind", deposit.KindOf(err).String()}
		if detail != nil {
			attrs = append(attrs, "detail", detail.Error())
		}
		v.log.Debug("deposit request rejected", attrs...)
	}
	return err
}

// verify returns the taxonomy error and, separately, the oracle's own error.
func verify(params *Params, oracle Oracle, req deposit.Request) (detail error, err error) {
	note, err := BuildNote(req)
	if err != nil {
		return nil, err
	}
	if params == nil || oracle == nil {
		return ErrNilOracle, deposit.RequestError(deposit.KindProofVerificationFailed, req.Index)
	}
	if detail := callOracle(oracle, params, note, BindingDigest(req.BindingHash)); detail != nil {
		return detail, deposit.RequestError(deposit.KindProofVerificationFailed, req.Index)
	}
	return nil, nil
}

func callOracle(oracle Oracle, params *Params, note *Note, digest []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("oracle panicked: %v", r)
		}
	}()
	return oracle.Verify(params, note, digest)
}
