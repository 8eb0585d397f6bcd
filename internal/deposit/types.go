package deposit

import (
	"github.com/holiman/uint256"
)

// PerProofGas is the protocol cost charged for each deposit request in a batch.
const PerProofGas uint64 = 50000

// Batch is a decoded deposit batch: six parallel sequences indexed by request.
// A Batch is read-only once decoded.
type Batch struct {
	Outputs [][32]byte
	Assets  [][32]byte
	Amounts []*uint256.Int
	Proofs  [][]byte
	// Memos are carried through decoding but are not bound into verification.
	Memos         [][]byte
	BindingHashes [][32]byte
}

// Request is the i-th tuple of a Batch. It aliases the batch's backing arrays.
type Request struct {
	Index       int
	Output      [32]byte
	Asset       [32]byte
	Amount      *uint256.Int
	Proof       []byte
	Memo        []byte
	BindingHash [32]byte
}

// Len is the request count N. It is only meaningful after Validate succeeds.
func (b *Batch) Len() int {
	return len(b.Outputs)
}

// Validate checks that all six sequences share one length.
func (b *Batch) Validate() error {
	n := len(b.Outputs)
	if n == len(b.Assets) &&
		n == len(b.Amounts) &&
		n == len(b.Proofs) &&
		n == len(b.Memos) &&
		n == len(b.BindingHashes) {
		return nil
	}
	return &Error{Kind: KindWrongLengthOfArguments, Index: -1}
}

// Request projects the i-th request. The caller must have validated the batch.
func (b *Batch) Request(i int) Request {
	return Request{
		Index:       i,
		Output:      b.Outputs[i],
		Asset:       b.Assets[i],
		Amount:      b.Amounts[i],
		Proof:       b.Proofs[i],
		Memo:        b.Memos[i],
		BindingHash: b.BindingHashes[i],
	}
}

// Gas is the verification cost of the batch. It does not depend on whether or
// how the batch was checked.
func (b *Batch) Gas() uint64 {
	return PerProofGas * uint64(len(b.Assets))
}
