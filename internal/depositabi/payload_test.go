package depositabi

import (
	"bytes"
	"encoding/hex"
	"errors"
	"math/big"
	"os"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/holiman/uint256"
	"github.com/zkledger/anondeposit/internal/deposit"
)

func mustReadVector(t *testing.T, name string) []byte {
	t.Helper()

	raw, err := os.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	b, err := ParseHex(string(raw))
	if err != nil {
		t.Fatalf("ParseHex(%s): %v", name, err)
	}
	return b
}

func sampleBatch(n int) deposit.Batch {
	b := deposit.Batch{
		Outputs:       make([][32]byte, n),
		Assets:        make([][32]byte, n),
		Amounts:       make([]*uint256.Int, n),
		Proofs:        make([][]byte, n),
		Memos:         make([][]byte, n),
		BindingHashes: make([][32]byte, n),
	}
	for i := 0; i < n; i++ {
		b.Outputs[i][31] = byte(0x10 + i)
		b.Assets[i][31] = byte(0x20 + i)
		b.Amounts[i] = uint256.NewInt(uint64(1000 * (i + 1)))
		b.Proofs[i] = bytes.Repeat([]byte{byte(0x30 + i)}, 128)
		b.Memos[i] = []byte{0x40, byte(i)}
		b.BindingHashes[i][0] = byte(0x50 + i)
	}
	return b
}

func TestDecode_ReferenceVectorLen1(t *testing.T) {
	t.Parallel()

	b, err := Decode(mustReadVector(t, "batch_len1.hex"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if b.Len() != 1 {
		t.Fatalf("len: got=%d want=1", b.Len())
	}
	if got := b.Gas(); got != 50000 {
		t.Fatalf("gas: got=%d want=50000", got)
	}
	if got := hex.EncodeToString(b.Outputs[0][:]); got != "2e5cee2ca3c56caf722797738332415647acb7cdc28db468c20f40f422c53927" {
		t.Fatalf("output: got=%s", got)
	}
	if got := hex.EncodeToString(b.Assets[0][:]); got != "00000000000000000000000064d09e26eca6c9bf3779dbe856dad76d51840340" {
		t.Fatalf("asset: got=%s", got)
	}
	if got := b.Amounts[0].Dec(); got != "5000000000000000000" {
		t.Fatalf("amount: got=%s", got)
	}
	if len(b.Proofs[0]) != 1160 {
		t.Fatalf("proof len: got=%d want=1160", len(b.Proofs[0]))
	}
	if len(b.Memos[0]) != 129 {
		t.Fatalf("memo len: got=%d want=129", len(b.Memos[0]))
	}
	if got := hex.EncodeToString(b.BindingHashes[0][:]); got != "ad210a311d4e33e4df3536e1463bde91a7c9867b76d1e9b69ae3e93297016cbc" {
		t.Fatalf("binding hash: got=%s", got)
	}
}

func TestDecode_ReferenceVectorLen2(t *testing.T) {
	t.Parallel()

	b, err := Decode(mustReadVector(t, "batch_len2.hex"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if b.Len() != 2 {
		t.Fatalf("len: got=%d want=2", b.Len())
	}
	if got := b.Gas(); got != 100000 {
		t.Fatalf("gas: got=%d want=100000", got)
	}
}

func TestDecode_IsDeterministic(t *testing.T) {
	t.Parallel()

	data := mustReadVector(t, "batch_len2.hex")
	a, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode #1: %v", err)
	}
	b, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode #2: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("decode diverged on identical input")
	}
}

func TestDecode_DoesNotAliasInput(t *testing.T) {
	t.Parallel()

	data, err := Encode(sampleBatch(1))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := append([]byte(nil), b.Proofs[0]...)
	for i := range data {
		data[i] = 0xee
	}
	if !bytes.Equal(b.Proofs[0], want) {
		t.Fatalf("decoded proof changed after input buffer was reused")
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 3} {
		in := sampleBatch(n)
		data, err := Encode(in)
		if err != nil {
			t.Fatalf("Encode(n=%d): %v", n, err)
		}
		out, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(n=%d): %v", n, err)
		}
		if out.Len() != n {
			t.Fatalf("len: got=%d want=%d", out.Len(), n)
		}
		if got, want := out.Gas(), deposit.PerProofGas*uint64(n); got != want {
			t.Fatalf("gas: got=%d want=%d", got, want)
		}
		for i := 0; i < n; i++ {
			if out.Outputs[i] != in.Outputs[i] || out.Assets[i] != in.Assets[i] || out.BindingHashes[i] != in.BindingHashes[i] {
				t.Fatalf("fixed fields mismatch at %d", i)
			}
			if !out.Amounts[i].Eq(in.Amounts[i]) {
				t.Fatalf("amount mismatch at %d", i)
			}
			if !bytes.Equal(out.Proofs[i], in.Proofs[i]) {
				t.Fatalf("proof mismatch at %d", i)
			}
			if !bytes.Equal(out.Memos[i], in.Memos[i]) {
				t.Fatalf("memo mismatch at %d", i)
			}
		}
	}
}

func TestDecode_EmptyBatch(t *testing.T) {
	t.Parallel()

	data, err := Encode(deposit.Batch{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) != 12*32 {
		t.Fatalf("empty payload size: got=%d want=%d", len(data), 12*32)
	}
	b, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if b.Len() != 0 || b.Gas() != 0 {
		t.Fatalf("empty batch: len=%d gas=%d", b.Len(), b.Gas())
	}
}

func TestDecode_WideAmountIsKept(t *testing.T) {
	t.Parallel()

	in := sampleBatch(1)
	in.Amounts[0] = new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Amounts[0].BitLen() != 201 {
		t.Fatalf("amount bit len: got=%d want=201", out.Amounts[0].BitLen())
	}
}

func TestDecode_LengthMismatch(t *testing.T) {
	t.Parallel()

	in := sampleBatch(2)
	in.Memos = in.Memos[:1]
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, err = Decode(data)
	if !errors.Is(err, deposit.ErrWrongLengthOfArguments) {
		t.Fatalf("Decode: got=%v want=%v", err, deposit.ErrWrongLengthOfArguments)
	}
}

func TestDecode_TruncatedPayloadsFail(t *testing.T) {
	t.Parallel()

	data := mustReadVector(t, "batch_len1.hex")
	for n := 0; n < len(data); n += 31 {
		_, err := Decode(data[:n])
		if !errors.Is(err, deposit.ErrParse) {
			t.Fatalf("Decode(prefix %d): got=%v want=%v", n, err, deposit.ErrParse)
		}
	}
	_, err := Decode(data[:len(data)-1])
	if !errors.Is(err, deposit.ErrParse) {
		t.Fatalf("Decode(len-1): got=%v want=%v", err, deposit.ErrParse)
	}
}

func TestDecode_BadOffsetTable(t *testing.T) {
	t.Parallel()

	base := mustReadVector(t, "batch_len1.hex")
	for word := 0; word < 6; word++ {
		data := append([]byte(nil), base...)
		for i := word * 32; i < word*32+32; i++ {
			data[i] = 0xff
		}
		if _, err := Decode(data); !errors.Is(err, deposit.ErrParse) {
			t.Fatalf("Decode(offset %d = max): got=%v want=%v", word, err, deposit.ErrParse)
		}
	}
}

func TestDecode_FewerThanSixArrays(t *testing.T) {
	t.Parallel()

	ty, err := abi.NewType("bytes32[]", "", nil)
	if err != nil {
		t.Fatalf("abi.NewType: %v", err)
	}
	args := abi.Arguments{{Type: ty}, {Type: ty}, {Type: ty}, {Type: ty}, {Type: ty}}
	empty := [][32]byte{}
	data, err := args.Pack(empty, empty, empty, empty, empty)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if _, err := Decode(data); !errors.Is(err, deposit.ErrParse) {
		t.Fatalf("Decode: got=%v want=%v", err, deposit.ErrParse)
	}
}

func TestDecode_WrongElementShape(t *testing.T) {
	t.Parallel()

	// A proof element whose length word reaches far beyond the buffer.
	in := sampleBatch(1)
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	proofsOffset := new(big.Int).SetBytes(data[3*32 : 4*32]).Int64()
	elemOffset := new(big.Int).SetBytes(data[proofsOffset+32 : proofsOffset+64]).Int64()
	lenWord := proofsOffset + 32 + elemOffset
	for i := lenWord; i < lenWord+32; i++ {
		data[i] = 0x7f
	}
	if _, err := Decode(data); !errors.Is(err, deposit.ErrParse) {
		t.Fatalf("Decode: got=%v want=%v", err, deposit.ErrParse)
	}
}

func TestParseHex(t *testing.T) {
	t.Parallel()

	got, err := ParseHex("  0xabCD\n")
	if err != nil {
		t.Fatalf("ParseHex: %v", err)
	}
	if !bytes.Equal(got, []byte{0xab, 0xcd}) {
		t.Fatalf("ParseHex: got=%x", got)
	}
	for _, bad := range []string{"0xabc", "zz", "0xg0"} {
		if _, err := ParseHex(bad); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("ParseHex(%q): got=%v want=%v", bad, err, ErrInvalidInput)
		}
	}
}

func FuzzDecode(f *testing.F) {
	seed, err := Encode(sampleBatch(2))
	if err != nil {
		f.Fatalf("Encode: %v", err)
	}
	f.Add(seed)
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, data []byte) {
		b, err := Decode(data)
		if err != nil {
			k := deposit.KindOf(err)
			if k != deposit.KindParseError && k != deposit.KindWrongLengthOfArguments {
				t.Fatalf("unexpected kind %s", k)
			}
			return
		}
		if err := b.Validate(); err != nil {
			t.Fatalf("decoded batch failed validation: %v", err)
		}
	})
}
