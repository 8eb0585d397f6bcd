package deposit

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindCodesAreStable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		code uint32
		name string
	}{
		{KindOK, 0, "ok"},
		{KindParseError, 1, "parse_error"},
		{KindWrongLengthOfArguments, 2, "wrong_length_of_arguments"},
		{KindAssetDecodeError, 3, "asset_decode_error"},
		{KindProofDecodeError, 4, "proof_decode_error"},
		{KindProofVerificationFailed, 5, "proof_verification_failed"},
	}
	for _, tc := range tests {
		if got := tc.kind.Code(); got != tc.code {
			t.Fatalf("%s code: got=%d want=%d", tc.name, got, tc.code)
		}
		if got := tc.kind.String(); got != tc.name {
			t.Fatalf("name: got=%q want=%q", got, tc.name)
		}
		parsed, err := ParseKind(tc.name)
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", tc.name, err)
		}
		if parsed != tc.kind {
			t.Fatalf("ParseKind(%q): got=%d want=%d", tc.name, parsed, tc.kind)
		}
	}
	if Kind(6).Valid() {
		t.Fatalf("kind 6 must not be valid")
	}
	if _, err := ParseKind("boom"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestRequestErrorMatchesSentinel(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", RequestError(KindProofDecodeError, 3))
	if !errors.Is(err, ErrProofDecode) {
		t.Fatalf("expected errors.Is ErrProofDecode")
	}
	if errors.Is(err, ErrAssetDecode) {
		t.Fatalf("unexpected match against ErrAssetDecode")
	}
	if got := IndexOf(err); got != 3 {
		t.Fatalf("IndexOf: got=%d want=3", got)
	}
	if got := KindOf(err); got != KindProofDecodeError {
		t.Fatalf("KindOf: got=%s", got)
	}
	if !strings.Contains(err.Error(), "request 3: proof_decode_error") {
		t.Fatalf("message: %q", err.Error())
	}
}

func TestKindOf_ForeignErrorStaysInTaxonomy(t *testing.T) {
	t.Parallel()

	if got := KindOf(nil); got != KindOK {
		t.Fatalf("KindOf(nil): got=%s", got)
	}
	if got := KindOf(errors.New("pairing check failed")); got != KindProofVerificationFailed {
		t.Fatalf("KindOf(foreign): got=%s", got)
	}
	if got := IndexOf(errors.New("x")); got != -1 {
		t.Fatalf("IndexOf(foreign): got=%d", got)
	}
}
