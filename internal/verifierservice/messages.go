package verifierservice

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/zkledger/anondeposit/internal/receipt"
)

const (
	RequestVersion = "deposits.verify.v1"
	FailureVersion = "deposits.verify.failure.v1"
)

var (
	ErrInvalidConfig  = errors.New("verifierservice: invalid config")
	ErrInvalidMessage = errors.New("verifierservice: invalid message")
)

// Failure codes carried by failure messages.
const (
	CodeInvalidPayload = "invalid_payload"
	CodeInternal       = "verifier_internal_error"
)

// Request asks for one batch payload to be verified. BatchID is optional on
// the wire and, when present, must equal the payload's keccak256.
type Request struct {
	BatchID common.Hash
	Payload []byte
}

func EncodeRequest(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidMessage)
	}
	return json.Marshal(struct {
		Version string `json:"version"`
		BatchID string `json:"batch_id"`
		Payload string `json:"payload"`
	}{
		Version: RequestVersion,
		BatchID: receipt.BatchID(payload).Hex(),
		Payload: "0x" + hex.EncodeToString(payload),
	})
}

func DecodeRequest(b []byte) (Request, error) {
	var raw struct {
		Version string `json:"version"`
		BatchID string `json:"batch_id"`
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if raw.Version != RequestVersion {
		return Request{}, fmt.Errorf("%w: unsupported version %q", ErrInvalidMessage, raw.Version)
	}
	s := strings.TrimSpace(raw.Payload)
	if !strings.HasPrefix(s, "0x") {
		return Request{}, fmt.Errorf("%w: payload must be 0x hex", ErrInvalidMessage)
	}
	payload, err := hex.DecodeString(s[2:])
	if err != nil || len(payload) == 0 {
		return Request{}, fmt.Errorf("%w: payload must be non-empty hex", ErrInvalidMessage)
	}

	id := receipt.BatchID(payload)
	if raw.BatchID != "" {
		claimed, err := decodeHash32(raw.BatchID)
		if err != nil {
			return Request{}, err
		}
		if claimed != id {
			return Request{}, fmt.Errorf("%w: batch_id %s does not match payload %s", ErrInvalidMessage, claimed.Hex(), id.Hex())
		}
	}
	return Request{BatchID: id, Payload: payload}, nil
}

// Failure reports a message the service could not turn into a receipt.
type Failure struct {
	BatchID   common.Hash
	ErrorCode string
	Retryable bool
	Message   string
}

type wireFailure struct {
	Version   string `json:"version"`
	BatchID   string `json:"batch_id,omitempty"`
	ErrorCode string `json:"error_code"`
	Retryable bool   `json:"retryable"`
	Message   string `json:"message,omitempty"`
}

func EncodeFailure(f Failure) ([]byte, error) {
	if strings.TrimSpace(f.ErrorCode) == "" {
		return nil, fmt.Errorf("%w: missing error_code", ErrInvalidMessage)
	}
	w := wireFailure{
		Version:   FailureVersion,
		ErrorCode: f.ErrorCode,
		Retryable: f.Retryable,
		Message:   f.Message,
	}
	if (f.BatchID != common.Hash{}) {
		w.BatchID = f.BatchID.Hex()
	}
	return json.Marshal(w)
}

func DecodeFailure(b []byte) (Failure, error) {
	var w wireFailure
	if err := json.Unmarshal(b, &w); err != nil {
		return Failure{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if w.Version != FailureVersion {
		return Failure{}, fmt.Errorf("%w: unsupported version %q", ErrInvalidMessage, w.Version)
	}
	if strings.TrimSpace(w.ErrorCode) == "" {
		return Failure{}, fmt.Errorf("%w: missing error_code", ErrInvalidMessage)
	}
	f := Failure{ErrorCode: w.ErrorCode, Retryable: w.Retryable, Message: w.Message}
	if w.BatchID != "" {
		id, err := decodeHash32(w.BatchID)
		if err != nil {
			return Failure{}, err
		}
		f.BatchID = id
	}
	return f, nil
}

func decodeHash32(v string) (common.Hash, error) {
	s := strings.TrimSpace(v)
	if !strings.HasPrefix(s, "0x") || len(s) != 2+2*common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: hash must be 32-byte 0x hex", ErrInvalidMessage)
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: invalid hash", ErrInvalidMessage)
	}
	return common.BytesToHash(b), nil
}
