// Package fhe defines the ciphertext capability used by the credit registry:
// opaque handles plus a pluggable provider that can encrypt, decrypt and
// evaluate arithmetic, comparisons and oblivious selects over those handles
// without exposing plaintext to callers.
package fhe

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrClosed        = errors.New("fhe: provider closed")
	ErrInvalidHandle = errors.New("fhe: invalid ciphertext handle")
	ErrValueRange    = errors.New("fhe: value out of range for bit width")
)

// Ciphertext is an opaque handle to an encrypted value. Payload is only
// meaningful to the provider that produced it.
type Ciphertext struct {
	ID       string `json:"id"`
	BitWidth uint8  `json:"bit_width"`
	Payload  []byte `json:"payload"`
}

func (c Ciphertext) IsZero() bool {
	return c.ID == "" && len(c.Payload) == 0
}

// Validate checks handle integrity without touching the payload contents.
func (c Ciphertext) Validate() error {
	if _, err := uuid.Parse(c.ID); err != nil {
		return fmt.Errorf("%w: bad id", ErrInvalidHandle)
	}
	if len(c.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidHandle)
	}
	switch c.BitWidth {
	case 1, 8, 16, 32, 64:
		return nil
	default:
		return fmt.Errorf("%w: unsupported bit width %d", ErrInvalidHandle, c.BitWidth)
	}
}

func (c Ciphertext) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID       string `json:"id"`
		BitWidth uint8  `json:"bit_width"`
		Payload  string `json:"payload"`
	}{c.ID, c.BitWidth, base64.StdEncoding.EncodeToString(c.Payload)})
}

func (c *Ciphertext) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       string `json:"id"`
		BitWidth uint8  `json:"bit_width"`
		Payload  string `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	payload, err := base64.StdEncoding.DecodeString(raw.Payload)
	if err != nil {
		return fmt.Errorf("%w: payload not base64", ErrInvalidHandle)
	}
	c.ID = raw.ID
	c.BitWidth = raw.BitWidth
	c.Payload = payload
	return nil
}

// Provider owns key material and produces ciphertext handles. Providers are
// constructed explicitly and torn down via Close; there is no package-level
// instance.
type Provider interface {
	Encrypt(value int64, bitWidth uint8) (Ciphertext, error)
	Decrypt(ct Ciphertext) (int64, error)
	Evaluator() Evaluator
	Close() error
}

// Evaluator computes over ciphertext handles. Boolean results are encrypted
// 0/1 values with bit width 1. Select returns a or b depending on cond
// without revealing which branch was taken.
type Evaluator interface {
	Add(a, b Ciphertext) (Ciphertext, error)
	Sub(a, b Ciphertext) (Ciphertext, error)
	AddPlain(a Ciphertext, v int64) (Ciphertext, error)
	Gt(a, b Ciphertext) (Ciphertext, error)
	GtPlain(a Ciphertext, v int64) (Ciphertext, error)
	LtPlain(a Ciphertext, v int64) (Ciphertext, error)
	EqPlain(a Ciphertext, v int64) (Ciphertext, error)
	Select(cond, a, b Ciphertext) (Ciphertext, error)
}

func checkRange(value int64, bitWidth uint8) error {
	if bitWidth >= 64 {
		return nil
	}
	limit := int64(1) << bitWidth
	if value < 0 || value >= limit {
		return fmt.Errorf("%w: %d does not fit %d bits", ErrValueRange, value, bitWidth)
	}
	return nil
}

func newHandleID() string {
	return uuid.New().String()
}
